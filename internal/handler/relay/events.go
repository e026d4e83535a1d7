package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/relay"
	"github.com/healthbridge/translator/backend/pkg/utils"
)

const (
	eventBuffer       = 32
	heartbeatInterval = 15 * time.Second
)

// eventConn 是 SSE 客户端在中继中的句柄。
type eventConn struct {
	id        string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newEventConn() *eventConn {
	return &eventConn{
		id:   uuid.NewString(),
		send: make(chan []byte, eventBuffer),
		done: make(chan struct{}),
	}
}

func (c *eventConn) ID() string { return c.id }

func (c *eventConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return relay.ErrSocketClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return relay.ErrSendQueueFull
	}
}

func (c *eventConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// handleEvents 为无法使用 WebSocket 的客户端提供 SSE 推送。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if h.registry.Closing() {
		utils.RespondError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	conn := newEventConn()
	h.registry.Connect(conn, conversationID)

	kind := relay.TransportFault
	defer func() {
		h.registry.Disconnect(conn, conversationID)
		_ = conn.Close()
		h.metrics.SessionEnded(kind)
	}()

	fields := []zap.Field{
		zap.String("conversation_id", conversationID),
		zap.String("conn_id", conn.ID()),
	}
	h.logger.Info("event stream opened", fields...)

	ready, _ := json.Marshal(map[string]string{"conversation_id": conversationID})
	if err := utils.WriteSSE(w, flusher, "ready", ready); err != nil {
		h.logger.Warn("event stream fault", append(fields, zap.Error(err))...)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			kind = relay.ClosedByPeer
			h.logger.Info("event stream closed", fields...)
			return
		case <-conn.done:
			kind = relay.ClosedLocally
			h.logger.Info("event stream closed by server", fields...)
			return
		case payload := <-conn.send:
			if err := utils.WriteSSE(w, flusher, "message", payload); err != nil {
				h.logger.Warn("event stream fault", append(fields, zap.Error(err))...)
				return
			}
		case <-ticker.C:
			if err := utils.WriteSSEComment(w, flusher, "ping"); err != nil {
				h.logger.Warn("event stream fault", append(fields, zap.Error(err))...)
				return
			}
		}
	}
}
