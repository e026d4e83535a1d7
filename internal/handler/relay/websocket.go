package relay

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/relay"
	"github.com/healthbridge/translator/backend/pkg/utils"
)

// Handler 把 WebSocket 与 SSE 客户端绑定到会话的中继组。
type Handler struct {
	registry  *relay.Registry
	metrics   *relay.Metrics
	opts      relay.SocketOptions
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	heartbeat time.Duration
}

// New 创建中继处理器。metrics 可以为 nil。
func New(registry *relay.Registry, metrics *relay.Metrics, opts relay.SocketOptions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:  registry,
		metrics:   metrics,
		opts:      opts,
		logger:    logger,
		heartbeat: heartbeatInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册中继路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{conversationID}", h.handleWebSocket)
	r.Get("/events/{conversationID}", h.handleEvents)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if h.registry.Closing() {
		utils.RespondError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		h.logger.Debug("websocket upgrade failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}

	sock := relay.NewSocket(ws, h.opts)
	h.registry.Connect(sock, conversationID)
	h.logger.Info("websocket connected",
		zap.String("conversation_id", conversationID),
		zap.String("conn_id", sock.ID()),
		zap.String("remote", r.RemoteAddr),
	)

	h.serve(sock, conversationID)
}

// serve 读取客户端帧直到连接结束，结束时恰好注销一次。
func (h *Handler) serve(sock *relay.Socket, conversationID string) {
	kind := relay.TransportFault
	defer func() {
		h.registry.Disconnect(sock, conversationID)
		_ = sock.Close()
		h.metrics.SessionEnded(kind)
	}()

	fields := []zap.Field{
		zap.String("conversation_id", conversationID),
		zap.String("conn_id", sock.ID()),
	}

	for {
		data, err := sock.Receive()
		if err != nil {
			var rerr *relay.ReceiveError
			if errors.As(err, &rerr) {
				kind = rerr.Kind
			}
			switch kind {
			case relay.ClosedByPeer, relay.ClosedLocally:
				h.logger.Info("websocket closed", append(fields, zap.Stringer("kind", kind))...)
			default:
				h.logger.Warn("websocket fault", append(fields, zap.Error(err))...)
			}
			return
		}

		// 客户端上行帧目前不参与业务，消息经由 POST /messages 进入并广播
		h.metrics.FrameReceived()
		h.logger.Debug("websocket frame ignored", append(fields, zap.Int("bytes", len(data)))...)
	}
}
