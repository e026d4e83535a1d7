package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var (
	// ErrSendQueueFull is returned by Send when the client is not draining
	// its outbound queue fast enough.
	ErrSendQueueFull = errors.New("relay: send queue full")
	// ErrSocketClosed is returned by Send after the socket has been closed.
	ErrSocketClosed = errors.New("relay: socket closed")
	// ErrRateLimited is reported when a client sends frames faster than allowed.
	ErrRateLimited = errors.New("relay: inbound frame rate exceeded")
)

// CloseKind classifies how a receive loop ended.
type CloseKind int

const (
	// ClosedByPeer means the client sent a normal close frame.
	ClosedByPeer CloseKind = iota
	// TransportFault covers abnormal closes, read errors, timeouts and
	// policy violations.
	TransportFault
	// ClosedLocally means the server closed the socket, e.g. during shutdown
	// or after a failed broadcast.
	ClosedLocally
)

func (k CloseKind) String() string {
	switch k {
	case ClosedByPeer:
		return "peer"
	case TransportFault:
		return "fault"
	case ClosedLocally:
		return "local"
	default:
		return "unknown"
	}
}

// ReceiveError is returned by Socket.Receive once the connection is done.
type ReceiveError struct {
	Kind CloseKind
	Code int
	Err  error
}

func (e *ReceiveError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("relay: connection %s (code %d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("relay: connection %s: %v", e.Kind, e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// SocketOptions tunes a Socket. Zero values fall back to defaults.
type SocketOptions struct {
	PongWait     time.Duration
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	ReadLimit    int64
	FrameRate    float64
	FrameBurst   int
}

func (o SocketOptions) withDefaults() SocketOptions {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = 1
	}
	return o
}

type closeFrame struct {
	code   int
	reason string
}

// Socket adapts a gorilla websocket connection to Conn. Writes are owned by a
// single goroutine started in NewSocket; reads belong to the caller of
// Receive.
type Socket struct {
	id      string
	ws      *websocket.Conn
	opts    SocketOptions
	limiter *rate.Limiter

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	frame     closeFrame
	local     bool
}

// NewSocket wraps ws and starts its write pump.
func NewSocket(ws *websocket.Conn, opts SocketOptions) *Socket {
	opts = opts.withDefaults()

	s := &Socket{
		id:   uuid.NewString(),
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}
	if opts.FrameRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.FrameRate), opts.FrameBurst)
	}

	ws.SetReadLimit(opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go s.writePump()
	return s
}

// ID implements Conn.
func (s *Socket) ID() string { return s.id }

// Send implements Conn. It queues payload without blocking.
func (s *Socket) Send(payload []byte) error {
	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSocketClosed
	default:
		return ErrSendQueueFull
	}
}

// Close implements Conn with a going-away close frame.
func (s *Socket) Close() error {
	return s.CloseWith(websocket.CloseGoingAway, "server closing connection")
}

// CloseWith closes the socket with the given close code. Only the first call
// has an effect.
func (s *Socket) CloseWith(code int, reason string) error {
	s.shutdown(code, reason, true)
	return nil
}

func (s *Socket) shutdown(code int, reason string, local bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.frame = closeFrame{code: code, reason: reason}
		s.local = local
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the socket starts shutting down.
func (s *Socket) Done() <-chan struct{} { return s.done }

func (s *Socket) closedLocally() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Receive blocks for the next data frame. When the connection ends it
// returns a *ReceiveError describing why.
func (s *Socket) Receive() ([]byte, error) {
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return nil, s.classify(err)
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.shutdown(websocket.ClosePolicyViolation, "rate limit exceeded", false)
		return nil, &ReceiveError{Kind: TransportFault, Code: websocket.ClosePolicyViolation, Err: ErrRateLimited}
	}
	return data, nil
}

func (s *Socket) classify(err error) *ReceiveError {
	if s.closedLocally() {
		return &ReceiveError{Kind: ClosedLocally, Err: err}
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return &ReceiveError{Kind: ClosedByPeer, Code: ce.Code, Err: err}
		}
		return &ReceiveError{Kind: TransportFault, Code: ce.Code, Err: err}
	}
	return &ReceiveError{Kind: TransportFault, Err: err}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.shutdown(websocket.CloseAbnormalClosure, "write failed", false)
				return
			}
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				s.shutdown(websocket.CloseAbnormalClosure, "ping failed", false)
				return
			}
		case <-s.done:
			s.mu.Lock()
			frame := s.frame
			s.mu.Unlock()
			if frame.code != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(frame.code, frame.reason)
				_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
			}
			return
		}
	}
}
