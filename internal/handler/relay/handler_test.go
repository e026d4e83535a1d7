package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/relay"
)

type testServer struct {
	url      string
	registry *relay.Registry
	// countAtReturn receives the group size observed right after a handler returns
	countAtReturn chan int
	promReg       *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	promReg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(promReg)
	registry := relay.NewRegistry(zap.NewNop(), metrics)

	r := chi.NewRouter()
	New(registry, metrics, relay.SocketOptions{PongWait: 5 * time.Second}, zap.NewNop()).RegisterRoutes(r)

	ts := &testServer{registry: registry, countAtReturn: make(chan int, 16), promReg: promReg}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.ServeHTTP(w, req)
		ts.countAtReturn <- registry.Count(path.Base(req.URL.Path))
	}))
	t.Cleanup(srv.Close)
	ts.url = srv.URL
	return ts
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.url, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketHelloThenClose(t *testing.T) {
	ts := newTestServer(t)
	client := ts.dial(t, "/ws/room-1")

	require.Eventually(t, func() bool { return ts.registry.Count("room-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case n := <-ts.countAtReturn:
		assert.Equal(t, 0, n, "connection must be deregistered before the handler returns")
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return")
	}
	assert.Equal(t, 0, ts.registry.GroupCount())
}

func TestWebSocketAbruptDisconnectDeregisters(t *testing.T) {
	ts := newTestServer(t)
	client := ts.dial(t, "/ws/room-2")
	require.Eventually(t, func() bool { return ts.registry.Count("room-2") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.UnderlyingConn().Close())

	select {
	case n := <-ts.countAtReturn:
		assert.Equal(t, 0, n)
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return")
	}
}

func TestWebSocketBroadcastStaysInConversation(t *testing.T) {
	ts := newTestServer(t)
	a1 := ts.dial(t, "/ws/A")
	a2 := ts.dial(t, "/ws/A")
	b := ts.dial(t, "/ws/B")
	require.Eventually(t, func() bool {
		return ts.registry.Count("A") == 2 && ts.registry.Count("B") == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, ts.registry.Broadcast("A", []byte(`{"id":"m1"}`)))

	for _, c := range []*websocket.Conn{a1, a2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"m1"}`, string(data))
	}

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "B must not receive A's message")
}

func TestWebSocketRefusedWhileShuttingDown(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ts.registry.Shutdown(ctx))

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.url, "http")+"/ws/room", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShutdownClosesLiveSockets(t *testing.T) {
	ts := newTestServer(t)
	client := ts.dial(t, "/ws/room-3")
	require.Eventually(t, func() bool { return ts.registry.Count("room-3") == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, ts.registry.Shutdown(ctx))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case <-ts.countAtReturn:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return")
	}
	closes, err := ts.promReg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, closes)
}

func TestEventStreamReceivesBroadcast(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.url+"/events/room-4", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return event, data
			}
		}
	}

	event, data := readEvent()
	assert.Equal(t, "ready", event)
	assert.JSONEq(t, `{"conversation_id":"room-4"}`, data)

	require.Eventually(t, func() bool { return ts.registry.Count("room-4") == 1 }, 2*time.Second, 10*time.Millisecond)
	ts.registry.Broadcast("room-4", []byte(`{"id":"m9"}`))

	event, data = readEvent()
	assert.Equal(t, "message", event)
	assert.JSONEq(t, `{"id":"m9"}`, data)

	cancel()
	require.Eventually(t, func() bool { return ts.registry.Count("room-4") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFramesAreCounted(t *testing.T) {
	ts := newTestServer(t)
	client := ts.dial(t, "/ws/room-5")

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("one")))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("two")))
	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case <-ts.countAtReturn:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return")
	}

	count, err := testutil.GatherAndCount(ts.promReg, "translator_relay_frames_received_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = testutil.GatherAndCount(ts.promReg, "translator_relay_closes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEventStreamHeartbeatIsComment(t *testing.T) {
	registry := relay.NewRegistry(zap.NewNop(), nil)
	h := New(registry, nil, relay.SocketOptions{}, zap.NewNop())
	h.heartbeat = 20 * time.Millisecond

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/room-9", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var events []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
		if line == ": ping" {
			break
		}
	}
	assert.Equal(t, []string{"ready"}, events)
}
