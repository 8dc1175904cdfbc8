package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	texts  []string
	binary [][]byte
}

func (h *recordingHandler) HandleText(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, string(frame))
}

func (h *recordingHandler) HandleBinary(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.binary = append(h.binary, frame)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.texts), len(h.binary)
}

// pushServer sends one text and one binary frame per connection, then hangs up.
func pushServer(t *testing.T, connects *atomic.Int32) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("clientId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		connects.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "status", "data": {}}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 1, 0, 0, 0, 2, 0x89, 'P', 'N', 'G'})
		time.Sleep(20 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?clientId=abc"
}

// ============ Upstream Tests ============

func TestUpstream_RoutesFramesAndReconnects(t *testing.T) {
	var connects atomic.Int32
	url := pushServer(t, &connects)
	handler := &recordingHandler{}

	var mu sync.Mutex
	var states []bool
	up := NewUpstream(url, handler, 5*time.Millisecond, 20*time.Millisecond, zerolog.Nop(),
		WithStateChange(func(c bool) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, c)
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- up.Run(ctx) }()

	require.Eventually(t, func() bool { return connects.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		texts, bins := handler.counts()
		return texts >= 2 && bins >= 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.False(t, up.Connected())

	handler.mu.Lock()
	assert.Equal(t, `{"type": "status", "data": {}}`, handler.texts[0])
	assert.Equal(t, byte(0x89), handler.binary[0][8])
	handler.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 2)
	assert.True(t, states[0])
	assert.False(t, states[1])
}

func TestUpstream_RetriesUntilCancelled(t *testing.T) {
	handler := &recordingHandler{}
	up := NewUpstream("ws://127.0.0.1:1/ws?clientId=abc", handler, time.Millisecond, 2*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := up.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, up.Connected())
}

func TestUpstream_BackoffBounds(t *testing.T) {
	up := NewUpstream("ws://unused", &recordingHandler{}, 0, -1, zerolog.Nop())

	assert.Equal(t, 500*time.Millisecond, up.minBackoff)
	assert.Equal(t, up.minBackoff, up.maxBackoff)
}
