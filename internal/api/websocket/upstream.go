package websocket

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// FrameHandler consumes push-channel frames. notify.Router implements it.
type FrameHandler interface {
	HandleText(frame []byte)
	HandleBinary(frame []byte)
}

// UpstreamOption configures an Upstream.
type UpstreamOption func(*Upstream)

// WithDialer replaces the default gorilla dialer.
func WithDialer(d *websocket.Dialer) UpstreamOption {
	return func(u *Upstream) { u.dialer = d }
}

// WithStateChange registers fn to be called whenever the connection goes up or down.
func WithStateChange(fn func(connected bool)) UpstreamOption {
	return func(u *Upstream) { u.onState = fn }
}

// Upstream keeps a push-channel connection to the node-graph server open and feeds every frame
// to a FrameHandler. Dropped connections are retried with exponential backoff.
type Upstream struct {
	url        string
	handler    FrameHandler
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	onState    func(bool)
	connected  atomic.Bool
	logger     zerolog.Logger
}

func NewUpstream(url string, handler FrameHandler, minBackoff, maxBackoff time.Duration, logger zerolog.Logger, opts ...UpstreamOption) *Upstream {
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	u := &Upstream{
		url:        url,
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		logger:     logger.With().Str("component", "upstream").Logger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Connected reports whether the push channel is currently open.
func (u *Upstream) Connected() bool {
	return u.connected.Load()
}

// Run connects and reconnects until ctx is done. It always returns ctx's error.
func (u *Upstream) Run(ctx context.Context) error {
	backoff := u.minBackoff
	for {
		conn, _, err := u.dialer.DialContext(ctx, u.url, nil)
		if err == nil {
			u.logger.Info().Str("url", u.url).Msg("Push channel connected")
			backoff = u.minBackoff
			u.setConnected(true)
			err = u.serve(ctx, conn)
			u.setConnected(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		u.logger.Warn().Err(err).Dur("retryIn", backoff).Msg("Push channel unavailable")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, u.maxBackoff)
	}
}

// serve reads frames until the connection drops or ctx is done.
func (u *Upstream) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return errors.New("push channel closed by server")
			}
			return err
		}
		switch kind {
		case websocket.TextMessage:
			u.handler.HandleText(frame)
		case websocket.BinaryMessage:
			u.handler.HandleBinary(frame)
		}
	}
}

func (u *Upstream) setConnected(v bool) {
	if u.connected.Swap(v) == v {
		return
	}
	if u.onState != nil {
		u.onState(v)
	}
}
