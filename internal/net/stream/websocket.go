package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// WSSource reads command messages from a websocket producer, one message per
// frame.
type WSSource struct {
	base
	dialer *websocket.Dialer
}

// NewWSSource builds a source. A nil dialer uses websocket.DefaultDialer.
func NewWSSource(cfg Config, dialer *websocket.Dialer) *WSSource {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WSSource{base: newBase(cfg, "ws"), dialer: dialer}
}

// Run dials the producer and reads until the connection ends. Cancelling ctx
// returns nil; a normal close yields ErrStreamClosed.
func (s *WSSource) Run(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return s.fail(ctx, fmt.Errorf("stream: dial: %w", err))
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return s.fail(ctx, ErrStreamClosed)
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return s.fail(ctx, fmt.Errorf("%w: code %d %s", ErrStreamClosed, closeErr.Code, closeErr.Text))
			}
			return s.fail(ctx, fmt.Errorf("stream: read: %w", err))
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		s.deliver(ctx, payload)
	}
}
