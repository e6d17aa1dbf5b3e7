package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	defaultMaxReconnect = 10
	maxBackoff          = 30 * time.Second
)

// WebsocketSource reads feed messages from a detector serving a websocket.
// A message may hold several newline separated lines.
type WebsocketSource struct {
	URL    string
	Logger *slog.Logger
	// MaxReconnect bounds consecutive failed dials; 0 uses the default.
	MaxReconnect int
	// Backoff is the first reconnect delay; it doubles up to 30s.
	Backoff time.Duration
}

// ErrReconnectExhausted is returned when the detector stays unreachable.
var ErrReconnectExhausted = errors.New("feed websocket: reconnect attempts exhausted")

func (s *WebsocketSource) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Run reads until ctx ends, reconnecting with exponential backoff when the
// connection drops.
func (s *WebsocketSource) Run(ctx context.Context, fn LineFunc) error {
	maxAttempts := s.MaxReconnect
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnect
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	failures := 0
	for {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, s.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= maxAttempts {
				return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
			}
			delay := backoff << (failures - 1)
			if delay > maxBackoff || delay <= 0 {
				delay = maxBackoff
			}
			s.logger().Warn("Feed dial failed, retrying", "url", s.URL, "attempt", failures, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		failures = 0
		s.logger().Info("Feed connected", "url", s.URL)
		err = s.read(ctx, conn, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var closeErr *ws.CloseError
		if errors.As(err, &closeErr) && closeErr.Code == ws.CloseNormalClosure {
			s.logger().Info("Feed closed by detector")
			return nil
		}
		if err != nil && !isReadError(err) {
			// a LineFunc error stops the feed
			return err
		}
		s.logger().Warn("Feed connection lost", "error", err)
	}
}

type readError struct{ err error }

func (e readError) Error() string { return e.err.Error() }
func (e readError) Unwrap() error { return e.err }

func isReadError(err error) bool {
	var re readError
	return errors.As(err, &re)
}

func (s *WebsocketSource) read(ctx context.Context, conn *ws.Conn, fn LineFunc) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var closeErr *ws.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == ws.CloseNormalClosure {
				return err
			}
			return readError{err}
		}
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := fn(line); err != nil {
				return err
			}
		}
	}
}
