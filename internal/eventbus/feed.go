package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Feed reads events from a WebSocket connection and dispatches them to a Bus.
// It does not reconnect on its own; once a connection drops or is closed, the next
// Connect dials a fresh one.
type Feed struct {
	url    string
	bus    *Bus
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewFeed creates a feed for the ws:// or wss:// url.
func NewFeed(url string, bus *Bus, logger zerolog.Logger) *Feed {
	return &Feed{
		url:    url,
		bus:    bus,
		logger: logger.With().Str("component", "event-feed").Logger(),
		done:   make(chan struct{}),
	}
}

// Connect dials the feed with the bearer token and starts the read loop. It is a
// no-op while a connection is open.
func (f *Feed) Connect(ctx context.Context, token string) error {
	f.mu.Lock()
	if f.conn != nil {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	f.logger.Info().Str("url", f.url).Msg("connecting to event feed")
	conn, _, err := dialer.DialContext(ctx, f.url, header)
	if err != nil {
		return fmt.Errorf("event feed dial failed: %w", err)
	}

	f.mu.Lock()
	if f.conn != nil {
		f.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	done := make(chan struct{})
	f.conn, f.done = conn, done
	f.mu.Unlock()

	go f.readLoop(ctx, conn, done)
	go func() {
		select {
		case <-ctx.Done():
			f.release(conn)
			_ = shutdown(conn)
		case <-done:
		}
	}()
	return nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer func() {
		f.release(conn)
		close(done)
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				f.logger.Warn().Err(err).Msg("event feed read error")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Warn().Err(err).Msg("event feed parse error")
			continue
		}
		f.bus.Dispatch(ctx, msg)
	}
}

// release forgets conn if it is still the current connection.
func (f *Feed) release(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.mu.Unlock()
}

// Done is closed when the current connection's read loop exits.
func (f *Feed) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Close shuts the current connection down. Safe to call more than once or before
// Connect. A later Connect opens a new connection.
func (f *Feed) Close() error {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	return shutdown(conn)
}

func shutdown(conn *websocket.Conn) error {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
