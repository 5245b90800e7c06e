package client

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message []byte)
}

type WebSocketConnection struct {
	WebSocketURL string
	Conn         *websocket.Conn
	MaxRetry     int
	RetryCount   int
	Callback     WebSocketCallback
	Logger       *slog.Logger

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 100ms
	MaxDelay  time.Duration // The maximum delay, e.g., 2s
	Dialer    websocket.Dialer

	mu   sync.Mutex
	done chan struct{}
}

// Connect dials the socket, retrying with exponential backoff up to
// MaxRetry times, and starts the reader goroutine once connected.
func (w *WebSocketConnection) Connect(ctx context.Context) error {
	if w.Logger == nil {
		w.Logger = slog.New(slog.DiscardHandler)
	}

	retries := 0
	for {
		conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
		if err == nil {
			w.mu.Lock()
			w.Conn = conn
			w.done = make(chan struct{})
			w.mu.Unlock()
			go w.handleMessages()
			return nil
		}

		w.Logger.Warn("websocket connection attempt failed", "url", w.WebSocketURL, "error", err)
		retries++
		if retries > w.MaxRetry {
			return fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.getReconnectDelay()):
		}
	}
}

// Handle incoming WebSocket messages until the connection is closed
func (w *WebSocketConnection) handleMessages() {
	defer close(w.done)
	for {
		_, message, err := w.Conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				w.Logger.Debug("websocket read stopped", "error", err)
			}
			return
		}
		if w.Callback != nil {
			w.Callback.OnMessage(message)
		}
	}
}

// Close shuts the connection down and waits for the reader to exit.
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	conn, done := w.Conn, w.done
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	return err
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++
	return delay
}
