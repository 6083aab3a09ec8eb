// Package link maintains the WebSocket channel to the patrol unit. It
// drains the outbound command bus onto the socket and feeds inbound
// frames into the event dispatcher. Delivery is at-most-once; the unit's
// telemetry loop reconciles anything lost across a reconnect.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/patrolkit/engine/internal/bus"
	"github.com/patrolkit/engine/pkg/core"
	"github.com/patrolkit/engine/pkg/wire"
)

const (
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// EventSink consumes decoded inbound events.
type EventSink interface {
	Dispatch(core.InboundEvent) error
}

// Channel manages the connection with a single write goroutine.
type Channel struct {
	mu     sync.Mutex
	conn   *ws.Conn
	done   chan struct{}
	closed bool

	wsURL  string
	secret string

	// Cached start frame for reconnect replay, so the unit resumes the
	// active mission instead of idling after a drop.
	cachedStart []byte

	out    *bus.CommandBus
	events EventSink
	logger *slog.Logger
}

// New creates a channel. Dial connects it; Run drives it.
func New(out *bus.CommandBus, events EventSink, logger *slog.Logger) *Channel {
	return &Channel{
		done:   make(chan struct{}),
		out:    out,
		events: events,
		logger: logger,
	}
}

// Dial connects to the unit and starts the read loop.
func (c *Channel) Dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// dialOnce performs a single dial with the secret query param.
func (c *Channel) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Run drains the command bus onto the socket until the context ends.
func (c *Channel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd, ok := <-c.out.Receive():
			if !ok {
				return
			}
			c.write(cmd)
		}
	}
}

func (c *Channel) write(cmd core.Command) {
	data, err := wire.EncodeCommand(cmd)
	if err != nil {
		c.logger.Error("Failed to encode command", "kind", cmd.Kind, "error", err)
		return
	}

	if cmd.Kind == core.CmdStart {
		c.mu.Lock()
		c.cachedStart = data
		c.mu.Unlock()
	}
	if cmd.Kind == core.CmdStop || cmd.Kind == core.CmdEmergencyStop {
		c.mu.Lock()
		c.cachedStart = nil
		c.mu.Unlock()
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Warn("No connection, dropping command", "kind", cmd.Kind)
		return
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
		go c.reconnect()
		return
	}
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		c.logger.Warn("WebSocket write error", "kind", cmd.Kind, "error", err)
		go c.reconnect()
	}
}

// readLoop decodes inbound frames and hands them to the dispatcher.
func (c *Channel) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect()
			return
		}

		ev, err := wire.DecodeEvent(message)
		if err != nil {
			c.logger.Debug("Undecodable frame received", "raw", string(message))
			continue
		}
		if err := c.events.Dispatch(ev); err != nil {
			c.logger.Warn("Event dispatch failed", "kind", ev.Kind, "error", err)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. On
// success it replays the cached start frame and restarts the read loop.
func (c *Channel) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}

		c.logger.Info("Reconnecting to unit", "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		cached := c.cachedStart
		c.mu.Unlock()

		// Replay the start frame so the unit resumes the mission.
		if cached != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("Failed to set deadline for start replay", "error", err)
				_ = conn.Close()
				continue
			}
			if err := conn.WriteMessage(ws.TextMessage, cached); err != nil {
				c.logger.Warn("Failed to replay start after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.logger.Info("Unit channel reconnected", "attempt", attempt)
		go c.readLoop()
		return
	}

	c.logger.Error("Reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// Close sends a close frame and shuts down all goroutines.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
