package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/taskie/internal/feed"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Client streams one household's feed events over a single WebSocket connection.
type Client struct {
	conn   *ws.Conn
	sub    *feed.Subscription
	logger *slog.Logger
}

// NewClient creates a Client that forwards events from sub to conn.
func NewClient(conn *ws.Conn, sub *feed.Subscription, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		sub:    sub,
		logger: logger,
	}
}

// Run starts the write pump and runs the read pump. It blocks until the
// connection is closed, then cancels the subscription.
func (c *Client) Run(ctx context.Context) {
	defer c.sub.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx)
}

// readPump reads and discards all incoming messages. It returns on error
// (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// writePump drains the subscription and writes events as JSON text frames.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.sub.C():
			if !ok {
				c.conn.Close(ws.StatusGoingAway, "feed closed")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.logger.Error("marshal event", "type", ev.Type, "error", err)
				continue
			}
			if err := c.write(ctx, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, data)
}
