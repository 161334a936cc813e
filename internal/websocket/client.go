package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second

	// The feed is server to client; clients only send control frames.
	readLimit = 512
)

// Client is one subscriber to a family's change feed.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	familyID int64
	logger   *slog.Logger
	send     chan []byte
}

// NewClient creates a Client for userID's connection to familyID's feed.
func NewClient(hub *Hub, conn *ws.Conn, familyID, userID int64) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		familyID: familyID,
		logger:   hub.logger.With("family_id", familyID, "user_id", userID),
		send:     make(chan []byte, sendBufferSize),
	}
}

// Run subscribes the client and blocks until the connection ends.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(readLimit)
	c.hub.Register(c)
	defer c.hub.Unregister(c)
	c.logger.Debug("websocket connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	err := c.readPump(ctx)

	reason, level := disconnectReason(err)
	c.logger.Log(context.Background(), level, "websocket disconnected", "reason", reason)
}

// readPump discards incoming frames and returns the error that ended the
// connection.
func (c *Client) readPump(ctx context.Context) error {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return err
		}
	}
}

// writePump delivers queued messages and pings. A failed write closes the
// connection so readPump returns too.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			err = c.write(ctx, msg)
		case <-ticker.C:
			err = c.ping(ctx)
		case <-ctx.Done():
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("websocket write", "error", err)
				c.conn.CloseNow()
			}
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}

func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Ping(ctx)
}

// disconnectReason describes why a read ended and how loudly to log it.
func disconnectReason(err error) (string, slog.Level) {
	status := ws.CloseStatus(err)
	switch {
	case err == nil:
		return "closed", slog.LevelDebug
	case status == ws.StatusNormalClosure || status == ws.StatusGoingAway:
		return "closed by client", slog.LevelDebug
	case status != -1:
		return "closed by client: " + status.String(), slog.LevelInfo
	case errors.Is(err, context.Canceled):
		return "server shutdown", slog.LevelDebug
	}
	return err.Error(), slog.LevelWarn
}
