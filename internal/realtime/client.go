package realtime

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Client is one authenticated websocket connection. Its events are handled
// in order on the read goroutine.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	user   *models.User
	addr   string
	closed bool
	rooms  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	dispatch func(*Client, []byte)
}

func newClient(hub *Hub, conn *websocket.Conn, user *models.User, addr string, dispatch func(*Client, []byte)) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		user:     user,
		addr:     addr,
		rooms:    make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		dispatch: dispatch,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) User() *models.User {
	return c.user
}

func (c *Client) UserID() string {
	if c.user == nil {
		return ""
	}
	return c.user.ID.String()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.release(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Warn("realtime_close_failed", map[string]interface{}{
				"connection_id": c.id,
				"error":         err.Error(),
			})
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if c.dispatch != nil {
			c.dispatch(c, raw)
		}
	}
}

func (c *Client) logReadError(err error) {
	details := map[string]interface{}{"connection_id": c.id, "error": err.Error()}
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.WarnWithUser(c.UserID(), "realtime_frame_too_large", details)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), isExpectedCloseError(err):
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		logger.WarnWithUser(c.UserID(), "realtime_unexpected_close", details)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(message) {
				return
			}
			// Drain whatever queued up meanwhile; every event keeps its own frame.
			for n := len(c.send); n > 0; n-- {
				queued, ok := <-c.send
				if !ok || !c.write(queued) {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			logger.Warn("realtime_write_failed", map[string]interface{}{
				"connection_id": c.id,
				"error":         err.Error(),
			})
		}
		return false
	}
	return true
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
