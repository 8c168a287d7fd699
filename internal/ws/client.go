package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"payments_core/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second
	sendBuffer = 64
)

// Client is one socket of one user. A user may hold several.
type Client struct {
	UserID int64
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	log    *slog.Logger
}

func NewClient(userID int64, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		UserID: userID,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, sendBuffer),
		log:    logger.Component("ws").With("user_id", userID),
	}
}

// Run serves the socket until it closes.
func (c *Client) Run() {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	go c.writePump()
	c.queue(message{Type: MsgReady, UserID: c.UserID})
	c.readPump()
}

func (c *Client) queue(m message) {
	body, _ := json.Marshal(m)
	if !c.hub.sendTo(c, body) {
		c.log.Debug("message not queued", "type", m.Type)
	}
}

// readPump only answers pings; events flow server to client.
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", "error", err)
			}
			return
		}
		var m message
		if json.Unmarshal(raw, &m) == nil && m.Type == MsgPing {
			c.queue(message{Type: MsgPong})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
