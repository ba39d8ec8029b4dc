package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens at the join message; the upgrade itself is open.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection. It belongs to at most one room,
// entered via the join message.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	room string
}

type joinRequest struct {
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`
}

// ServeWS upgrades the request and runs the connection's read and write
// pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.connectionOpened()

	go c.writePump()
	go c.readPump()
}

// readPump handles inbound frames: join requests and pong keepalives. It
// owns the connection teardown.
func (c *Client) readPump() {
	defer func() {
		if c.room != "" {
			c.hub.leave(c.room, c)
		}
		c.hub.connectionClosed()
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("malformed message")
			continue
		}

		switch env.Event {
		case "join":
			c.handleJoin(env.Data)
		default:
			c.sendError("unknown event: " + env.Event)
		}
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.TenantID == "" || req.UserID == "" {
		c.sendError("join requires tenantId and userId")
		return
	}

	room := roomName(req.TenantID, req.UserID)
	if c.room != "" && c.room != room {
		c.hub.leave(c.room, c)
	}
	c.room = room
	c.hub.join(room, c)

	ack, _ := json.Marshal(map[string]any{
		"event": "joined",
		"data":  map[string]string{"room": room},
	})
	select {
	case c.send <- ack:
	default:
	}

	c.hub.logger.Info("client joined room", "room", room)
}

func (c *Client) sendError(msg string) {
	raw, _ := json.Marshal(map[string]any{
		"event": "error",
		"data":  map[string]string{"message": msg},
	})
	select {
	case c.send <- raw:
	default:
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// pings. One goroutine per connection; the gorilla API allows at most one
// concurrent writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
