package chat

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	UserID  uuid.UUID
	refresh chan struct{}
	route   atomic.Value // string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, route string) *Client {
	c := &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		UserID:  userID,
		refresh: make(chan struct{}, 1),
	}
	c.route.Store(route)
	return c
}

// Route is the page the client last reported.
func (c *Client) Route() string {
	r, _ := c.route.Load().(string)
	return r
}

// requestBadge asks the write pump to recompute the badge. Requests made
// while one is pending collapse into it.
func (c *Client) requestBadge() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// inbound is what the browser may send: its active route.
type inbound struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

func (c *Client) handleInbound(raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "route" {
		return
	}
	if msg.Path != c.Route() {
		c.route.Store(msg.Path)
		c.requestBadge()
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// ReadPump pumps route updates from the websocket connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Debug().Err(err).Str("user_id", c.UserID.String()).Msg("websocket closed")
			}
			return
		}
		c.handleInbound(message)
	}
}

// WritePump pumps event frames and badge updates to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.refresh:
			frame, err := c.Hub.badgeFrame(context.Background(), c)
			if err != nil {
				c.Hub.log.Error().Err(err).Str("user_id", c.UserID.String()).Msg("badge recompute failed")
				continue
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
