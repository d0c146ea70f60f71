package notifications

import (
	"context"
	"time"

	"pollapp/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Viewers only listen; anything bigger than a control frame is dropped.
	maxMessageSize = 512

	sendBuffer = 32
)

var dropNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// Client is one websocket viewer of a poll's live results.
type Client struct {
	hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	PollID uint
}

func newClient(hub *Hub, conn *websocket.Conn, pollID uint) *Client {
	return &Client{
		hub:    hub,
		Conn:   conn,
		PollID: pollID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// ReadPump consumes control frames until the peer goes away, then
// unregisters the client.
func (c *Client) ReadPump() {
	reason := "closed"
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.Conn.Close()
		c.hub.log.LogDisconnect(context.Background(), roomName(c.PollID), reason)
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				reason = err.Error()
				c.hub.log.LogError(context.Background(), roomName(c.PollID), err, "read")
			}
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. A full buffer drops the message
// and queues a drop notice so the viewer can refetch the tallies.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.LiveResultsDrops.Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.LiveResultsDrops.Inc()
		select {
		case c.Send <- dropNotice:
		default:
		}
	}
}
