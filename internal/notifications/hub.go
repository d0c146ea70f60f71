package notifications

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"pollapp/internal/middleware"
	"pollapp/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerPoll = 1000
	maxTotalConns   = 10000
)

var (
	ErrHubFull     = errors.New("server connection limit reached")
	ErrRoomFull    = errors.New("poll connection limit reached")
	ErrHubShutdown = errors.New("live results hub is shutting down")
)

// Hub maps poll ids to the websocket clients watching them.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[uint]map[*Client]struct{}
	totalConns int
	closed     bool
	log        *observability.WSLogger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[uint]map[*Client]struct{}),
		log:   observability.NewWSLogger(middleware.Logger, "live_results"),
	}
}

// Register adds a viewer for pollID.
func (h *Hub) Register(pollID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubShutdown
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrHubFull
	}
	room, ok := h.rooms[pollID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[pollID] = room
	}
	if len(room) >= maxConnsPerPoll {
		return nil, ErrRoomFull
	}

	client := newClient(h, conn, pollID)
	room[client] = struct{}{}
	h.totalConns++
	observability.LiveResultsConnections.Inc()
	h.log.LogConnect(context.Background(), roomName(pollID))
	return client, nil
}

// UnregisterClient removes the client and closes its send channel. Safe to
// call more than once.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.PollID]
	if !ok {
		return
	}
	if _, exists := room[client]; !exists {
		return
	}
	delete(room, client)
	close(client.Send)
	h.totalConns--
	observability.LiveResultsConnections.Dec()
	if len(room) == 0 {
		delete(h.rooms, client.PollID)
	}
}

// Viewers returns the number of clients watching pollID.
func (h *Hub) Viewers(pollID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[pollID])
}

// Broadcast sends message to every viewer of pollID.
func (h *Hub) Broadcast(pollID uint, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[pollID] {
		c.TrySend(message)
	}
}

// BroadcastAll sends message to every connected client.
func (h *Hub) BroadcastAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, room := range h.rooms {
		for c := range room {
			c.TrySend(message)
		}
	}
}

// StartWiring subscribes the hub to poll events published through n.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPollSubscriber(ctx, func(channel, payload string) {
		if channel == BroadcastChannel {
			h.BroadcastAll([]byte(payload))
			return
		}
		pollID, ok := ParsePollChannel(channel)
		if !ok {
			middleware.Logger.Warn("invalid poll channel", "channel", channel)
			return
		}
		h.Broadcast(pollID, []byte(payload))
	})
}

// Shutdown closes every client connection. New registrations fail afterwards.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	for pollID, room := range h.rooms {
		for client := range room {
			// WritePump sends the close frame once Send is closed.
			close(client.Send)
			h.totalConns--
			observability.LiveResultsConnections.Dec()
			h.log.LogDisconnect(context.Background(), roomName(pollID), "shutdown")
		}
	}
	h.rooms = make(map[uint]map[*Client]struct{})
	return nil
}

func roomName(pollID uint) string {
	return "poll:" + strconv.FormatUint(uint64(pollID), 10)
}
