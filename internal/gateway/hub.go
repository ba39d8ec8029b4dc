package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sapliy/notification-hub/internal/ledger"
	"github.com/sapliy/notification-hub/internal/metrics"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// Envelope is the gateway wire format, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub tracks connected clients by room. A room is "tenantID:userID": all of
// one user's open connections, so a push reaches every device at once.
type Hub struct {
	logger *observability.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(logger *observability.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[string]map[*Client]struct{}),
	}
}

func roomName(tenantID, userID string) string {
	return tenantID + ":" + userID
}

func (h *Hub) join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

func (h *Hub) leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
}

// RoomSize reports how many connections a user currently has open.
func (h *Hub) RoomSize(tenantID, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomName(tenantID, userID)])
}

// SendToUser delivers an event to every connection in the user's room.
// Connections with a saturated send buffer are skipped; delivery is best
// effort and the caller is never blocked.
func (h *Hub) SendToUser(tenantID, userID, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("gateway payload marshal failed", "event", event, "error", err)
		return
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return
	}

	room := roomName(tenantID, userID)
	h.mu.RLock()
	clients := h.rooms[room]
	delivered := 0
	for c := range clients {
		select {
		case c.send <- msg:
			delivered++
		default:
		}
	}
	h.mu.RUnlock()

	if delivered > 0 {
		h.logger.Info("pushed realtime event",
			"event", event,
			"room", room,
			"connections", delivered,
		)
	}
}

// Run consumes the ledger's creation stream and pushes each in-app
// notification to its recipient. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, created <-chan ledger.CreatedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-created:
			n := ev.Notification
			h.SendToUser(n.TenantID, n.UserID, "notification.created", n)
		}
	}
}

func (h *Hub) connectionOpened() {
	metrics.WebsocketConnections.Inc()
}

func (h *Hub) connectionClosed() {
	metrics.WebsocketConnections.Dec()
}
