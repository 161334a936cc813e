package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Message represents a real-time change notification sent to the clients of
// one family.
type Message struct {
	Type     string         `json:"type"`
	Entity   string         `json:"entity"`
	Action   string         `json:"action"`
	FamilyID int64          `json:"family_id"`
	ID       string         `json:"id,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, familyID int64, id string, extra map[string]any) Message {
	return Message{
		Type:     fmt.Sprintf("%s_%s", entity, action),
		Entity:   entity,
		Action:   action,
		FamilyID: familyID,
		ID:       id,
		Extra:    extra,
	}
}

// Hub maintains the set of active WebSocket clients, grouped by family.
type Hub struct {
	mu       sync.RWMutex
	families map[int64]map[*Client]struct{}
	logger   *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		families: make(map[int64]map[*Client]struct{}),
		logger:   logger,
	}
}

// Register adds a client to its family's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.families[c.familyID]
	if !ok {
		set = make(map[*Client]struct{})
		h.families[c.familyID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.families[c.familyID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.families, c.familyID)
	}
}

// Broadcast sends a message to every connected client of msg.FamilyID.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.families[msg.FamilyID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client buffer full, dropping message", "family_id", msg.FamilyID, "type", msg.Type)
		}
	}
}

var pastTense = map[string]string{
	"create": "created",
	"update": "updated",
	"delete": "deleted",
}

// EventChanged broadcasts a committed scheduling mutation. action has the
// form "<entity>.<verb>", e.g. "event.update" becomes "event_updated".
func (h *Hub) EventChanged(familyID int64, action, eventID string) {
	entity, verb, ok := strings.Cut(action, ".")
	if !ok {
		entity, verb = "event", action
	}
	if past, ok := pastTense[verb]; ok {
		verb = past
	}
	h.Broadcast(NewMessage(entity, verb, familyID, eventID, nil))
}

// ClientCount returns the number of connected clients across all families.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.families {
		n += len(set)
	}
	return n
}
