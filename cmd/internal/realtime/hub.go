package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns in-memory rooms keyed by room key.
// It is intentionally minimal: persistence lives behind MessageStore and
// fanout policy lives in the Dispatcher.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// GetOrCreateRoom returns a stable in-memory room handle.
func (h *Hub) GetOrCreateRoom(roomKey string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomKey]; ok {
		return r
	}

	r := NewRoom(h.log, roomKey)
	h.rooms[roomKey] = r
	return r
}

// Room returns the room for roomKey, or nil when nobody ever joined it.
func (h *Hub) Room(roomKey string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomKey]
}

// Join subscribes client to roomKey and records the membership on the client.
func (h *Hub) Join(roomKey string, client *Client) {
	if client == nil || roomKey == "" {
		return
	}
	h.GetOrCreateRoom(roomKey).Join(client)
	client.Subscribe(roomKey)
}

// Leave unsubscribes client from roomKey.
func (h *Hub) Leave(roomKey string, client *Client) {
	if client == nil || roomKey == "" {
		return
	}
	if r := h.Room(roomKey); r != nil {
		r.Leave(client.SessionID)
	}
	client.Unsubscribe(roomKey)
}

// LeaveAll unsubscribes client from every room it joined. Used at teardown.
func (h *Hub) LeaveAll(client *Client) {
	if client == nil {
		return
	}
	for _, key := range client.Rooms() {
		h.Leave(key, client)
	}
}

// Room is an in-memory membership primitive.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Members snapshots.
// - Leaving a room never tears down the session; sessions are multi-room.
type Room struct {
	log *slog.Logger
	Key string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs a room.
func NewRoom(log *slog.Logger, key string) *Room {
	return &Room{
		log:     log,
		Key:     key,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership. Redundant joins are absorbed.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "room_key", r.Key, "session_id", client.SessionID, "user_id", client.UserID)
}

// Leave removes a client from membership.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "room_key", r.Key, "session_id", sessionID)
}

// Members returns a snapshot of current members.
func (r *Room) Members() []*Client {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]*Client, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	r.mu.RUnlock()
	return out
}
