package realtime

import (
	"sync"
	"time"

	v1 "relay/shared/contracts/chat/v1"
)

// Client represents one connected websocket session for an authenticated user.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
// - The subscribed-room set lives here so teardown can unsubscribe everything
//   without consulting global state.
type Client struct {
	SessionID   string
	UserID      string
	ConnectedAt time.Time
	Send        chan v1.Envelope

	mu    sync.Mutex
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID:   sessionID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		Send:        make(chan v1.Envelope, sendQueueSize),
		rooms:       make(map[string]struct{}),
		done:        make(chan struct{}),
	}
}

// Subscribe records a room membership. Redundant subscriptions are absorbed.
func (c *Client) Subscribe(roomKey string) {
	if c == nil || roomKey == "" {
		return
	}
	c.mu.Lock()
	c.rooms[roomKey] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe drops a room membership.
func (c *Client) Unsubscribe(roomKey string) {
	if c == nil || roomKey == "" {
		return
	}
	c.mu.Lock()
	delete(c.rooms, roomKey)
	c.mu.Unlock()
}

// InRoom reports whether the session is subscribed to roomKey.
func (c *Client) InRoom(roomKey string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	_, ok := c.rooms[roomKey]
	c.mu.Unlock()
	return ok
}

// Rooms returns a snapshot of the subscribed room keys.
func (c *Client) Rooms() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	out := make([]string, 0, len(c.rooms))
	for k := range c.rooms {
		out = append(out, k)
	}
	c.mu.Unlock()
	return out
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
