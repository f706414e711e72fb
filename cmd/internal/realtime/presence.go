package realtime

import "sync"

// Presence tracks which users currently hold a live session.
//
// One session per user: registering a new session for a user evicts the
// previous one (last-writer-wins). The evicted session is returned to the
// caller, which must close it explicitly so the older device observes the
// disconnect rather than having delivery silently stolen.
//
// Lifecycle is tied 1:1 to connection sessions; there is no timeout-based
// expiry.
type Presence struct {
	mu       sync.RWMutex
	sessions map[string]*Client
}

// NewPresence constructs an empty presence registry.
func NewPresence() *Presence {
	return &Presence{
		sessions: make(map[string]*Client),
	}
}

// Register installs client as the current session for its user and returns
// the evicted previous session, if any.
func (p *Presence) Register(client *Client) (evicted *Client) {
	if client == nil || client.UserID == "" {
		return nil
	}
	p.mu.Lock()
	prev := p.sessions[client.UserID]
	p.sessions[client.UserID] = client
	p.mu.Unlock()

	if prev != nil && prev.SessionID == client.SessionID {
		return nil
	}
	return prev
}

// Unregister removes the session for userID only if sessionID is still the
// current one. It reports whether the user went offline (no replacement
// session exists).
func (p *Presence) Unregister(userID, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.sessions[userID]
	if cur == nil {
		return false
	}
	if cur.SessionID != sessionID {
		// A replacement session already took over; the user stays online.
		return false
	}
	delete(p.sessions, userID)
	return true
}

// Online reports whether userID currently holds a live session.
func (p *Presence) Online(userID string) bool {
	p.mu.RLock()
	_, ok := p.sessions[userID]
	p.mu.RUnlock()
	return ok
}

// Get returns the current session for userID, or nil.
func (p *Presence) Get(userID string) *Client {
	p.mu.RLock()
	c := p.sessions[userID]
	p.mu.RUnlock()
	return c
}

// Snapshot returns the set of online user ids.
func (p *Presence) Snapshot() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.sessions))
	for u := range p.sessions {
		out = append(out, u)
	}
	p.mu.RUnlock()
	return out
}

// All returns a snapshot of every live session.
func (p *Presence) All() []*Client {
	p.mu.RLock()
	out := make([]*Client, 0, len(p.sessions))
	for _, c := range p.sessions {
		out = append(out, c)
	}
	p.mu.RUnlock()
	return out
}

// Len returns the number of online users.
func (p *Presence) Len() int {
	p.mu.RLock()
	n := len(p.sessions)
	p.mu.RUnlock()
	return n
}
