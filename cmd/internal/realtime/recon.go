package realtime

import "sync"

const defaultReconCapacity = 4096

// ReconCache is a bounded recently-seen-id set used to suppress duplicate
// dispatches of the same logical message (same durable id, or same client
// temp id arriving through a redundant code path).
//
// Eviction is FIFO: once capacity is reached the oldest remembered id is
// forgotten. At-least-once semantics tolerate a forgotten id — the worst
// case is a duplicate the client-side cache absorbs.
type ReconCache struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order []string
	head  int
}

// NewReconCache constructs a cache holding up to capacity ids.
func NewReconCache(capacity int) *ReconCache {
	if capacity <= 0 {
		capacity = defaultReconCapacity
	}
	return &ReconCache{
		cap:   capacity,
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

// Remember records id and reports whether it was new. A false return means
// the id was already seen and the caller must suppress the duplicate.
func (c *ReconCache) Remember(id string) bool {
	if id == "" {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[id]; ok {
		return false
	}

	if len(c.order) < c.cap {
		c.order = append(c.order, id)
	} else {
		oldest := c.order[c.head]
		delete(c.seen, oldest)
		c.order[c.head] = id
		c.head = (c.head + 1) % c.cap
	}
	c.seen[id] = struct{}{}
	return true
}

// Seen reports whether id has been remembered without recording it.
func (c *ReconCache) Seen(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	_, ok := c.seen[id]
	c.mu.Unlock()
	return ok
}

// Len returns the number of remembered ids.
func (c *ReconCache) Len() int {
	c.mu.Lock()
	n := len(c.seen)
	c.mu.Unlock()
	return n
}
