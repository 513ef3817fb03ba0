package chat

import "sync"

const (
	maxRecentObjects = 5000
	maxRecentEvents  = 1000
)

// recencyRing remembers the last n values it was handed. Entities referenced
// from the ring stay reachable even when the caller drops every other
// reference, so hot objects survive between events that mention them.
type recencyRing struct {
	mu   sync.Mutex
	buf  []any
	next int
}

func newRecencyRing(n int) *recencyRing {
	return &recencyRing{buf: make([]any, 0, n)}
}

func (r *recencyRing) add(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
}
