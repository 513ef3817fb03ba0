package mirror

import "sync"

// Deduper tracks recently seen event ids. The push channel and the polling
// channel overlap, so the same event routinely arrives twice.
type Deduper struct {
	mu   sync.Mutex
	seen map[int64]struct{}
	ring []int64
	used []bool
	next int
}

func NewDeduper(size int) *Deduper {
	return &Deduper{
		seen: make(map[int64]struct{}, size),
		ring: make([]int64, size),
		used: make([]bool, size),
	}
}

// Seen records id and reports whether it had already been recorded.
func (d *Deduper) Seen(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.used[d.next] {
		delete(d.seen, d.ring[d.next])
	}
	d.ring[d.next] = id
	d.used[d.next] = true
	d.next = (d.next + 1) % len(d.ring)
	d.seen[id] = struct{}{}
	return false
}
