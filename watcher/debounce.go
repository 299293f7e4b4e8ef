package watcher

import "time"

type debounceEntry struct {
	path     string
	lastSeen time.Time
}

// DebounceCache remembers recently accepted paths. It is a fixed-capacity ring
// in insertion order plus a path index; it is not safe for concurrent use.
type DebounceCache struct {
	window  time.Duration
	ring    []debounceEntry
	head    int // slot of the oldest entry
	size    int
	index   map[string]int
	scratch []debounceEntry
}

// NewDebounceCache creates a cache for at most capacity paths
func NewDebounceCache(capacity int, window time.Duration) *DebounceCache {
	if capacity < 1 {
		capacity = 1
	}
	return &DebounceCache{
		window:  window,
		ring:    make([]debounceEntry, capacity),
		index:   make(map[string]int, capacity),
		scratch: make([]debounceEntry, 0, capacity),
	}
}

// Len returns the number of remembered paths
func (c *DebounceCache) Len() int {
	return c.size
}

// Seen reports whether path was accepted less than the window before now
func (c *DebounceCache) Seen(path string, now time.Time) bool {
	slot, ok := c.index[path]
	if !ok {
		return false
	}
	return now.Sub(c.ring[slot].lastSeen) < c.window
}

// Touch records path as accepted at now. A remembered path is refreshed in
// place; a new path evicts the oldest entry when the cache is full.
func (c *DebounceCache) Touch(path string, now time.Time) {
	if slot, ok := c.index[path]; ok {
		c.ring[slot].lastSeen = now
		return
	}

	if c.size == len(c.ring) {
		oldest := c.ring[c.head]
		delete(c.index, oldest.path)
		c.head = (c.head + 1) % len(c.ring)
		c.size--
	}

	slot := (c.head + c.size) % len(c.ring)
	c.ring[slot] = debounceEntry{path: path, lastSeen: now}
	c.index[path] = slot
	c.size++
}

// Purge drops every entry older than the window and returns how many went
func (c *DebounceCache) Purge(now time.Time) int {
	c.scratch = c.scratch[:0]
	for i := 0; i < c.size; i++ {
		e := c.ring[(c.head+i)%len(c.ring)]
		if now.Sub(e.lastSeen) > c.window {
			continue
		}
		c.scratch = append(c.scratch, e)
	}

	removed := c.size - len(c.scratch)
	if removed == 0 {
		return 0
	}

	// Compact survivors to the front, keeping insertion order
	for path := range c.index {
		delete(c.index, path)
	}
	for i := range c.ring {
		c.ring[i] = debounceEntry{}
	}
	for i, e := range c.scratch {
		c.ring[i] = e
		c.index[e.path] = i
	}
	c.head = 0
	c.size = len(c.scratch)
	return removed
}
