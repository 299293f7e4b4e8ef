package watcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebounceCacheSeenWithinWindow(t *testing.T) {
	base := time.Unix(1000, 0)
	c := NewDebounceCache(10, time.Second)

	c.Touch("/in/a.jpg", base)
	assert.True(t, c.Seen("/in/a.jpg", base.Add(500*time.Millisecond)))
	assert.False(t, c.Seen("/in/a.jpg", base.Add(time.Second)))
	assert.False(t, c.Seen("/in/b.jpg", base))
}

func TestDebounceCacheEvictsOldestAtCapacity(t *testing.T) {
	base := time.Unix(1000, 0)
	c := NewDebounceCache(3, time.Hour)

	for i := 0; i < 4; i++ {
		c.Touch(fmt.Sprintf("%d.jpg", i), base.Add(time.Duration(i)*time.Millisecond))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("0.jpg", base), "oldest entry should be evicted regardless of age")
	for i := 1; i < 4; i++ {
		assert.True(t, c.Seen(fmt.Sprintf("%d.jpg", i), base))
	}
}

func TestDebounceCacheRefreshKeepsInsertionOrder(t *testing.T) {
	base := time.Unix(1000, 0)
	c := NewDebounceCache(2, time.Hour)

	c.Touch("a.jpg", base)
	c.Touch("b.jpg", base)
	c.Touch("a.jpg", base.Add(time.Minute)) // refreshed in place, still oldest
	c.Touch("c.jpg", base.Add(time.Minute))

	assert.False(t, c.Seen("a.jpg", base.Add(time.Minute)))
	assert.True(t, c.Seen("b.jpg", base.Add(time.Minute)))
	assert.True(t, c.Seen("c.jpg", base.Add(time.Minute)))
}

func TestDebounceCachePurge(t *testing.T) {
	base := time.Unix(1000, 0)
	c := NewDebounceCache(4, time.Second)

	c.Touch("old1.jpg", base)
	c.Touch("old2.jpg", base.Add(100*time.Millisecond))
	c.Touch("new.jpg", base.Add(1500*time.Millisecond))

	removed := c.Purge(base.Add(2 * time.Second))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new.jpg", base.Add(2*time.Second)))

	// Survivors keep order and the ring keeps working after compaction
	c.Touch("x.jpg", base.Add(2*time.Second))
	c.Touch("y.jpg", base.Add(2*time.Second))
	c.Touch("z.jpg", base.Add(2*time.Second))
	c.Touch("w.jpg", base.Add(2*time.Second))
	assert.Equal(t, 4, c.Len())
	assert.False(t, c.Seen("new.jpg", base.Add(2*time.Second)))
	assert.True(t, c.Seen("w.jpg", base.Add(2*time.Second)))
}

func TestDebounceCacheBoundaryIsNotExpired(t *testing.T) {
	base := time.Unix(1000, 0)
	c := NewDebounceCache(4, time.Second)
	c.Touch("a.jpg", base)

	assert.Equal(t, 0, c.Purge(base.Add(time.Second)))
	assert.Equal(t, 1, c.Len())
}
