package processor

import (
	"sync"

	"inspectwatch/types"
)

// Counters are the session totals. They only grow between explicit resets.
type Counters struct {
	mu    sync.Mutex
	total int
	ok    int
	nok   int
}

// Record counts one status and returns the updated snapshot
func (c *Counters) Record(status types.Status) types.CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if status == types.StatusOK {
		c.ok++
	} else {
		c.nok++
	}
	return types.NewCountersSnapshot(c.total, c.ok, c.nok)
}

// Reset zeroes the counters and returns the empty snapshot
func (c *Counters) Reset() types.CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total, c.ok, c.nok = 0, 0, 0
	return types.CountersSnapshot{}
}

// Snapshot returns a read-only copy of the counters
func (c *Counters) Snapshot() types.CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.NewCountersSnapshot(c.total, c.ok, c.nok)
}
