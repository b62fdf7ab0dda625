package es

import "sync"

// closedStreamCache is the process-global cache of streamIds known to bear a
// close sentinel (spec.md §4.1 step 2, §5 shared resource #1). Its invariant
// is monotonic: entries are only ever added, streams never reopen, so it is
// safe for lock-free concurrent use.
type closedStreamCache struct {
	seen sync.Map // streamId -> struct{}
}

func (c *closedStreamCache) isClosed(streamID string) bool {
	_, ok := c.seen.Load(streamID)
	return ok
}

func (c *closedStreamCache) markClosed(streamID string) {
	c.seen.Store(streamID, struct{}{})
}

func (c *closedStreamCache) clear() {
	c.seen.Range(func(key, _ any) bool {
		c.seen.Delete(key)
		return true
	})
}

// globalClosedStreamCache is the single process-wide instance consulted by
// every DataStore implementation's append path.
var globalClosedStreamCache closedStreamCache

// ClearClosedStreamCache resets the process-global closed-stream cache.
// Intended for test scenarios only (spec.md §5 "Cleared explicitly for test
// scenarios").
func ClearClosedStreamCache() {
	globalClosedStreamCache.clear()
}

// IsStreamClosedInCache reports whether streamID is known-closed without a
// backend round trip.
func IsStreamClosedInCache(streamID string) bool {
	return globalClosedStreamCache.isClosed(streamID)
}

// MarkStreamClosedInCache records streamID as closed, called after a backend
// confirms a close sentinel exists (append path or a read that observes one).
func MarkStreamClosedInCache(streamID string) {
	globalClosedStreamCache.markClosed(streamID)
}
