// ABOUTME: Thread-safe in-memory map of user ID to access code.
// ABOUTME: Seeded lazily from the remote ledger; lives for the process lifetime.

package cache

import (
	"sync"
)

// Cache is a thread-safe mapping from user ID to access code. It is not
// authoritative: the remote ledger is the system of record, and the cache is
// re-seeded lazily after a restart. Entries are never evicted and never
// expire; last write wins.
type Cache struct {
	mu    sync.RWMutex
	codes map[int64]string
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		codes: make(map[int64]string),
	}
}

// Get returns the cached code for a user, if present.
func (c *Cache) Get(userID int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	code, ok := c.codes[userID]
	return code, ok
}

// Set records the code for a user, replacing any previous value.
func (c *Cache) Set(userID int64, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.codes[userID] = code
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.codes)
}
