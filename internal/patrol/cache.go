package patrol

import (
	"sync"
	"time"
)

type cachedDetail struct {
	detail   *ActivityDetail
	cachedAt time.Time
}

// DetailCache stores activity details in memory with automatic expiration
type DetailCache struct {
	mu      sync.RWMutex
	details map[ID]cachedDetail
	ttl     time.Duration
}

// NewDetailCache creates a new detail cache
func NewDetailCache(ttl time.Duration) *DetailCache {
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	return &DetailCache{
		details: make(map[ID]cachedDetail),
		ttl:     ttl,
	}
}

// Put adds or replaces an activity detail
func (c *DetailCache) Put(detail *ActivityDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.details[detail.ID] = cachedDetail{detail: detail, cachedAt: time.Now()}
}

// Get retrieves an unexpired activity detail
func (c *DetailCache) Get(id ID) (*ActivityDetail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.details[id]
	if !exists || time.Since(entry.cachedAt) > c.ttl {
		return nil, false
	}
	return entry.detail, true
}

// Delete removes an activity detail
func (c *DetailCache) Delete(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.details, id)
}

// CleanExpired removes expired details and returns how many were dropped
func (c *DetailCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, entry := range c.details {
		if time.Since(entry.cachedAt) > c.ttl {
			delete(c.details, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of cached details
func (c *DetailCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.details)
}
