package artifacts

import "go.trai.ch/xnail/internal/core/domain"

// Store installs entry the way a finished compilation does.
func (c *Cache) Store(entry *domain.CacheEntry) *domain.CacheEntry {
	return c.store(entry)
}
