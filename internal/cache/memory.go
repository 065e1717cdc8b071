package cache

import (
	"sync"
	"time"

	"expense-tracker-proxy/internal/models"
)

// MemoryCache is a thread-safe in-process rates cache
type MemoryCache struct {
	entries map[string]models.CacheEntry
	ttl     time.Duration
	mutex   sync.RWMutex
}

// NewMemoryCache creates a cache whose entries live for ttl
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]models.CacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached table for baseCurrency if present and not expired
func (c *MemoryCache) Get(baseCurrency string) (models.RatesResponse, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[cacheKey(baseCurrency)]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return models.RatesResponse{}, false
	}

	return copyRates(entry.Data), true
}

// Set stores a table for baseCurrency
func (c *MemoryCache) Set(baseCurrency string, rates models.RatesResponse) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[cacheKey(baseCurrency)] = models.CacheEntry{
		Data:      copyRates(rates),
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

// CleanExpired removes expired entries and returns how many were removed
func (c *MemoryCache) CleanExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			count++
		}
	}

	return count
}

// Size returns the number of stored entries, expired or not
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.entries)
}

// Close is a no-op for the memory cache
func (c *MemoryCache) Close() error {
	return nil
}
