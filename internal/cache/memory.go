package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-authgate/authcore/internal/core"
)

type cacheItem[T any] struct {
	value     T
	expiresAt time.Time
}

// Compile-time interface check.
var _ core.Cache[struct{}] = (*MemoryCache[struct{}])(nil)

// MemoryCache implements Cache interface with in-memory storage.
// Uses lazy expiration (checks expiry on Get) plus an opportunistic sweep
// on Set once the map has grown past sweepThreshold entries.
// Suitable for single-instance deployments.
type MemoryCache[T any] struct {
	mu             sync.RWMutex
	items          map[string]cacheItem[T]
	sweepThreshold int
}

const defaultSweepThreshold = 1024

// NewMemoryCache creates a new memory cache instance.
func NewMemoryCache[T any]() *MemoryCache[T] {
	return &MemoryCache[T]{
		items:          make(map[string]cacheItem[T]),
		sweepThreshold: defaultSweepThreshold,
	}
}

// Get retrieves a value from cache.
func (m *MemoryCache[T]) Get(ctx context.Context, key string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, exists := m.items[key]
	if !exists || time.Now().After(item.expiresAt) {
		var zero T
		return zero, ErrCacheMiss
	}

	return item.value, nil
}

// Set stores a value in cache with TTL.
func (m *MemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if len(m.items) >= m.sweepThreshold {
		for k, item := range m.items {
			if now.After(item.expiresAt) {
				delete(m.items, k)
			}
		}
	}

	m.items[key] = cacheItem[T]{
		value:     value,
		expiresAt: now.Add(ttl),
	}

	return nil
}

// Delete removes a key from cache.
func (m *MemoryCache[T]) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

// Close cleans up resources.
func (m *MemoryCache[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]cacheItem[T])
	return nil
}

// Health checks if the cache is healthy (always true for memory cache).
func (m *MemoryCache[T]) Health(ctx context.Context) error {
	return nil
}
