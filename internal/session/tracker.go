// Package session tracks which relying parties took part in a user session.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-authgate/authcore/internal/cache"
	"github.com/go-authgate/authcore/internal/core"
)

var _ core.SessionTracker = (*CacheTracker)(nil)

// CacheTracker stores the client list of each session in a cache entry that
// expires ttl after the last join.
type CacheTracker struct {
	cache core.Cache[[]string]
	ttl   time.Duration

	// Join is read-modify-write; the lock keeps concurrent joins within this
	// process from losing clients.
	mu sync.Mutex
}

// NewCacheTracker returns a tracker over c.
func NewCacheTracker(c core.Cache[[]string], ttl time.Duration) *CacheTracker {
	return &CacheTracker{cache: c, ttl: ttl}
}

func (t *CacheTracker) Join(ctx context.Context, sessionID, clientID string) error {
	if sessionID == "" || clientID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	clients, err := t.Clients(ctx, sessionID)
	if err != nil {
		return err
	}
	if !slices.Contains(clients, clientID) {
		clients = append(clients, clientID)
	}
	if err := t.cache.Set(ctx, sessionID, clients, t.ttl); err != nil {
		return fmt.Errorf("track session %s: %w", sessionID, err)
	}
	return nil
}

// Clients returns the clients joined to sessionID. Unknown sessions have none.
func (t *CacheTracker) Clients(ctx context.Context, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, nil
	}
	clients, err := t.cache.Get(ctx, sessionID)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return slices.Clone(clients), nil
}

func (t *CacheTracker) Forget(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := t.cache.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("forget session %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the underlying cache.
func (t *CacheTracker) Close() error {
	return t.cache.Close()
}

// Health reports the state of the underlying cache.
func (t *CacheTracker) Health(ctx context.Context) error {
	return t.cache.Health(ctx)
}
