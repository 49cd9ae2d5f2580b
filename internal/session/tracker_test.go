package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-authgate/authcore/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheTracker(t *testing.T) {
	ctx := context.Background()
	tr := NewCacheTracker(cache.NewMemoryCache[[]string](), time.Hour)
	defer tr.Close()

	clients, err := tr.Clients(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, clients)

	require.NoError(t, tr.Join(ctx, "sid-1", "web"))
	require.NoError(t, tr.Join(ctx, "sid-1", "mobile"))
	require.NoError(t, tr.Join(ctx, "sid-1", "web"))
	require.NoError(t, tr.Join(ctx, "sid-2", "web"))

	clients, err = tr.Clients(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "mobile"}, clients)

	require.NoError(t, tr.Forget(ctx, "sid-1"))
	clients, err = tr.Clients(ctx, "sid-1")
	require.NoError(t, err)
	assert.Empty(t, clients)

	clients, err = tr.Clients(ctx, "sid-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, clients)

	assert.NoError(t, tr.Health(ctx))
}

func TestCacheTracker_IgnoresEmptyIDs(t *testing.T) {
	ctx := context.Background()
	tr := NewCacheTracker(cache.NewMemoryCache[[]string](), time.Hour)

	require.NoError(t, tr.Join(ctx, "", "web"))
	require.NoError(t, tr.Join(ctx, "sid", ""))
	require.NoError(t, tr.Forget(ctx, ""))

	clients, err := tr.Clients(ctx, "sid")
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestCacheTracker_ConcurrentJoins(t *testing.T) {
	ctx := context.Background()
	tr := NewCacheTracker(cache.NewMemoryCache[[]string](), time.Hour)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Join(ctx, "sid", id))
		}()
	}
	wg.Wait()

	clients, err := tr.Clients(ctx, "sid")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e", "f"}, clients)
}

type brokenCache struct{ cache.MemoryCache[[]string] }

func (*brokenCache) Get(context.Context, string) ([]string, error) {
	return nil, cache.ErrCacheUnavailable
}

func TestCacheTracker_BackendError(t *testing.T) {
	tr := NewCacheTracker(&brokenCache{}, time.Hour)

	_, err := tr.Clients(context.Background(), "sid")
	assert.True(t, errors.Is(err, cache.ErrCacheUnavailable))
	assert.ErrorIs(t, tr.Join(context.Background(), "sid", "web"), cache.ErrCacheUnavailable)
}
