package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-authgate/authcore/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisGrantStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Skipping Redis test: Docker not available (panic: %v)", r)
		}
	}()

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Skipping Redis test: Docker not available (%v)", err)
		return
	}
	t.Cleanup(func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisGrantStore(client, "test:")
	require.NoError(t, s.Health(ctx))

	testGrantStore(t, s)

	t.Run("expired grant is not stored", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		g := newGrant("dave", "sid-9", "web", models.GrantTypeAuthorizationCode)
		g.Expiration = &past
		require.NoError(t, s.StoreGrant(ctx, g))

		_, err := s.GetGrant(ctx, g.Key)
		assert.ErrorIs(t, err, ErrGrantNotFound)
	})
}
