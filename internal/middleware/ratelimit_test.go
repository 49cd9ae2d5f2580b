package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(t *testing.T, limiter gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limiter)
	router.GET("/connect/endsession", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	return router
}

func hit(router http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/connect/endsession", nil)
	req.Header.Set("X-Forwarded-For", ip)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewMemoryRateLimiter(t *testing.T) {
	limiter, err := NewMemoryRateLimiter(5)
	require.NoError(t, err)
	router := newLimitedRouter(t, limiter)

	for i := range 5 {
		w := hit(router, "192.168.1.100")
		assert.Equal(t, http.StatusOK, w.Code, "Request %d should succeed", i+1)
	}

	w := hit(router, "192.168.1.100")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.Contains(t, w.Body.String(), "Too many requests")
}

func TestRateLimiter_DifferentIPs(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 2,
		StoreType:         RateLimitStoreMemory,
		CleanupInterval:   time.Minute,
	})
	require.NoError(t, err)
	router := newLimitedRouter(t, limiter)

	for range 2 {
		assert.Equal(t, http.StatusOK, hit(router, "10.0.0.1").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(router, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(router, "10.0.0.2").Code)
}

func TestNewRateLimiter_InvalidConfig(t *testing.T) {
	_, err := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 0})
	require.Error(t, err)

	_, err = NewRateLimiter(RateLimitConfig{RequestsPerMinute: 5, StoreType: RateLimitStoreRedis})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a redis client")
}

func TestCreateRedisClient_InvalidAddress(t *testing.T) {
	client, err := CreateRedisClient("invalid-host:9999", "", 0)
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

// TestSharedRedisClient needs a Redis server on localhost:6379 and is
// skipped without one.
func TestSharedRedisClient(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client, err := CreateRedisClient("localhost:6379", "", 0)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	prefix := fmt.Sprintf("ratelimit-test-%d", time.Now().UnixNano())
	newLimiter := func() gin.HandlerFunc {
		l, err := NewRateLimiter(RateLimitConfig{
			RequestsPerMinute: 3,
			StoreType:         RateLimitStoreRedis,
			RedisClient:       client,
			Prefix:            prefix,
		})
		require.NoError(t, err)
		return l
	}

	// Two replicas sharing one budget.
	pod1 := newLimitedRouter(t, newLimiter())
	pod2 := newLimitedRouter(t, newLimiter())

	assert.Equal(t, http.StatusOK, hit(pod1, "172.16.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(pod2, "172.16.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(pod1, "172.16.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(pod2, "172.16.0.1").Code)
}
