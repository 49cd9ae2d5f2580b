package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/middleware"
	"github.com/go-authgate/authcore/internal/signout"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// rateLimitMiddlewares holds rate limiting middlewares for the sign-out paths
type rateLimitMiddlewares struct {
	signOut    gin.HandlerFunc
	endSession gin.HandlerFunc
}

// setupRateLimiting configures rate limiting middlewares based on configuration
func setupRateLimiting(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *slog.Logger,
) (rateLimitMiddlewares, error) {
	noOpMiddleware := func(c *gin.Context) { c.Next() }

	if !cfg.EnableRateLimit {
		return rateLimitMiddlewares{
			signOut:    noOpMiddleware,
			endSession: noOpMiddleware,
		}, nil
	}
	return createRateLimiters(cfg, redisClient, logger)
}

func createRateLimiters(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *slog.Logger,
) (rateLimitMiddlewares, error) {
	storeType := middleware.RateLimitStoreType(cfg.RateLimitStore)
	logger.Info("rate limiting enabled",
		"store", cfg.RateLimitStore,
		"shared", storeType == middleware.RateLimitStoreRedis,
	)

	createLimiter := func(requestsPerMinute int, name string) (gin.HandlerFunc, error) {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: requestsPerMinute,
			StoreType:         storeType,
			RedisClient:       redisClient,
			CleanupInterval:   cfg.RateLimitCleanupInterval,
			Prefix:            "authcore:ratelimit:" + name + ":",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter for %s: %w", name, err)
		}
		return limiter, nil
	}

	var (
		limiters rateLimitMiddlewares
		err      error
	)
	if limiters.signOut, err = createLimiter(cfg.SignOutRateLimit, "signout"); err != nil {
		return limiters, err
	}
	if limiters.endSession, err = createLimiter(cfg.EndSessionRateLimit, "endsession"); err != nil {
		return limiters, err
	}
	return limiters, nil
}

// onCallbackPaths runs limiter only for federated sign-out callbacks. The
// limiter calls c.Next itself, so it is invoked directly rather than wrapped.
func onCallbackPaths(co *signout.Coordinator, limiter gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if co.Matches(c.Request.URL.Path) {
			limiter(c)
			return
		}
		c.Next()
	}
}
