package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-authgate/authcore/internal/config"

	"github.com/redis/go-redis/v9"
)

const redisConnTimeout = 5 * time.Second

// needsRedisClient reports whether any component uses the shared go-redis
// client. The session tracker talks to Redis through rueidis instead.
func needsRedisClient(cfg *config.Config) bool {
	if cfg.StoreDriver == config.StoreDriverRedis {
		return true
	}
	return cfg.EnableRateLimit && cfg.RateLimitStore == config.RateLimitStoreRedis
}

// initializeRedisClient connects the go-redis client shared by the grant
// store and the rate limiters. Returns nil when nothing needs it.
func initializeRedisClient(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*redis.Client, error) {
	if !needsRedisClient(cfg) {
		return nil, nil //nolint:nilnil // redis client not needed in this configuration
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, redisConnTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("redis client initialized", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return client, nil
}
