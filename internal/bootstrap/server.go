package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/container"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/logging"
	"github.com/go-authgate/authcore/internal/store"

	"github.com/appleboy/graceful"
	"github.com/redis/go-redis/v9"
)

// createHTTPServer creates the HTTP server instance
func createHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// addServerRunningJob adds the HTTP server running job
func addServerRunningJob(m *graceful.Manager, srv *http.Server, logger *slog.Logger) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			logger.Info("server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Critical(ctx, logger, "failed to start server", "error", err)
				os.Exit(1)
			}
		}()
		<-ctx.Done()
		return nil
	})
}

// addServerShutdownJob adds HTTP server shutdown handler. The release
// functions run after the server stopped accepting requests, in order.
func addServerShutdownJob(
	m *graceful.Manager,
	srv *http.Server,
	timeout time.Duration,
	logger *slog.Logger,
	release ...func() error,
) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m.AddShutdownJob(func() error {
		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
			errs = append(errs, err)
		} else {
			logger.Info("server exited")
		}

		for _, fn := range release {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// closeContainer closes container singletons such as the database and the
// session tracker cache.
func closeContainer(c *container.Container, logger *slog.Logger) func() error {
	return func() error {
		if err := c.Close(); err != nil {
			logger.Error("error closing services", "error", err)
			return err
		}
		logger.Info("services closed")
		return nil
	}
}

// closeRedisClient closes the shared Redis client, if any.
func closeRedisClient(redisClient *redis.Client, logger *slog.Logger) func() error {
	return func() error {
		if redisClient == nil {
			return nil
		}
		logger.Info("closing redis connection")
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing redis client", "error", err)
			return err
		}
		logger.Info("redis connection closed")
		return nil
	}
}

// addGrantCleanupJob periodically removes expired grants from the SQL store.
// Redis grants expire on their own and in-memory grants are dropped on
// restart.
func addGrantCleanupJob(
	m *graceful.Manager,
	cfg *config.Config,
	sql *store.Store,
	recorder core.Recorder,
	logger *slog.Logger,
) {
	if sql == nil || cfg.StoreDriver == config.StoreDriverRedis || cfg.GrantCleanupInterval <= 0 {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.GrantCleanupInterval)
		defer ticker.Stop()

		// Run cleanup immediately on startup
		cleanupExpiredGrants(ctx, sql, recorder, logger)

		for {
			select {
			case <-ticker.C:
				cleanupExpiredGrants(ctx, sql, recorder, logger)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func cleanupExpiredGrants(
	ctx context.Context,
	sql *store.Store,
	recorder core.Recorder,
	logger *slog.Logger,
) {
	deleted, err := sql.DeleteExpiredGrants(ctx)
	switch {
	case err != nil:
		recorder.RecordStoreError("grants", "delete_expired")
		logger.ErrorContext(ctx, "failed to cleanup expired grants", "error", err)
	case deleted > 0:
		logger.InfoContext(ctx, "cleaned up expired grants", "count", deleted)
	}
}
