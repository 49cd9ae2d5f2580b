package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-authgate/authcore/internal/cache"
	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/container"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/models"
	"github.com/go-authgate/authcore/internal/session"
	"github.com/go-authgate/authcore/internal/store"

	"github.com/redis/go-redis/v9"
)

// kindSQLStore is the shared gorm store backing the SQL drivers.
const kindSQLStore = "store.SQL"

const (
	redisGrantPrefix   = "authcore:grants:"
	redisSessionPrefix = "authcore:sessions:"
)

// standardIdentityResources are the OpenID Connect scopes served by the
// in-memory resource store.
var standardIdentityResources = []models.IdentityResource{
	{Name: "openid", DisplayName: "Your user identifier", Enabled: true, UserClaims: models.StringArray{"sub"}},
	{Name: "profile", DisplayName: "User profile", Enabled: true, UserClaims: models.StringArray{"name", "preferred_username"}},
	{Name: "email", DisplayName: "Your email address", Enabled: true, UserClaims: models.StringArray{"email", "email_verified"}},
}

// registerServices fills the container according to the configured store
// driver and session tracker.
func registerServices(
	c *container.Container,
	cfg *config.Config,
	redisClient *redis.Client,
	logger *slog.Logger,
) error {
	if err := registerStores(c, cfg, redisClient, logger); err != nil {
		return err
	}
	return registerSessionTracker(c, cfg)
}

func registerStores(
	c *container.Container,
	cfg *config.Config,
	redisClient *redis.Client,
	logger *slog.Logger,
) error {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		return registerInMemoryStores(c, cfg, logger)

	case config.StoreDriverSQLite, config.StoreDriverPostgres:
		if err := registerSQLStore(c, cfg.StoreDriver, cfg.DatabaseDSN); err != nil {
			return err
		}
		for _, kind := range []string{core.KindGrantStore, core.KindClientStore, core.KindResourceStore} {
			if err := c.Register(kind, container.Singleton, fromSQLStore); err != nil {
				return err
			}
		}
		return nil

	case config.StoreDriverRedis:
		if redisClient == nil {
			return fmt.Errorf("store driver %q requires a redis client", cfg.StoreDriver)
		}
		if err := c.AddSingleton(core.KindGrantStore, store.NewRedisGrantStore(redisClient, redisGrantPrefix)); err != nil {
			return err
		}
		if err := registerSQLStore(c, cfg.DatabaseDriver, cfg.DatabaseDSN); err != nil {
			return err
		}
		for _, kind := range []string{core.KindClientStore, core.KindResourceStore} {
			if err := c.Register(kind, container.Singleton, fromSQLStore); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// registerInMemoryStores wires the development stores. A default client is
// seeded so the server is usable out of the box.
func registerInMemoryStores(c *container.Container, cfg *config.Config, logger *slog.Logger) error {
	client := models.Client{
		ClientID:               "authcore-web",
		ClientName:             "AuthCore Web",
		Enabled:                true,
		AllowedScopes:          models.StringArray{"openid", "profile", "email"},
		RedirectURIs:           models.StringArray{cfg.BaseURL + "/signin-oidc"},
		PostLogoutRedirectURIs: models.StringArray{cfg.BaseURL + "/"},
	}
	secret, err := client.GenerateClientSecret()
	if err != nil {
		return fmt.Errorf("generate default client secret: %w", err)
	}
	logger.Info("created default client", "client_id", client.ClientID)
	logger.Info("client secret (save this)", "client_secret", secret)

	if err := store.AddInMemoryPersistedGrants(c); err != nil {
		return err
	}
	if err := store.AddInMemoryClients(c, client); err != nil {
		return err
	}
	return store.AddInMemoryIdentityResources(c, standardIdentityResources...)
}

// registerSQLStore registers a lazily opened gorm store. Opening happens on
// first resolution, so a broken DSN surfaces during startup validation.
func registerSQLStore(c *container.Container, driver, dsn string) error {
	return c.Register(kindSQLStore, container.Singleton, func(ctx context.Context, _ *container.Scope) (any, error) {
		return store.New(ctx, driver, dsn)
	})
}

func fromSQLStore(_ context.Context, s *container.Scope) (any, error) {
	return container.Resolve[*store.Store](s, kindSQLStore)
}

func registerSessionTracker(c *container.Container, cfg *config.Config) error {
	switch cfg.SessionTrackerType {
	case config.SessionTrackerMemory:
		return c.AddSingleton(
			core.KindSessionTracker,
			session.NewCacheTracker(cache.NewMemoryCache[[]string](), cfg.SessionTrackerTTL),
		)
	case config.SessionTrackerRedis:
		return c.Register(core.KindSessionTracker, container.Singleton,
			func(ctx context.Context, _ *container.Scope) (any, error) {
				rc, err := cache.NewRueidisCache[[]string](
					ctx,
					cfg.RedisAddr,
					cfg.RedisPassword,
					cfg.RedisDB,
					redisSessionPrefix,
				)
				if err != nil {
					return nil, err
				}
				return session.NewCacheTracker(rc, cfg.SessionTrackerTTL), nil
			})
	default:
		return fmt.Errorf("unsupported session tracker %q", cfg.SessionTrackerType)
	}
}

// runtimeServices are the stores resolved once startup validation passed.
type runtimeServices struct {
	grants    core.GrantStore
	clients   core.ClientStore
	resources core.ResourceStore
	tracker   core.SessionTracker
	// sql is nil unless a SQL driver is configured.
	sql *store.Store
}

// resolveRuntimeServices resolves the singletons used for serving. The scope
// only owns scoped instances, so closing it leaves the singletons alive. An
// unavailable session tracker is replaced by one in process memory.
func resolveRuntimeServices(
	ctx context.Context,
	c *container.Container,
	trackerTTL time.Duration,
	logger *slog.Logger,
) (*runtimeServices, error) {
	scope := c.NewScope(ctx)
	defer scope.Close()

	var (
		rs  runtimeServices
		err error
	)
	if rs.grants, err = container.Resolve[core.GrantStore](scope, core.KindGrantStore); err != nil {
		return nil, err
	}
	if rs.clients, err = container.Resolve[core.ClientStore](scope, core.KindClientStore); err != nil {
		return nil, err
	}
	if rs.resources, err = container.Resolve[core.ResourceStore](scope, core.KindResourceStore); err != nil {
		return nil, err
	}
	if rs.tracker, err = container.Resolve[core.SessionTracker](scope, core.KindSessionTracker); err != nil {
		logger.WarnContext(ctx, "using in-memory session tracker", "error", err)
		rs.tracker = session.NewCacheTracker(cache.NewMemoryCache[[]string](), trackerTTL)
	}
	if c.Has(kindSQLStore) {
		if rs.sql, err = container.Resolve[*store.Store](scope, kindSQLStore); err != nil {
			return nil, err
		}
	}
	return &rs, nil
}
