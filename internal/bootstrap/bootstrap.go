// Package bootstrap assembles the server: stores are registered in the
// container, startup validation runs, the authentication schemes and the
// request pipeline are built, and the HTTP server is run under a graceful
// shutdown manager.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-authgate/authcore/internal/authn/bearer"
	"github.com/go-authgate/authcore/internal/client"
	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/container"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/endpoints"
	"github.com/go-authgate/authcore/internal/metrics"
	"github.com/go-authgate/authcore/internal/signout"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// notifyConcurrency bounds parallel back-channel deliveries per sign-out.
const notifyConcurrency = 8

// Application holds all initialized components
type Application struct {
	Config *config.Config
	Logger *slog.Logger

	// Core infrastructure
	Recorder    metrics.Recorder
	RedisClient *redis.Client
	Container   *container.Container
	Validator   *Validator
	services    *runtimeServices

	// Authentication
	schemes     *schemeSet
	limiters    rateLimitMiddlewares
	Coordinator *signout.Coordinator
	Endpoints   *endpoints.Handler

	// HTTP
	Router *gin.Engine
	Server *http.Server
}

// Run initializes and starts the application. It blocks until shutdown.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	app.startWithGracefulShutdown()
	return nil
}

// New builds the application without starting the server. Startup
// validation runs before any scheme or route is built; a failure is returned
// as a joined error of *ConfigurationError values.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	app := &Application{Config: cfg, Logger: logger}

	// Phase 1: Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Phase 2: Initialize infrastructure
	if err := app.initializeInfrastructure(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	// Phase 3: Validate required services
	if err := app.validateServices(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	// Phase 4: Initialize authentication
	if err := app.initializeAuthentication(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	// Phase 5: Initialize HTTP layer
	if err := app.initializeHTTPLayer(); err != nil {
		_ = app.Close()
		return nil, err
	}

	return app, nil
}

// initializeInfrastructure sets up metrics, Redis and the service container
func (app *Application) initializeInfrastructure(ctx context.Context) error {
	var err error

	app.Recorder = metrics.Init(app.Config.MetricsEnabled)

	app.RedisClient, err = initializeRedisClient(ctx, app.Config, app.Logger)
	if err != nil {
		return err
	}

	app.Container = container.New()
	if err := registerServices(app.Container, app.Config, app.RedisClient, app.Logger); err != nil {
		return err
	}
	app.Container.Freeze()

	app.Validator = NewValidator(app.Container, app.Logger, app.Recorder, startupRequirements()...)
	return nil
}

// validateServices runs startup validation and resolves the stores used for
// serving.
func (app *Application) validateServices(ctx context.Context) error {
	if app.Config.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.Config.StartupTimeout)
		defer cancel()
	}

	if err := app.Validator.Validate(ctx); err != nil {
		return err
	}

	services, err := resolveRuntimeServices(ctx, app.Container, app.Config.SessionTrackerTTL, app.Logger)
	if err != nil {
		return err
	}
	app.services = services
	return nil
}

// startupRequirements are the default store requirements plus the session
// tracker, which may fall back to process memory.
func startupRequirements() []Requirement {
	return append(slices.Clone(DefaultRequirements), Requirement{
		Kind:     core.KindSessionTracker,
		Message:  "Session tracker unavailable. Falling back to an in-memory tracker; back-channel logout will only reach clients joined on this instance.",
		Optional: true,
	})
}

// initializeAuthentication builds the schemes, the sign-out coordinator and
// the protocol endpoints.
func (app *Application) initializeAuthentication(ctx context.Context) error {
	cfg := app.Config

	schemes, err := initializeSchemes(ctx, cfg, app.services.grants, app.Recorder, app.Logger)
	if err != nil {
		return err
	}
	app.schemes = schemes

	app.limiters, err = setupRateLimiting(cfg, app.RedisClient, app.Logger)
	if err != nil {
		return err
	}

	retryClient, err := client.CreateRetryClient(
		cfg.BackChannelTimeout,
		cfg.BackChannelInsecureSkipVerify,
		cfg.BackChannelMaxRetries,
		cfg.BackChannelRetryDelay,
		cfg.BackChannelMaxRetryDelay,
	)
	if err != nil {
		return err
	}

	app.Coordinator, err = signout.New(signout.Options{
		Dispatcher: schemes.dispatcher,
		Tracker:    app.services.tracker,
		Clients:    app.services.clients,
		Notifier: signout.NewBackChannelNotifier(
			retryClient,
			cfg.Issuer,
			[]byte(cfg.JWTSecret),
			cfg.LogoutTokenLifetime,
		),
		LocalScheme: SchemeCookie,
		Callbacks:   signOutCallbacks(cfg, schemes.dispatcher.Registry(), app.Logger),
		PathBase:    cfg.PathBase,
		Concurrency: notifyConcurrency,
		Recorder:    app.Recorder,
		Logger:      app.Logger,
	})
	if err != nil {
		return err
	}

	opts := endpoints.Options{
		Dispatcher:           schemes.dispatcher,
		Clients:              app.services.clients,
		Grants:               app.services.grants,
		Resources:            app.services.resources,
		Tracker:              app.services.tracker,
		Tokens:               bearer.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.Issuer, app.services.grants),
		Notifier:             app.Coordinator,
		Issuer:               cfg.Issuer,
		LocalScheme:          SchemeCookie,
		BearerScheme:         SchemeBearer,
		EndSessionMiddleware: []gin.HandlerFunc{app.limiters.endSession},
		Logger:               app.Logger,
	}
	if schemes.external != nil {
		opts.ExternalScheme = SchemeExternal
		opts.ExternalLogin = cfg.LoginPath
		opts.ExternalCallback = schemes.external.Callback(schemes.dispatcher, SchemeCookie)
		opts.ExternalCallbackPath = externalCallbackPath(cfg)
	}
	app.Endpoints, err = endpoints.New(opts)
	return err
}

// initializeHTTPLayer sets up the router and server
func (app *Application) initializeHTTPLayer() error {
	router, err := app.setupRouter()
	if err != nil {
		return err
	}
	app.Router = router
	app.Server = createHTTPServer(app.Config, app.Router)
	return nil
}

// startWithGracefulShutdown starts the server and handles graceful shutdown
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	addServerRunningJob(m, app.Server, app.Logger)
	addGrantCleanupJob(m, app.Config, app.services.sql, app.Recorder, app.Logger)
	addServerShutdownJob(m, app.Server, app.Config.ShutdownTimeout, app.Logger,
		closeContainer(app.Container, app.Logger),
		closeRedisClient(app.RedisClient, app.Logger),
	)

	<-m.Done()
}

// Close releases the container singletons and the Redis client. It is used
// when startup fails and by tests; a running server releases them through
// its shutdown jobs.
func (app *Application) Close() error {
	var errs []error
	if app.Container != nil {
		errs = append(errs, app.Container.Close())
	}
	if app.RedisClient != nil {
		errs = append(errs, app.RedisClient.Close())
	}
	return errors.Join(errs...)
}
