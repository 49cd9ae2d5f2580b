package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-authgate/authcore/internal/authn/cookie"
	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/metrics"
	"github.com/go-authgate/authcore/internal/middleware"
	"github.com/go-authgate/authcore/internal/pipeline"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"

	healthCheckTimeout = 2 * time.Second
)

// setupRouter configures the Gin router with all routes and middleware
func (app *Application) setupRouter() (*gin.Engine, error) {
	cfg := app.Config

	setupGinMode(cfg, app.Logger)
	r := gin.New()

	r.Use(metrics.HTTPMetricsMiddleware(app.Recorder, healthPath, metricsPath))
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.RequestContext())
	setupSessionMiddleware(r, cfg, app.schemes.sessionNames)

	// Registered before the pipeline so they bypass authentication.
	r.GET(healthPath, app.healthHandler)
	setupMetricsEndpoint(r, cfg, app.Logger)

	composer, err := pipeline.New(pipeline.Options{
		Readiness:             app.Validator,
		ReadinessExempt:       []string{healthPath, metricsPath},
		BaseURL:               cfg.BaseURL,
		PathBase:              cfg.PathBase,
		TrustForwardedHeaders: cfg.TrustForwardedHeaders,
		CORSAllowedOrigins:    cfg.CORSAllowedOrigins,
		Dispatcher:            app.schemes.dispatcher,
		FederatedSignOut: []gin.HandlerFunc{
			onCallbackPaths(app.Coordinator, app.limiters.signOut),
			app.Coordinator.Middleware(),
		},
		Endpoints: app.Endpoints.Register,
		Logger:    app.Logger,
	})
	if err != nil {
		return nil, err
	}
	composer.Mount(r)

	logServerStartup(cfg, app.Logger, composer.Stages())
	return r, nil
}

// setupSessionMiddleware registers one gin-contrib session per cookie-backed
// scheme, all sharing one signed cookie store.
func setupSessionMiddleware(r *gin.Engine, cfg *config.Config, names []string) {
	store := cookie.NewStore(cfg.SessionSecret, cfg.SessionMaxAge, cfg.SessionSecure, cfg.SameSiteMode())
	r.Use(sessions.SessionsMany(names, store))
}

// setupMetricsEndpoint configures the Prometheus metrics endpoint
func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	switch {
	case !cfg.MetricsEnabled:
		logger.Info("prometheus metrics disabled")
	case cfg.MetricsToken != "":
		logger.Info("prometheus metrics enabled with bearer token authentication", "path", metricsPath)
		r.GET(
			metricsPath,
			middleware.MetricsAuthMiddleware(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	default:
		logger.Info("prometheus metrics enabled without authentication", "path", metricsPath)
		r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}
}

// healthChecker is implemented by stores and caches that can probe their
// backend.
type healthChecker interface {
	Health(ctx context.Context) error
}

// healthHandler reports startup validation state and backend connectivity.
func (app *Application) healthHandler(c *gin.Context) {
	state := app.Validator.State()
	status := http.StatusOK
	body := gin.H{
		"status":  "healthy",
		"startup": state.String(),
	}
	if state != StateReady {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	for _, check := range app.healthChecks() {
		if err := check.probe.Health(ctx); err != nil {
			app.Logger.WarnContext(ctx, "health check failed", "component", check.name, "error", err)
			body[check.name] = "disconnected"
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			continue
		}
		body[check.name] = "connected"
	}

	c.JSON(status, body)
}

type namedCheck struct {
	name  string
	probe healthChecker
}

func (app *Application) healthChecks() []namedCheck {
	if app.services == nil {
		return nil
	}
	var checks []namedCheck
	if app.services.sql != nil {
		checks = append(checks, namedCheck{name: "database", probe: app.services.sql})
	}
	if hc, ok := app.services.grants.(healthChecker); ok && hc != healthChecker(app.services.sql) {
		checks = append(checks, namedCheck{name: "grant_store", probe: hc})
	}
	if hc, ok := app.services.tracker.(healthChecker); ok {
		checks = append(checks, namedCheck{name: "session_tracker", probe: hc})
	}
	return checks
}

// setupGinMode sets Gin mode based on environment configuration
func setupGinMode(cfg *config.Config, logger *slog.Logger) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info("gin mode", "mode", gin.Mode())
}

// logServerStartup logs the effective listen address and pipeline layout
func logServerStartup(cfg *config.Config, logger *slog.Logger, stages []string) {
	logger.Info("server configured",
		"addr", cfg.ServerAddr,
		"base_url", cfg.BaseURL,
		"path_base", cfg.PathBase,
		"store", cfg.StoreDriver,
		"pipeline", stages,
	)
}
