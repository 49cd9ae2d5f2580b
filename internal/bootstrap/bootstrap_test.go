package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/authn/authntest"
	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/logging"
	"github.com/go-authgate/authcore/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:      ":0",
		BaseURL:         "http://localhost:8080",
		Environment:     config.EnvironmentDevelopment,
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: time.Second,
		StartupTimeout:  5 * time.Second,

		SessionSecret: "test-session-secret",
		SessionMaxAge: time.Hour,

		Issuer:           "http://localhost:8080",
		JWTSecret:        "test-jwt-secret",
		LoginPath:        "/external/login",
		AccessDeniedPath: "/access-denied",

		ExternalRedirectURL: "http://localhost:8080/signin-external",
		ExternalTimeout:     time.Second,

		StoreDriver:    config.StoreDriverMemory,
		DatabaseDriver: config.StoreDriverSQLite,
		RedisAddr:      "localhost:6379",

		SessionTrackerType: config.SessionTrackerMemory,
		SessionTrackerTTL:  time.Hour,

		SignOutCallbacks: []config.SignOutCallback{
			{Path: "/signout-external", Scheme: SchemeExternal},
		},

		BackChannelTimeout:       time.Second,
		BackChannelMaxRetries:    1,
		BackChannelRetryDelay:    10 * time.Millisecond,
		BackChannelMaxRetryDelay: 50 * time.Millisecond,
		LogoutTokenLifetime:      5 * time.Minute,

		RateLimitStore:           config.RateLimitStoreMemory,
		SignOutRateLimit:         30,
		EndSessionRateLimit:      30,
		RateLimitCleanupInterval: time.Minute,

		GrantCleanupInterval: time.Hour,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	app, err := New(context.Background(), cfg, logging.New(&buf, "text", slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, &buf
}

func serve(app *Application, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	app.Router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestNew_InMemoryStores(t *testing.T) {
	app, buf := newTestApp(t, testConfig())

	assert.True(t, app.Validator.Ready())
	assert.Nil(t, app.services.sql)
	assert.Contains(t, buf.String(), "in-memory version of the persisted grant store")

	w := serve(app, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ready", body["startup"])
	assert.Equal(t, "connected", body["session_tracker"])

	w = serve(app, http.MethodGet, "/.well-known/openid-configuration")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:8080", decodeBody(t, w)["issuer"])
}

func TestNew_SkipsCallbacksForUnregisteredSchemes(t *testing.T) {
	app, buf := newTestApp(t, testConfig())

	assert.False(t, app.Coordinator.Matches("/signout-external"))
	assert.Contains(t, buf.String(), "sign-out callback skipped")

	w := serve(app, http.MethodGet, "/signout-external")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNew_PathBase(t *testing.T) {
	cfg := testConfig()
	cfg.PathBase = "/identity"
	app, _ := newTestApp(t, cfg)

	w := serve(app, http.MethodGet, "/identity/.well-known/openid-configuration")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(app, http.MethodGet, "/.well-known/openid-configuration")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Health stays at the root.
	w = serve(app, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = config.StoreDriverSQLite
	cfg.DatabaseDSN = filepath.Join(t.TempDir(), "authcore.db")
	app, buf := newTestApp(t, cfg)

	require.NotNil(t, app.services.sql)
	assert.NotContains(t, buf.String(), "in-memory version of the persisted grant store")

	w := serve(app, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connected", decodeBody(t, w)["database"])

	buf.Reset()
	cleanupExpiredGrants(context.Background(), app.services.sql, metrics.NewNoopMetrics(), app.Logger)
	assert.NotContains(t, buf.String(), "failed to cleanup expired grants")
}

func TestNew_EndSessionRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.EnableRateLimit = true
	cfg.EndSessionRateLimit = 1
	app, _ := newTestApp(t, cfg)

	w := serve(app, http.MethodGet, "/connect/endsession")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["signed_out"])

	w = serve(app, http.MethodGet, "/connect/endsession")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestNew_InvalidConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "bogus"

	app, err := New(context.Background(), cfg, logging.New(&bytes.Buffer{}, "text", slog.LevelInfo))
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = config.StoreDriverRedis
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, logging.New(&bytes.Buffer{}, "text", slog.LevelInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestNew_SessionTrackerFallsBackToMemory(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTrackerType = config.SessionTrackerRedis
	cfg.RedisAddr = "127.0.0.1:1"
	app, buf := newTestApp(t, cfg)

	assert.True(t, app.Validator.Ready())
	assert.Contains(t, buf.String(), "level=CRITICAL")
	assert.Contains(t, buf.String(), "Session tracker unavailable")
	assert.Contains(t, buf.String(), "using in-memory session tracker")
	require.NotNil(t, app.services.tracker)
}

func TestSignOutCallbacks(t *testing.T) {
	registry, err := authn.NewRegistry(
		authn.Defaults{Authenticate: SchemeCookie},
		authn.Scheme{Name: SchemeCookie, Handler: authntest.NewHandler(SchemeCookie)},
		authn.Scheme{Name: SchemeExternal, Handler: authntest.NewHandler(SchemeExternal)},
	)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SignOutCallbacks = []config.SignOutCallback{
		{Path: "/signout-external", Scheme: SchemeExternal},
		{Path: "/signout-partner", Scheme: "partner"},
	}

	got := signOutCallbacks(cfg, registry, logging.New(&bytes.Buffer{}, "text", slog.LevelInfo))
	require.Len(t, got, 1)
	assert.Equal(t, "/signout-external", got[0].Path)
	assert.Equal(t, SchemeExternal, got[0].Scheme)
}

func TestExternalCallbackPath(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		pathBase string
		want     string
	}{
		{"root", "https://id.example.com/signin-external", "", "/signin-external"},
		{"path base stripped", "https://id.example.com/identity/signin-external", "/identity", "/signin-external"},
		{"no path", "https://id.example.com", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ExternalRedirectURL = tt.redirect
			cfg.PathBase = tt.pathBase
			assert.Equal(t, tt.want, externalCallbackPath(cfg))
		})
	}
}

func TestSetupRateLimiting_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.EnableRateLimit = false

	limiters, err := setupRateLimiting(cfg, nil, logging.New(&bytes.Buffer{}, "text", slog.LevelInfo))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/", limiters.endSession, limiters.signOut, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for range 5 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
