package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store driver constants
const (
	StoreDriverMemory   = "memory"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis" // grants in Redis, clients and resources in SQLite/Postgres
)

// Session cookie SameSite values
const (
	SameSiteLax    = "lax"
	SameSiteStrict = "strict"
	SameSiteNone   = "none"
)

// Session tracker type constants
const (
	SessionTrackerMemory = "memory"
	SessionTrackerRedis  = "redis"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Environment constants
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// SignOutCallback binds a federated sign-out callback path to the scheme
// whose session it ends.
type SignOutCallback struct {
	Path   string
	Scheme string
}

type Config struct {
	// Server settings
	ServerAddr      string
	BaseURL         string
	PathBase        string
	Environment     string
	LogLevel        string
	LogFormat       string // "text" or "json"
	ShutdownTimeout time.Duration
	StartupTimeout  time.Duration

	// TrustForwardedHeaders derives the public origin from X-Forwarded-*.
	TrustForwardedHeaders bool

	// Session settings
	SessionSecret string
	SessionMaxAge time.Duration
	SessionSecure bool

	// SessionSameSite must be "none" for front-channel sign-out callbacks
	// loaded in a cross-site iframe to carry the session cookies.
	SessionSameSite string

	// Authentication schemes
	Issuer           string
	JWTSecret        string
	LoginPath        string
	AccessDeniedPath string

	// External OIDC provider
	ExternalOIDCEnabled  bool
	ExternalIssuer       string
	ExternalClientID     string
	ExternalClientSecret string
	ExternalRedirectURL  string
	ExternalScopes       []string
	ExternalTimeout      time.Duration

	// Storage
	StoreDriver string // "memory", "sqlite", "postgres" or "redis"
	DatabaseDSN string
	// DatabaseDriver is the SQL driver used next to the redis grant store.
	DatabaseDriver string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session tracker
	SessionTrackerType string
	SessionTrackerTTL  time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Federated sign-out
	SignOutCallbacks []SignOutCallback

	// Back-channel logout notifications
	BackChannelTimeout            time.Duration
	BackChannelMaxRetries         int
	BackChannelRetryDelay         time.Duration
	BackChannelMaxRetryDelay      time.Duration
	BackChannelInsecureSkipVerify bool
	LogoutTokenLifetime           time.Duration

	// Rate limiting
	EnableRateLimit          bool
	RateLimitStore           string
	SignOutRateLimit         int // requests per minute
	EndSessionRateLimit      int // requests per minute
	RateLimitCleanupInterval time.Duration

	// Metrics
	MetricsEnabled bool
	MetricsToken   string

	// Maintenance
	GrantCleanupInterval time.Duration
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	driver := getEnv("STORE_DRIVER", StoreDriverMemory)
	dsn := getEnv("DATABASE_DSN", "")
	if dsn == "" && (driver == StoreDriverSQLite || driver == StoreDriverRedis) {
		dsn = "authcore.db"
	}
	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	return &Config{
		ServerAddr:      getEnv("SERVER_ADDR", ":8080"),
		BaseURL:         baseURL,
		PathBase:        getEnv("PATH_BASE", ""),
		Environment:     getEnv("ENVIRONMENT", EnvironmentDevelopment),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		StartupTimeout:  getEnvDuration("STARTUP_TIMEOUT", 30*time.Second),

		TrustForwardedHeaders: getEnvBool("TRUST_FORWARDED_HEADERS", false),

		SessionSecret: getEnv("SESSION_SECRET", "session-secret-change-in-production"),
		SessionMaxAge: getEnvDuration("SESSION_MAX_AGE", 8*time.Hour),
		SessionSecure: getEnvBool("SESSION_SECURE", false),

		SessionSameSite: getEnv("SESSION_SAME_SITE", SameSiteLax),

		Issuer:           getEnv("ISSUER", baseURL),
		JWTSecret:        getEnv("JWT_SECRET", "your-256-bit-secret-change-in-production"),
		LoginPath:        getEnv("LOGIN_PATH", "/external/login"),
		AccessDeniedPath: getEnv("ACCESS_DENIED_PATH", "/access-denied"),

		ExternalOIDCEnabled:  getEnvBool("EXTERNAL_OIDC_ENABLED", false),
		ExternalIssuer:       getEnv("EXTERNAL_OIDC_ISSUER", ""),
		ExternalClientID:     getEnv("EXTERNAL_OIDC_CLIENT_ID", ""),
		ExternalClientSecret: getEnv("EXTERNAL_OIDC_CLIENT_SECRET", ""),
		ExternalRedirectURL:  getEnv("EXTERNAL_OIDC_REDIRECT_URL", baseURL+"/signin-external"),
		ExternalScopes:       getEnvSlice("EXTERNAL_OIDC_SCOPES", []string{"openid", "profile", "email"}),
		ExternalTimeout:      getEnvDuration("EXTERNAL_OIDC_TIMEOUT", 15*time.Second),

		StoreDriver:    driver,
		DatabaseDSN:    dsn,
		DatabaseDriver: getEnv("DATABASE_DRIVER", StoreDriverSQLite),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SessionTrackerType: getEnv("SESSION_TRACKER_TYPE", SessionTrackerMemory),
		SessionTrackerTTL:  getEnvDuration("SESSION_TRACKER_TTL", 24*time.Hour),

		CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", nil),

		SignOutCallbacks: parseSignOutCallbacks(
			getEnvSlice("SIGNOUT_CALLBACK_PATHS", []string{"/signout-external=external"}),
		),

		BackChannelTimeout:            getEnvDuration("BACKCHANNEL_TIMEOUT", 5*time.Second),
		BackChannelMaxRetries:         getEnvInt("BACKCHANNEL_MAX_RETRIES", 3),
		BackChannelRetryDelay:         getEnvDuration("BACKCHANNEL_RETRY_DELAY", 500*time.Millisecond),
		BackChannelMaxRetryDelay:      getEnvDuration("BACKCHANNEL_MAX_RETRY_DELAY", 5*time.Second),
		BackChannelInsecureSkipVerify: getEnvBool("BACKCHANNEL_INSECURE_SKIP_VERIFY", false),
		LogoutTokenLifetime:           getEnvDuration("LOGOUT_TOKEN_LIFETIME", 5*time.Minute),

		EnableRateLimit:          getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:           getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		SignOutRateLimit:         getEnvInt("SIGNOUT_RATE_LIMIT", 30),
		EndSessionRateLimit:      getEnvInt("END_SESSION_RATE_LIMIT", 30),
		RateLimitCleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsToken:   getEnv("METRICS_TOKEN", ""),

		GrantCleanupInterval: getEnvDuration("GRANT_CLEANUP_INTERVAL", time.Hour),
	}
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// Validate checks enumerated values and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverMemory, StoreDriverSQLite, StoreDriverPostgres:
	case StoreDriverRedis:
		if c.DatabaseDriver != StoreDriverSQLite && c.DatabaseDriver != StoreDriverPostgres {
			errs = append(errs, fmt.Errorf("invalid DATABASE_DRIVER value: %q", c.DatabaseDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_DRIVER value: %q", c.StoreDriver))
	}
	if c.StoreDriver == StoreDriverPostgres && c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required for the postgres store"))
	}

	switch c.SessionSameSite {
	case "", SameSiteLax, SameSiteStrict:
	case SameSiteNone:
		if !c.SessionSecure {
			errs = append(errs, errors.New("SESSION_SAME_SITE=none requires SESSION_SECURE"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid SESSION_SAME_SITE value: %q", c.SessionSameSite))
	}

	switch c.SessionTrackerType {
	case SessionTrackerMemory, SessionTrackerRedis:
	default:
		errs = append(errs, fmt.Errorf("invalid SESSION_TRACKER_TYPE value: %q", c.SessionTrackerType))
	}

	switch c.RateLimitStore {
	case RateLimitStoreMemory, RateLimitStoreRedis:
	default:
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_STORE value: %q", c.RateLimitStore))
	}

	if c.PathBase != "" && (!strings.HasPrefix(c.PathBase, "/") || strings.HasSuffix(c.PathBase, "/")) {
		errs = append(errs, fmt.Errorf("PATH_BASE must start and not end with '/': %q", c.PathBase))
	}

	for _, cb := range c.SignOutCallbacks {
		if !strings.HasPrefix(cb.Path, "/") || cb.Scheme == "" {
			errs = append(errs, fmt.Errorf("invalid SIGNOUT_CALLBACK_PATHS entry: %q", cb.Path+"="+cb.Scheme))
		}
	}

	if c.ExternalOIDCEnabled && (c.ExternalIssuer == "" || c.ExternalClientID == "") {
		errs = append(errs, errors.New("EXTERNAL_OIDC_ISSUER and EXTERNAL_OIDC_CLIENT_ID are required when EXTERNAL_OIDC_ENABLED"))
	}

	if c.IsProduction() {
		if c.SessionSecret == "session-secret-change-in-production" {
			errs = append(errs, errors.New("SESSION_SECRET must be changed in production"))
		}
		if c.JWTSecret == "your-256-bit-secret-change-in-production" {
			errs = append(errs, errors.New("JWT_SECRET must be changed in production"))
		}
	}

	return errors.Join(errs...)
}

// SameSiteMode returns the SameSite attribute for session cookies.
func (c *Config) SameSiteMode() http.SameSite {
	switch c.SessionSameSite {
	case SameSiteStrict:
		return http.SameSiteStrictMode
	case SameSiteNone:
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// parseSignOutCallbacks parses "path=scheme" entries.
func parseSignOutCallbacks(entries []string) []SignOutCallback {
	out := make([]SignOutCallback, 0, len(entries))
	for _, e := range entries {
		path, scheme, _ := strings.Cut(e, "=")
		out = append(out, SignOutCallback{
			Path:   strings.TrimSpace(path),
			Scheme: strings.TrimSpace(scheme),
		})
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if parts := splitAndTrim(value, ","); len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
