package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/authn/bearer"
	"github.com/go-authgate/authcore/internal/authn/cookie"
	"github.com/go-authgate/authcore/internal/authn/external"
	"github.com/go-authgate/authcore/internal/client"
	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/signout"
)

// Registered scheme names.
const (
	SchemeCookie   = "cookie"
	SchemeBearer   = "bearer"
	SchemeExternal = "external"
)

// schemeSet is the built authentication layer.
type schemeSet struct {
	dispatcher *authn.Service
	cookie     *cookie.Handler
	bearer     *bearer.Handler
	// external is nil unless the upstream provider is enabled.
	external     *external.Handler
	sessionNames []string
}

// initializeSchemes builds the scheme handlers and the dispatcher. The cookie
// scheme is the default; the external scheme is added only when configured,
// and its provider is discovered up front.
func initializeSchemes(
	ctx context.Context,
	cfg *config.Config,
	grants core.GrantStore,
	recorder core.Recorder,
	logger *slog.Logger,
) (*schemeSet, error) {
	cookiePath := cfg.PathBase
	if cookiePath == "" {
		cookiePath = "/"
	}

	set := &schemeSet{
		cookie: cookie.New(SchemeCookie, cookie.Options{
			CookiePath:       cookiePath,
			LoginPath:        cfg.PathBase + cfg.LoginPath,
			AccessDeniedPath: cfg.PathBase + cfg.AccessDeniedPath,
			BaseURL:          cfg.BaseURL,
			ExpireTimeSpan:   cfg.SessionMaxAge,
		}),
		bearer: bearer.New(SchemeBearer, bearer.Options{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.Issuer,
			Grants: grants,
		}),
	}
	set.sessionNames = []string{set.cookie.SessionName()}

	schemes := []authn.Scheme{
		{Name: SchemeCookie, DisplayName: "Local session", Handler: set.cookie},
		{Name: SchemeBearer, DisplayName: "Access token", Handler: set.bearer},
	}

	if cfg.ExternalOIDCEnabled {
		provider, err := discoverExternalProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		set.external = external.New(SchemeExternal, provider, external.Options{
			CookiePath: cookiePath,
			BaseURL:    cfg.BaseURL,
			Lifetime:   cfg.SessionMaxAge,
			Logger:     logger,
		})
		set.sessionNames = append(set.sessionNames, set.external.SessionName())
		schemes = append(schemes, authn.Scheme{
			Name:        SchemeExternal,
			DisplayName: "External provider",
			Handler:     set.external,
		})
		logger.Info("external provider enabled", "issuer", cfg.ExternalIssuer)
	}

	registry, err := authn.NewRegistry(authn.Defaults{Authenticate: SchemeCookie}, schemes...)
	if err != nil {
		return nil, err
	}
	set.dispatcher = authn.NewService(registry,
		authn.WithRecorder(recorder),
		authn.WithLogger(logger),
	)
	return set, nil
}

func discoverExternalProvider(ctx context.Context, cfg *config.Config) (*external.OIDCProvider, error) {
	httpClient, err := client.NewHTTPClient(cfg.ExternalTimeout, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ExternalTimeout)
	defer cancel()

	provider, err := external.Discover(ctx, external.ProviderConfig{
		Issuer:       cfg.ExternalIssuer,
		ClientID:     cfg.ExternalClientID,
		ClientSecret: cfg.ExternalClientSecret,
		RedirectURL:  cfg.ExternalRedirectURL,
		Scopes:       cfg.ExternalScopes,
		HTTPClient:   httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("discover external provider %s: %w", cfg.ExternalIssuer, err)
	}
	return provider, nil
}

// externalCallbackPath derives the callback route, relative to the path
// base, from the configured redirect URL.
func externalCallbackPath(cfg *config.Config) string {
	u, err := url.Parse(cfg.ExternalRedirectURL)
	if err != nil || u.Path == "" {
		return ""
	}
	return strings.TrimPrefix(u.Path, cfg.PathBase)
}

// signOutCallbacks keeps the configured callbacks whose scheme is registered.
func signOutCallbacks(cfg *config.Config, registry *authn.Registry, logger *slog.Logger) []signout.CallbackPath {
	out := make([]signout.CallbackPath, 0, len(cfg.SignOutCallbacks))
	for _, cb := range cfg.SignOutCallbacks {
		if _, ok := registry.Lookup(cb.Scheme); !ok {
			logger.Warn("sign-out callback skipped, scheme not registered",
				"path", cb.Path,
				"scheme", cb.Scheme,
			)
			continue
		}
		out = append(out, signout.CallbackPath{Path: cb.Path, Scheme: cb.Scheme})
	}
	return out
}
