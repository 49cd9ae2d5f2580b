// Package endpoints serves the protocol endpoints of the identity provider:
// discovery, authorize, token, userinfo, end-session and the external
// sign-in routes.
package endpoints

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/authn/bearer"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/signout"

	"github.com/gin-gonic/gin"
)

// Route paths relative to the path base.
const (
	PathDiscovery  = "/.well-known/openid-configuration"
	PathAuthorize  = "/connect/authorize"
	PathToken      = "/connect/token"
	PathUserInfo   = "/connect/userinfo"
	PathEndSession = "/connect/endsession"
)

// SessionNotifier notifies the clients that joined a session which ended.
type SessionNotifier interface {
	NotifySession(ctx context.Context, scheme, sessionID, subject string) *signout.Notification
}

// Options configures the endpoints.
type Options struct {
	Dispatcher authn.Dispatcher
	Clients    core.ClientStore
	Grants     core.GrantStore
	Resources  core.ResourceStore
	Tracker    core.SessionTracker
	Tokens     *bearer.TokenIssuer
	Notifier   SessionNotifier

	// Issuer overrides the issuer advertised by discovery. Empty uses the
	// request base URL.
	Issuer string

	LocalScheme  string
	BearerScheme string

	// ExternalScheme enables the external login routes when set.
	ExternalScheme   string
	ExternalLogin    string
	ExternalCallback gin.HandlerFunc
	// ExternalCallbackPath is where the upstream provider redirects back to.
	ExternalCallbackPath string

	CodeLifetime  time.Duration
	TokenLifetime time.Duration

	// EndSessionMiddleware runs before the end-session handler, typically
	// rate limiting.
	EndSessionMiddleware []gin.HandlerFunc

	Logger *slog.Logger
	Now    func() time.Time
}

// Handler serves the protocol endpoints.
type Handler struct {
	opts Options
}

// New validates opts and returns the endpoint handler.
func New(opts Options) (*Handler, error) {
	var errs []error
	if opts.Dispatcher == nil {
		errs = append(errs, errors.New("endpoints: dispatcher is required"))
	}
	if opts.Clients == nil {
		errs = append(errs, errors.New("endpoints: client store is required"))
	}
	if opts.Grants == nil {
		errs = append(errs, errors.New("endpoints: grant store is required"))
	}
	if opts.Resources == nil {
		errs = append(errs, errors.New("endpoints: resource store is required"))
	}
	if opts.Tracker == nil {
		errs = append(errs, errors.New("endpoints: session tracker is required"))
	}
	if opts.Tokens == nil {
		errs = append(errs, errors.New("endpoints: token issuer is required"))
	}
	if opts.LocalScheme == "" {
		errs = append(errs, errors.New("endpoints: local scheme is required"))
	}
	if opts.ExternalScheme != "" && opts.ExternalCallback == nil {
		errs = append(errs, errors.New("endpoints: external callback is required with an external scheme"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if opts.BearerScheme == "" {
		opts.BearerScheme = "bearer"
	}
	if opts.ExternalLogin == "" {
		opts.ExternalLogin = "/external/login"
	}
	if opts.ExternalCallbackPath == "" {
		opts.ExternalCallbackPath = "/signin-external"
	}
	if opts.CodeLifetime <= 0 {
		opts.CodeLifetime = 5 * time.Minute
	}
	if opts.TokenLifetime <= 0 {
		opts.TokenLifetime = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{opts: opts}, nil
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET(PathDiscovery, h.Discovery)
	r.GET(PathAuthorize, h.Authorize)
	r.POST(PathToken, h.Token)
	r.GET(PathUserInfo, h.UserInfo)
	r.POST(PathUserInfo, h.UserInfo)

	endSession := append(append([]gin.HandlerFunc{}, h.opts.EndSessionMiddleware...), h.EndSession)
	r.GET(PathEndSession, endSession...)
	r.POST(PathEndSession, endSession...)

	if h.opts.ExternalScheme != "" {
		r.GET(h.opts.ExternalLogin, h.ExternalLogin)
		r.GET(h.opts.ExternalCallbackPath, h.opts.ExternalCallback)
	}
}
