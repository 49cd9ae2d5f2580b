// Package pipeline composes the request pipeline in a fixed stage order:
// readiness gate, base URL, CORS, authentication, federated sign-out and
// finally the protocol endpoints.
package pipeline

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-authgate/authcore/internal/authn"

	"github.com/gin-gonic/gin"
)

// Stage names in execution order.
const (
	StageReadiness        = "readiness"
	StageBaseURL          = "base_url"
	StageCORS             = "cors"
	StageAuthentication   = "authentication"
	StageFederatedSignOut = "federated_signout"
	StageEndpoints        = "endpoints"
)

// Readiness reports whether startup validation completed.
type Readiness interface {
	Ready() bool
}

// Options is built once at startup. New copies it, so later changes by the
// caller have no effect on a composed pipeline.
type Options struct {
	Readiness Readiness
	// ReadinessExempt lists paths served before the service is ready.
	ReadinessExempt []string

	// BaseURL is the public origin, PathBase the prefix every endpoint is
	// mounted under.
	BaseURL  string
	PathBase string

	// TrustForwardedHeaders lets X-Forwarded-Host and X-Forwarded-Proto
	// override BaseURL. Enable only behind a proxy that sets them.
	TrustForwardedHeaders bool

	CORSAllowedOrigins []string

	Dispatcher authn.Dispatcher
	// AuthenticationScheme is authenticated for every request; empty
	// selects the dispatcher's default.
	AuthenticationScheme string

	// FederatedSignOut intercepts sign-out callbacks. Handlers run in order;
	// none disables the stage.
	FederatedSignOut []gin.HandlerFunc

	// Endpoints registers the protocol endpoints below PathBase.
	Endpoints func(r gin.IRouter)

	Logger *slog.Logger
}

// Stage is one named step of the pipeline.
type Stage struct {
	Name     string
	Handlers []gin.HandlerFunc
}

// Composer holds the composed stages.
type Composer struct {
	opts   Options
	stages []Stage
}

// New validates opts and composes the stages.
func New(opts Options) (*Composer, error) {
	var errs []error
	if opts.Readiness == nil {
		errs = append(errs, errors.New("pipeline: readiness is required"))
	}
	if opts.Dispatcher == nil {
		errs = append(errs, errors.New("pipeline: dispatcher is required"))
	}
	if opts.Endpoints == nil {
		errs = append(errs, errors.New("pipeline: endpoints are required"))
	}
	if opts.PathBase != "" && (!strings.HasPrefix(opts.PathBase, "/") || strings.HasSuffix(opts.PathBase, "/")) {
		errs = append(errs, errors.New("pipeline: path base must start and not end with '/'"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	opts.ReadinessExempt = slices.Clone(opts.ReadinessExempt)
	opts.CORSAllowedOrigins = slices.Clone(opts.CORSAllowedOrigins)
	opts.FederatedSignOut = slices.Clone(opts.FederatedSignOut)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	co := &Composer{opts: opts}
	co.stages = []Stage{
		{Name: StageReadiness, Handlers: one(readinessGate(opts.Readiness, opts.ReadinessExempt))},
		{Name: StageBaseURL, Handlers: one(baseURL(opts.BaseURL, opts.PathBase, opts.TrustForwardedHeaders))},
		{Name: StageCORS, Handlers: one(corsStage(opts.CORSAllowedOrigins))},
		{Name: StageAuthentication, Handlers: one(authentication(opts.Dispatcher, opts.AuthenticationScheme, opts.Logger))},
		{Name: StageFederatedSignOut, Handlers: opts.FederatedSignOut},
	}
	return co, nil
}

// Stages returns the stage names in execution order, endpoints last.
func (co *Composer) Stages() []string {
	names := make([]string, 0, len(co.stages)+1)
	for _, s := range co.stages {
		names = append(names, s.Name)
	}
	return append(names, StageEndpoints)
}

// Mount installs the stages as global middleware and registers the
// endpoints below the path base. Global middleware also runs for requests
// that match no route, so callback paths need no route of their own.
func (co *Composer) Mount(engine *gin.Engine) {
	for _, s := range co.stages {
		if len(s.Handlers) > 0 {
			engine.Use(s.Handlers...)
		}
	}
	co.opts.Endpoints(engine.Group(co.opts.PathBase))
}

func one(h gin.HandlerFunc) []gin.HandlerFunc {
	return []gin.HandlerFunc{h}
}

func passThrough(c *gin.Context) {
	c.Next()
}
