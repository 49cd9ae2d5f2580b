package authn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Operation names used in errors and logs.
const (
	OpAuthenticate = "authenticate"
	OpChallenge    = "challenge"
	OpForbid       = "forbid"
	OpSignIn       = "sign-in"
	OpSignOut      = "sign-out"
)

// Dispatcher is the scheme-keyed authentication API consumed by pipeline
// stages and endpoints. An empty scheme selects the registry default.
type Dispatcher interface {
	Authenticate(c *gin.Context, scheme string) (*Result, error)
	Challenge(c *gin.Context, scheme string, props *Properties) error
	Forbid(c *gin.Context, scheme string, props *Properties) error
	SignIn(c *gin.Context, scheme string, p *Principal, props *Properties) error
	SignOut(c *gin.Context, scheme string, props *Properties) error
}

// ClaimsTransformer enriches an authenticated principal. It receives a copy
// and may modify and return it.
type ClaimsTransformer interface {
	Transform(ctx context.Context, p *Principal) (*Principal, error)
}

// ClaimsTransformerFunc adapts a function to ClaimsTransformer.
type ClaimsTransformerFunc func(ctx context.Context, p *Principal) (*Principal, error)

func (f ClaimsTransformerFunc) Transform(ctx context.Context, p *Principal) (*Principal, error) {
	return f(ctx, p)
}

var _ Dispatcher = (*Service)(nil)

// Service is the default Dispatcher.
type Service struct {
	registry     *Registry
	transformers []ClaimsTransformer
	metrics      core.Recorder
	logger       *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClaimsTransformer appends a transformer run after every successful Authenticate.
func WithClaimsTransformer(t ClaimsTransformer) Option {
	return func(s *Service) { s.transformers = append(s.transformers, t) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(m core.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a dispatcher over registry.
func NewService(registry *Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		metrics:  metrics.NewNoopMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the scheme registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) resolve(name, op string) (Scheme, error) {
	if name == "" {
		d := s.registry.Defaults()
		switch op {
		case OpAuthenticate:
			name = d.Authenticate
		case OpChallenge:
			name = d.Challenge
		case OpForbid:
			name = d.Forbid
		case OpSignIn:
			name = d.SignIn
		case OpSignOut:
			name = d.SignOut
		}
		if name == "" {
			return Scheme{}, fmt.Errorf("%w (operation %s)", ErrNoDefaultScheme, op)
		}
	}
	sch, ok := s.registry.Lookup(name)
	if !ok {
		return Scheme{}, &UnknownSchemeError{Scheme: name, Operation: op}
	}
	return sch, nil
}

// Authenticate verifies the request against scheme. Verification runs at
// most once per request and scheme; concurrent callers within a request
// prepared with Begin share one verification. Claims transformers run on every call.
func (s *Service) Authenticate(c *gin.Context, scheme string) (*Result, error) {
	sch, err := s.resolve(scheme, OpAuthenticate)
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := stateFor(c)
	res, gen, ok := st.cached(sch.Name)
	if ok {
		s.metrics.RecordAuthenticateCacheHit(sch.Name)
	} else {
		v, err, _ := st.group.Do(sch.Name, func() (any, error) {
			if r, _, ok := st.cached(sch.Name); ok {
				return r, nil
			}
			start := time.Now()
			r, err := sch.Handler.Authenticate(c)
			if err != nil {
				return nil, err
			}
			if r == nil {
				r = NoResult(sch.Name)
			}
			r.Scheme = sch.Name
			st.store(sch.Name, gen, r)
			s.metrics.RecordAuthenticate(sch.Name, r.Outcome(), time.Since(start))
			if r.Failure != nil {
				s.logger.DebugContext(ctx, "authentication failed", "scheme", sch.Name, "error", r.Failure)
			}
			return r, nil
		})
		if err != nil {
			return nil, fmt.Errorf("authenticate %s: %w", sch.Name, err)
		}
		res = v.(*Result)
	}

	out := res.clone()
	if !out.Succeeded() {
		return out, nil
	}
	for _, t := range s.transformers {
		p, err := t.Transform(ctx, out.Principal)
		if err != nil {
			return nil, fmt.Errorf("transform claims for %s: %w", sch.Name, err)
		}
		if p != nil {
			out.Principal = p
		}
	}
	return out, nil
}

// Challenge asks the caller to authenticate with scheme.
func (s *Service) Challenge(c *gin.Context, scheme string, props *Properties) error {
	sch, err := s.resolve(scheme, OpChallenge)
	if err != nil {
		return err
	}
	if err := s.beginTerminal(c); err != nil {
		return err
	}
	if err := sch.Handler.Challenge(c, props.Clone()); err != nil {
		return fmt.Errorf("challenge %s: %w", sch.Name, err)
	}
	s.metrics.RecordChallenge(sch.Name)
	return nil
}

// Forbid tells the caller its credentials do not grant access.
func (s *Service) Forbid(c *gin.Context, scheme string, props *Properties) error {
	sch, err := s.resolve(scheme, OpForbid)
	if err != nil {
		return err
	}
	if err := s.beginTerminal(c); err != nil {
		return err
	}
	if err := sch.Handler.Forbid(c, props.Clone()); err != nil {
		return fmt.Errorf("forbid %s: %w", sch.Name, err)
	}
	s.metrics.RecordForbid(sch.Name)
	return nil
}

func (s *Service) beginTerminal(c *gin.Context) error {
	if err := c.Request.Context().Err(); err != nil {
		return err
	}
	if c.Writer.Written() {
		return ErrResponseAlreadyStarted
	}
	if !stateFor(c).claimTerminal() {
		return ErrResponseAlreadyStarted
	}
	return nil
}

// SignIn establishes a session for p with scheme. The handler commits all
// session state in a single write; nothing is written if the request context
// is already done.
func (s *Service) SignIn(c *gin.Context, scheme string, p *Principal, props *Properties) error {
	if p == nil {
		return ErrNilPrincipal
	}
	sch, err := s.resolve(scheme, OpSignIn)
	if err != nil {
		return err
	}
	h, ok := sch.Handler.(SignInHandler)
	if !ok {
		return fmt.Errorf("%w: %s cannot sign in", ErrOperationNotSupported, sch.Name)
	}
	if err := c.Request.Context().Err(); err != nil {
		return err
	}
	if c.Writer.Written() {
		return ErrResponseAlreadyStarted
	}

	err = h.SignIn(c, p.Clone(), props.Clone())
	stateFor(c).invalidate(sch.Name)
	s.metrics.RecordSignIn(sch.Name, err == nil)
	if err != nil {
		return fmt.Errorf("sign in %s: %w", sch.Name, err)
	}
	return nil
}

// SignOut ends the scheme's session. Missing sessions are a no-op.
func (s *Service) SignOut(c *gin.Context, scheme string, props *Properties) error {
	sch, err := s.resolve(scheme, OpSignOut)
	if err != nil {
		return err
	}
	h, ok := sch.Handler.(SignOutHandler)
	if !ok {
		return fmt.Errorf("%w: %s cannot sign out", ErrOperationNotSupported, sch.Name)
	}
	if err := c.Request.Context().Err(); err != nil {
		return err
	}
	if c.Writer.Written() {
		return ErrResponseAlreadyStarted
	}

	err = h.SignOut(c, props.Clone())
	stateFor(c).invalidate(sch.Name)
	s.metrics.RecordSignOut(sch.Name, err == nil)
	if err != nil {
		return fmt.Errorf("sign out %s: %w", sch.Name, err)
	}
	return nil
}
