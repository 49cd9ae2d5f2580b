// Package authntest provides test doubles for the authn package.
package authntest

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-authgate/authcore/internal/authn"

	"github.com/gin-gonic/gin"
)

var (
	_ authn.Handler        = (*Handler)(nil)
	_ authn.SignInHandler  = (*Handler)(nil)
	_ authn.SignOutHandler = (*Handler)(nil)
	_ authn.Dispatcher     = (*Service)(nil)
)

// Handler is a scheme handler whose session lives in memory. It counts every
// call so tests can assert how often verification ran.
type Handler struct {
	Name string
	// Delay is slept inside Authenticate to widen race windows.
	Delay time.Duration
	// Err, when set, is returned by Authenticate.
	Err error
	// ChallengeErr, when set, is returned by Challenge before anything is
	// written.
	ChallengeErr error

	mu        sync.Mutex
	principal *authn.Principal
	props     *authn.Properties
	failure   error

	AuthenticateCalls atomic.Int32
	ChallengeCalls    atomic.Int32
	ForbidCalls       atomic.Int32
	SignInCalls       atomic.Int32
	SignOutCalls      atomic.Int32
	// SessionsEnded counts sign-outs that removed an existing session.
	SessionsEnded atomic.Int32
}

// NewHandler returns a handler with no session.
func NewHandler(name string) *Handler {
	return &Handler{Name: name}
}

// SetUser installs a session for a principal with the given claims.
func (h *Handler) SetUser(claims ...authn.Claim) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.principal = authn.NewPrincipal(h.Name, claims...)
	h.props = &authn.Properties{IssuedAt: time.Now()}
	h.failure = nil
}

// SetFailure makes Authenticate report rejected credentials.
func (h *Handler) SetFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.principal = nil
	h.failure = err
}

// HasSession reports whether a principal is signed in.
func (h *Handler) HasSession() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.principal != nil
}

func (h *Handler) Authenticate(c *gin.Context) (*authn.Result, error) {
	h.AuthenticateCalls.Add(1)
	if h.Delay > 0 {
		time.Sleep(h.Delay)
	}
	if h.Err != nil {
		return nil, h.Err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.failure != nil:
		return authn.Fail(h.Name, h.failure), nil
	case h.principal == nil:
		return authn.NoResult(h.Name), nil
	default:
		return authn.Success(h.Name, h.principal.Clone(), h.props.Clone()), nil
	}
}

func (h *Handler) Challenge(c *gin.Context, props *authn.Properties) error {
	h.ChallengeCalls.Add(1)
	if h.ChallengeErr != nil {
		return h.ChallengeErr
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "scheme": h.Name})
	return nil
}

func (h *Handler) Forbid(c *gin.Context, props *authn.Properties) error {
	h.ForbidCalls.Add(1)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "scheme": h.Name})
	return nil
}

func (h *Handler) SignIn(c *gin.Context, p *authn.Principal, props *authn.Properties) error {
	h.SignInCalls.Add(1)
	if err := c.Request.Context().Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.principal = p.Clone()
	h.principal.AuthenticationType = h.Name
	h.props = props.Clone()
	h.failure = nil
	return nil
}

func (h *Handler) SignOut(c *gin.Context, props *authn.Properties) error {
	h.SignOutCalls.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.principal != nil {
		h.SessionsEnded.Add(1)
	}
	h.principal = nil
	h.props = nil
	return nil
}

// Call records one operation made against a Service.
type Call struct {
	Op     string
	Scheme string
}

// Service is a Dispatcher double with a settable result. Every operation is
// recorded; Challenge and Forbid write 401 and 403 JSON responses.
type Service struct {
	mu     sync.Mutex
	Result *authn.Result
	Err    error
	calls  []Call
}

// SetUser makes Authenticate succeed for a principal with claims.
func (s *Service) SetUser(claims ...authn.Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Result = authn.Success("test", authn.NewPrincipal("test", claims...), nil)
}

// Calls returns the recorded operations.
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times op was invoked.
func (s *Service) CallCount(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (s *Service) record(op, scheme string) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Scheme: scheme})
	s.mu.Unlock()
}

func (s *Service) Authenticate(c *gin.Context, scheme string) (*authn.Result, error) {
	s.record(authn.OpAuthenticate, scheme)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return authn.NoResult(scheme), nil
	}
	r := *s.Result
	r.Principal = s.Result.Principal.Clone()
	return &r, nil
}

func (s *Service) Challenge(c *gin.Context, scheme string, props *authn.Properties) error {
	s.record(authn.OpChallenge, scheme)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	return nil
}

func (s *Service) Forbid(c *gin.Context, scheme string, props *authn.Properties) error {
	s.record(authn.OpForbid, scheme)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	return nil
}

func (s *Service) SignIn(c *gin.Context, scheme string, p *authn.Principal, props *authn.Properties) error {
	s.record(authn.OpSignIn, scheme)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Result = authn.Success(scheme, p.Clone(), props)
	return nil
}

func (s *Service) SignOut(c *gin.Context, scheme string, props *authn.Properties) error {
	s.record(authn.OpSignOut, scheme)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Result = nil
	return nil
}
