package authn

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
)

// Handler implements the three operations every scheme supports.
//
// Authenticate reports whether the request carries valid credentials for the
// scheme; a non-nil error means verification could not be completed (for
// example a store was unreachable) and is never cached. Challenge and Forbid
// write the response and abort the gin chain.
type Handler interface {
	Authenticate(c *gin.Context) (*Result, error)
	Challenge(c *gin.Context, props *Properties) error
	Forbid(c *gin.Context, props *Properties) error
}

// SignInHandler is implemented by schemes that can establish a session.
type SignInHandler interface {
	SignIn(c *gin.Context, p *Principal, props *Properties) error
}

// SignOutHandler is implemented by schemes that can end a session. Signing
// out of a missing session must succeed without side effects.
type SignOutHandler interface {
	SignOut(c *gin.Context, props *Properties) error
}

// Scheme binds a unique name to a handler.
type Scheme struct {
	Name        string
	DisplayName string
	Handler     Handler
}

// Defaults names the scheme used when an operation is called without one.
// Empty Challenge, Forbid, SignIn and SignOut fall back to Authenticate.
type Defaults struct {
	Authenticate string
	Challenge    string
	Forbid       string
	SignIn       string
	SignOut      string
}

// Registry is the immutable set of schemes built at startup.
type Registry struct {
	schemes  map[string]Scheme
	order    []string
	defaults Defaults
}

// NewRegistry validates schemes and defaults and returns a registry.
func NewRegistry(defaults Defaults, schemes ...Scheme) (*Registry, error) {
	r := &Registry{schemes: make(map[string]Scheme, len(schemes))}

	for _, s := range schemes {
		if s.Name == "" {
			return nil, errors.New("authn: scheme name is required")
		}
		if s.Handler == nil {
			return nil, fmt.Errorf("authn: scheme %q has no handler", s.Name)
		}
		if _, dup := r.schemes[s.Name]; dup {
			return nil, fmt.Errorf("authn: scheme %q registered twice", s.Name)
		}
		r.schemes[s.Name] = s
		r.order = append(r.order, s.Name)
	}

	fallback := func(v string) string {
		if v == "" {
			return defaults.Authenticate
		}
		return v
	}
	defaults.Challenge = fallback(defaults.Challenge)
	defaults.Forbid = fallback(defaults.Forbid)
	defaults.SignIn = fallback(defaults.SignIn)
	defaults.SignOut = fallback(defaults.SignOut)

	for _, name := range []string{
		defaults.Authenticate, defaults.Challenge, defaults.Forbid, defaults.SignIn, defaults.SignOut,
	} {
		if name == "" {
			continue
		}
		if _, ok := r.schemes[name]; !ok {
			return nil, fmt.Errorf("authn: default scheme %q is not registered", name)
		}
	}
	r.defaults = defaults

	return r, nil
}

// Lookup returns the scheme registered under name.
func (r *Registry) Lookup(name string) (Scheme, bool) {
	s, ok := r.schemes[name]
	return s, ok
}

// Schemes returns the schemes in registration order.
func (r *Registry) Schemes() []Scheme {
	out := make([]Scheme, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.schemes[name])
	}
	return out
}

// Defaults returns the resolved default scheme names.
func (r *Registry) Defaults() Defaults {
	return r.defaults
}
