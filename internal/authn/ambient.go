package authn

import (
	"context"

	"github.com/gin-gonic/gin"
)

const ambientKey = "authn.principal"

type principalCtxKey struct{}

// SetAmbient attaches p as the request's current user, both on the gin
// context and on the request context.
func SetAmbient(c *gin.Context, p *Principal) {
	if p == nil {
		p = Anonymous()
	}
	c.Set(ambientKey, p)
	c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
}

// Ambient returns the current user attached by the authentication stage, or
// an anonymous principal.
func Ambient(c *gin.Context) *Principal {
	if v, ok := c.Get(ambientKey); ok {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return Anonymous()
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext returns the principal attached to ctx.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok
}
