// Package bearer implements the Authorization: Bearer scheme for HS256
// access tokens issued by this server.
package bearer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var _ authn.Handler = (*Handler)(nil)

// AccessClaims are the JWT claims of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// Options configures a bearer Handler.
type Options struct {
	Secret []byte
	Issuer string
	Realm  string
	Leeway time.Duration
	// Grants, when set, is consulted for the token's jti so revoked tokens
	// are rejected.
	Grants core.GrantStore
	Now    func() time.Time
}

// Handler validates bearer tokens. It cannot sign in or out.
type Handler struct {
	name   string
	opts   Options
	parser *jwt.Parser
}

// New returns a bearer handler registered under name.
func New(name string, opts Options) *Handler {
	if opts.Realm == "" {
		opts.Realm = "authcore"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithTimeFunc(opts.Now),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	return &Handler{name: name, opts: opts, parser: jwt.NewParser(parserOpts...)}
}

func (h *Handler) Authenticate(c *gin.Context) (*authn.Result, error) {
	raw, ok := tokenFromHeader(c.GetHeader("Authorization"))
	if !ok {
		return authn.NoResult(h.name), nil
	}

	claims := &AccessClaims{}
	_, err := h.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return h.opts.Secret, nil
	})
	if err != nil {
		return authn.Fail(h.name, fmt.Errorf("%w: %v", ErrInvalidToken, err)), nil
	}
	if claims.Subject == "" {
		return authn.Fail(h.name, fmt.Errorf("%w: missing sub", ErrInvalidToken)), nil
	}

	if h.opts.Grants != nil {
		if claims.ID == "" {
			return authn.Fail(h.name, fmt.Errorf("%w: missing jti", ErrInvalidToken)), nil
		}
		grant, err := h.opts.Grants.GetGrant(c.Request.Context(), claims.ID)
		switch {
		case errors.Is(err, store.ErrGrantNotFound):
			return authn.Fail(h.name, ErrTokenRevoked), nil
		case err != nil:
			return nil, fmt.Errorf("lookup token grant: %w", err)
		case grant.IsExpired(h.opts.Now()):
			return authn.Fail(h.name, ErrTokenRevoked), nil
		}
	}

	p := authn.NewPrincipal(h.name, authn.Claim{Type: authn.ClaimSubject, Value: claims.Subject})
	if claims.SessionID != "" {
		p.AddClaim(authn.ClaimSessionID, claims.SessionID)
	}
	if claims.ClientID != "" {
		p.AddClaim(authn.ClaimClientID, claims.ClientID)
	}
	for _, s := range strings.Fields(claims.Scope) {
		p.AddClaim(authn.ClaimScope, s)
	}

	props := &authn.Properties{}
	if claims.IssuedAt != nil {
		props.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		props.ExpiresAt = claims.ExpiresAt.Time
	}
	return authn.Success(h.name, p, props), nil
}

// Challenge answers 401 with a WWW-Authenticate header. error="invalid_token"
// is added when the request carried a token.
func (h *Handler) Challenge(c *gin.Context, _ *authn.Properties) error {
	header := fmt.Sprintf("Bearer realm=%q", h.opts.Realm)
	errCode := "unauthorized"
	if _, ok := tokenFromHeader(c.GetHeader("Authorization")); ok {
		header += `, error="invalid_token"`
		errCode = "invalid_token"
	}
	c.Header("WWW-Authenticate", header)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             errCode,
		"error_description": "Bearer token required",
	})
	return nil
}

// Forbid answers 403 with error="insufficient_scope". The required scope is
// taken from the "scope" property item.
func (h *Handler) Forbid(c *gin.Context, props *authn.Properties) error {
	header := fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope"`, h.opts.Realm)
	if scope := props.Item("scope"); scope != "" {
		header += fmt.Sprintf(", scope=%q", scope)
	}
	c.Header("WWW-Authenticate", header)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":             "insufficient_scope",
		"error_description": "The access token does not grant the required scope",
	})
	return nil
}

func tokenFromHeader(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
