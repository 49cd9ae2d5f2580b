// Package external implements the upstream OpenID Connect scheme. The
// upstream identity is kept in its own correlation session, separate from
// the local cookie session it signs in to.
package external

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	keyTicket   = "ticket"
	keyState    = "state"
	keyNonce    = "nonce"
	keyRedirect = "redirect"
)

var (
	_ authn.Handler        = (*Handler)(nil)
	_ authn.SignInHandler  = (*Handler)(nil)
	_ authn.SignOutHandler = (*Handler)(nil)
)

// Options configures an external Handler.
type Options struct {
	SessionName string
	CookiePath  string
	BaseURL     string
	// Lifetime bounds the upstream ticket when the provider gives no expiry.
	Lifetime time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Handler is the external scheme handler.
type Handler struct {
	name     string
	provider Provider
	opts     Options
}

// New returns an external handler registered under name.
func New(name string, provider Provider, opts Options) *Handler {
	if opts.SessionName == "" {
		opts.SessionName = "authcore_external"
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 8 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{name: name, provider: provider, opts: opts}
}

// SessionName returns the gin-contrib session name the handler uses.
func (h *Handler) SessionName() string {
	return h.opts.SessionName
}

func (h *Handler) session(c *gin.Context) sessions.Session {
	return sessions.DefaultMany(c, h.opts.SessionName)
}

func (h *Handler) Authenticate(c *gin.Context) (*authn.Result, error) {
	raw, _ := h.session(c).Get(keyTicket).(string)
	if raw == "" {
		return authn.NoResult(h.name), nil
	}
	p, props, err := authn.DecodeTicket(raw)
	if err != nil {
		return authn.Fail(h.name, err), nil
	}
	if props.Expired(h.opts.Now()) {
		return authn.Fail(h.name, errors.New("external: ticket expired")), nil
	}
	p.AuthenticationType = h.name
	return authn.Success(h.name, p, props), nil
}

// Challenge stores a fresh state and nonce in the correlation session and
// redirects to the upstream authorization endpoint.
func (h *Handler) Challenge(c *gin.Context, props *authn.Properties) error {
	state, err := util.RandomToken(32)
	if err != nil {
		return err
	}
	nonce, err := util.RandomToken(32)
	if err != nil {
		return err
	}

	sess := h.session(c)
	sess.Set(keyState, state)
	sess.Set(keyNonce, nonce)
	sess.Set(keyRedirect, util.SafeRedirect(props.RedirectURI, h.opts.BaseURL, "/"))
	if err := sess.Save(); err != nil {
		return err
	}

	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, nonce))
	c.Abort()
	return nil
}

// Forbid answers 403; the upstream provider has no access-denied page.
func (h *Handler) Forbid(c *gin.Context, _ *authn.Properties) error {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":             "access_denied",
		"error_description": "The external identity is not allowed to access this resource",
	})
	return nil
}

// SignIn stores the upstream ticket and drops the correlation values in one
// save.
func (h *Handler) SignIn(c *gin.Context, p *authn.Principal, props *authn.Properties) error {
	p.AuthenticationType = h.name
	if props.IssuedAt.IsZero() {
		props.IssuedAt = h.opts.Now()
	}
	if props.ExpiresAt.IsZero() {
		props.ExpiresAt = props.IssuedAt.Add(h.opts.Lifetime)
	}
	raw, err := authn.EncodeTicket(p, props)
	if err != nil {
		return err
	}
	if err := c.Request.Context().Err(); err != nil {
		return err
	}

	sess := h.session(c)
	sess.Delete(keyState)
	sess.Delete(keyNonce)
	sess.Delete(keyRedirect)
	sess.Set(keyTicket, raw)
	return sess.Save()
}

// SignOut clears the correlation session. Nothing is written when it is
// already empty.
func (h *Handler) SignOut(c *gin.Context, _ *authn.Properties) error {
	sess := h.session(c)
	if sess.Get(keyTicket) == nil && sess.Get(keyState) == nil {
		return nil
	}
	sess.Clear()
	sess.Options(sessions.Options{Path: h.opts.CookiePath, MaxAge: -1, HttpOnly: true})
	return sess.Save()
}

// Callback returns the redirect endpoint handler. It verifies the state,
// redeems the code, signs in to this scheme and to localScheme, then
// redirects to the URL saved by Challenge.
func (h *Handler) Callback(d authn.Dispatcher, localScheme string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if e := c.Query("error"); e != "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":             e,
				"error_description": c.Query("error_description"),
			})
			return
		}

		sess := h.session(c)
		state, _ := sess.Get(keyState).(string)
		nonce, _ := sess.Get(keyNonce).(string)
		redirect, _ := sess.Get(keyRedirect).(string)
		if state == "" || c.Query("state") != state {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":             "invalid_state",
				"error_description": "Sign-in session expired or state mismatch",
			})
			return
		}

		id, err := h.provider.Exchange(ctx, c.Query("code"), nonce)
		if err != nil {
			h.opts.Logger.WarnContext(ctx, "external sign-in failed", "scheme", h.name, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":             "external_signin_failed",
				"error_description": "Failed to complete sign-in with the external provider",
			})
			return
		}

		upstream := principalFor(id)
		if id.SessionID != "" {
			upstream.AddClaim(authn.ClaimSessionID, id.SessionID)
		}
		local := principalFor(id)

		props := &authn.Properties{IssuedAt: h.opts.Now()}
		props.SetItem("idp", id.Issuer)
		if err := d.SignIn(c, h.name, upstream, props); err != nil {
			h.opts.Logger.ErrorContext(ctx, "external sign-in could not be stored", "scheme", h.name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		if err := d.SignIn(c, localScheme, local, props); err != nil {
			h.opts.Logger.ErrorContext(ctx, "local sign-in failed", "scheme", localScheme, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}

		h.opts.Logger.InfoContext(ctx, "external sign-in completed",
			"scheme", h.name, "sub", id.Subject, "idp", id.Issuer)
		c.Redirect(http.StatusFound, util.SafeRedirect(redirect, h.opts.BaseURL, "/"))
	}
}

// principalFor maps the upstream identity to claims. The upstream sid is
// left out; the local session gets its own.
func principalFor(id *Identity) *authn.Principal {
	p := authn.NewPrincipal("",
		authn.Claim{Type: authn.ClaimSubject, Value: id.Subject},
		authn.Claim{Type: authn.ClaimIdentityProvider, Value: id.Issuer},
	)
	if id.Name != "" {
		p.AddClaim(authn.ClaimName, id.Name)
	}
	if id.Email != "" {
		p.AddClaim(authn.ClaimEmail, id.Email)
	}
	if !id.AuthTime.IsZero() {
		p.AddClaim(authn.ClaimAuthTime, strconv.FormatInt(id.AuthTime.Unix(), 10))
	}
	return p
}
