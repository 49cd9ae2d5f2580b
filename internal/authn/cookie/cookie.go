// Package cookie implements the local session scheme. The authenticated
// principal and its properties are stored as one ticket value in a
// gin-contrib session backed by a signed cookie.
package cookie

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/util"

	"github.com/gin-contrib/sessions"
	gincookie "github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ticketKey = "ticket"

// ErrTicketExpired is the failure reported for a ticket past its expiry.
var ErrTicketExpired = errors.New("cookie: ticket expired")

var (
	_ authn.Handler        = (*Handler)(nil)
	_ authn.SignInHandler  = (*Handler)(nil)
	_ authn.SignOutHandler = (*Handler)(nil)
)

// ValidateFunc can reject a decoded ticket, for example when the session was
// revoked server side. A returned error becomes the authentication failure.
type ValidateFunc func(c *gin.Context, p *authn.Principal, props *authn.Properties) error

// Options configures a cookie Handler.
type Options struct {
	// SessionName is the gin-contrib session holding the ticket.
	SessionName string
	// CookiePath is used when the cookie is deleted on sign-out.
	CookiePath         string
	LoginPath          string
	AccessDeniedPath   string
	ReturnURLParameter string
	// BaseURL is the public origin redirect targets are checked against.
	BaseURL        string
	ExpireTimeSpan time.Duration
	Validate       ValidateFunc
	Now            func() time.Time
}

// Handler is the cookie scheme handler.
type Handler struct {
	name string
	opts Options
}

// New returns a cookie handler registered under name.
func New(name string, opts Options) *Handler {
	if opts.SessionName == "" {
		opts.SessionName = "authcore_session"
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	if opts.ReturnURLParameter == "" {
		opts.ReturnURLParameter = "redirect"
	}
	if opts.ExpireTimeSpan <= 0 {
		opts.ExpireTimeSpan = 8 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{name: name, opts: opts}
}

// SessionName returns the gin-contrib session name the handler reads.
func (h *Handler) SessionName() string {
	return h.opts.SessionName
}

func (h *Handler) session(c *gin.Context) sessions.Session {
	return sessions.DefaultMany(c, h.opts.SessionName)
}

func (h *Handler) Authenticate(c *gin.Context) (*authn.Result, error) {
	raw, _ := h.session(c).Get(ticketKey).(string)
	if raw == "" {
		return authn.NoResult(h.name), nil
	}

	p, props, err := authn.DecodeTicket(raw)
	if err != nil {
		return authn.Fail(h.name, err), nil
	}
	if props.Expired(h.opts.Now()) {
		return authn.Fail(h.name, ErrTicketExpired), nil
	}
	if h.opts.Validate != nil {
		if err := h.opts.Validate(c, p, props); err != nil {
			return authn.Fail(h.name, err), nil
		}
	}

	p.AuthenticationType = h.name
	return authn.Success(h.name, p, props), nil
}

// SignIn writes the ticket in a single session save. A session id claim is
// generated when the principal has none.
func (h *Handler) SignIn(c *gin.Context, p *authn.Principal, props *authn.Properties) error {
	if p.SessionID() == "" {
		p.SetClaim(authn.ClaimSessionID, uuid.NewString())
	}
	p.AuthenticationType = h.name

	now := h.opts.Now()
	if props.IssuedAt.IsZero() {
		props.IssuedAt = now
	}
	if props.ExpiresAt.IsZero() {
		props.ExpiresAt = props.IssuedAt.Add(h.opts.ExpireTimeSpan)
	}

	raw, err := authn.EncodeTicket(p, props)
	if err != nil {
		return err
	}
	if err := c.Request.Context().Err(); err != nil {
		return err
	}

	sess := h.session(c)
	sess.Set(ticketKey, raw)
	return sess.Save()
}

// SignOut deletes the cookie. Nothing is written when there is no session.
func (h *Handler) SignOut(c *gin.Context, _ *authn.Properties) error {
	sess := h.session(c)
	if sess.Get(ticketKey) == nil {
		return nil
	}
	sess.Clear()
	sess.Options(sessions.Options{Path: h.opts.CookiePath, MaxAge: -1, HttpOnly: true})
	return sess.Save()
}

// Challenge redirects browsers to the login path. XHR callers get a 401
// with the login URL in the Location header.
func (h *Handler) Challenge(c *gin.Context, props *authn.Properties) error {
	h.redirect(c, h.opts.LoginPath, http.StatusUnauthorized, props)
	return nil
}

// Forbid redirects to the access-denied path, or answers 403 to XHR callers.
func (h *Handler) Forbid(c *gin.Context, props *authn.Properties) error {
	h.redirect(c, h.opts.AccessDeniedPath, http.StatusForbidden, props)
	return nil
}

func (h *Handler) redirect(c *gin.Context, path string, ajaxStatus int, props *authn.Properties) {
	target := props.RedirectURI
	if target == "" {
		target = c.Request.URL.RequestURI()
	}
	target = util.SafeRedirect(target, h.opts.BaseURL, "/")

	location := path + "?" + url.Values{h.opts.ReturnURLParameter: {target}}.Encode()
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		c.Header("Location", location)
		c.AbortWithStatusJSON(ajaxStatus, gin.H{
			"error":    http.StatusText(ajaxStatus),
			"location": location,
		})
		return
	}
	c.Redirect(http.StatusFound, location)
	c.Abort()
}

// NewStore returns the signed cookie store shared by the cookie and
// external schemes. Front-channel sign-out from a cross-site iframe only
// sees these cookies with http.SameSiteNoneMode.
func NewStore(secret string, maxAge time.Duration, secure bool, sameSite http.SameSite) sessions.Store {
	store := gincookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
	return store
}
