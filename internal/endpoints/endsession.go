package endpoints

import (
	"net/http"
	"net/url"

	"github.com/go-authgate/authcore/internal/store"

	"github.com/gin-gonic/gin"
)

// EndSession signs the user out of the local session and the external
// scheme, then notifies every client that joined the session. The user is
// redirected to post_logout_redirect_uri when the named client registered it.
func (h *Handler) EndSession(c *gin.Context) {
	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-store")

	res, err := h.opts.Dispatcher.Authenticate(c, h.opts.LocalScheme)
	if err != nil {
		h.opts.Logger.ErrorContext(ctx, "authentication failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	notified := 0
	if res.Succeeded() {
		p := res.Principal
		if err := h.opts.Dispatcher.SignOut(c, h.opts.LocalScheme, nil); err != nil {
			h.opts.Logger.ErrorContext(ctx, "local sign-out failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		if h.opts.ExternalScheme != "" {
			if err := h.opts.Dispatcher.SignOut(c, h.opts.ExternalScheme, nil); err != nil {
				h.opts.Logger.WarnContext(ctx, "external sign-out failed", "error", err)
			}
		}
		if h.opts.Notifier != nil {
			n := h.opts.Notifier.NotifySession(ctx, h.opts.LocalScheme, p.SessionID(), p.Subject())
			notified = len(n.Endpoints)
		}
		h.opts.Logger.InfoContext(ctx, "session ended", "sub", p.Subject(), "notified", notified)
	}

	if target := h.postLogoutRedirect(c); target != "" {
		c.Redirect(http.StatusFound, target)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signed_out": res.Succeeded(),
		"notified":   notified,
	})
}

// postLogoutRedirect returns the validated redirect target, or "" when the
// request named none or the client did not register it.
func (h *Handler) postLogoutRedirect(c *gin.Context) string {
	target := c.Query("post_logout_redirect_uri")
	if target == "" {
		target = c.PostForm("post_logout_redirect_uri")
	}
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = c.PostForm("client_id")
	}
	if target == "" || clientID == "" {
		return ""
	}

	client, err := store.FindEnabledClient(c.Request.Context(), h.opts.Clients, clientID)
	if err != nil || !client.PostLogoutRedirectURIs.Contains(target) {
		return ""
	}

	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	state := c.Query("state")
	if state == "" {
		state = c.PostForm("state")
	}
	if state != "" {
		q := u.Query()
		q.Set("state", state)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
