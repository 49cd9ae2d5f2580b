package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/models"
	"github.com/go-authgate/authcore/internal/store"
	"github.com/go-authgate/authcore/internal/util"

	"github.com/gin-gonic/gin"
)

const (
	grantTypeAuthorizationCode = "authorization_code"
	maxStateLength             = 1024
)

// codeGrant is the payload of a stored authorization code.
type codeGrant struct {
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`
	Nonce       string `json:"nonce,omitempty"`
}

// Authorize handles the authorization code request. Anonymous users are
// challenged with the local scheme and come back here after signing in.
// The client joins the user's session so it is notified when the session
// ends.
func (h *Handler) Authorize(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := c.Query("client_id")
	redirectURI := c.Query("redirect_uri")
	scope := c.Query("scope")
	state := c.Query("state")

	client, err := store.FindEnabledClient(ctx, h.opts.Clients, clientID)
	switch {
	case errors.Is(err, store.ErrClientNotFound), errors.Is(err, store.ErrClientDisabled):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_client",
			"error_description": "Unknown or disabled client",
		})
		return
	case err != nil:
		h.opts.Logger.ErrorContext(ctx, "failed to load client", "client_id", clientID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if !client.RedirectURIs.Contains(redirectURI) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "redirect_uri is not registered for this client",
		})
		return
	}

	if len(state) > maxStateLength {
		redirectWithError(c, redirectURI, "", "invalid_request", "state parameter exceeds maximum length")
		return
	}
	if c.Query("response_type") != "code" {
		redirectWithError(c, redirectURI, state, "unsupported_response_type", "Only the code flow is supported")
		return
	}
	if !client.AllowsScopes(scope) {
		redirectWithError(c, redirectURI, state, "invalid_scope", "Requested scope is not allowed for this client")
		return
	}

	res, err := h.opts.Dispatcher.Authenticate(c, h.opts.LocalScheme)
	if err != nil {
		h.opts.Logger.ErrorContext(ctx, "authentication failed", "error", err)
		redirectWithError(c, redirectURI, state, "server_error", "Authentication could not be completed")
		return
	}
	if !res.Succeeded() {
		props := &authn.Properties{RedirectURI: c.Request.URL.RequestURI()}
		if err := h.opts.Dispatcher.Challenge(c, h.opts.LocalScheme, props); err != nil {
			h.opts.Logger.ErrorContext(ctx, "challenge failed", "error", err)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			redirectWithError(c, redirectURI, state, "server_error", "Sign-in could not be started")
		}
		return
	}
	p := res.Principal

	if sid := p.SessionID(); sid != "" {
		if err := h.opts.Tracker.Join(ctx, sid, client.ClientID); err != nil {
			h.opts.Logger.WarnContext(ctx, "failed to record session client",
				"sid", sid, "client_id", client.ClientID, "error", err)
		}
	}

	code, err := h.storeCode(c, p, client.ClientID, codeGrant{
		RedirectURI: redirectURI,
		Scope:       scope,
		Nonce:       c.Query("nonce"),
	})
	if err != nil {
		h.opts.Logger.ErrorContext(ctx, "failed to store authorization code", "error", err)
		redirectWithError(c, redirectURI, state, "server_error", "Failed to generate authorization code")
		return
	}

	u, _ := url.Parse(redirectURI)
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

// storeCode persists a single-use code. Only its hash is stored.
func (h *Handler) storeCode(c *gin.Context, p *authn.Principal, clientID string, data codeGrant) (string, error) {
	code, err := util.RandomToken(32)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	now := h.opts.Now()
	exp := now.Add(h.opts.CodeLifetime)
	err = h.opts.Grants.StoreGrant(c.Request.Context(), &models.PersistedGrant{
		Key:          util.SHA256Hex(code),
		Type:         models.GrantTypeAuthorizationCode,
		SubjectID:    p.Subject(),
		SessionID:    p.SessionID(),
		ClientID:     clientID,
		CreationTime: now,
		Expiration:   &exp,
		Data:         string(payload),
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// redirectWithError sends an OAuth error back to the client's redirect_uri.
func redirectWithError(c *gin.Context, redirectURI, state, errorCode, description string) {
	u, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             errorCode,
			"error_description": description,
		})
		return
	}
	q := u.Query()
	q.Set("error", errorCode)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}
