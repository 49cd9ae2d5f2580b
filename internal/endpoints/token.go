package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/models"
	"github.com/go-authgate/authcore/internal/store"
	"github.com/go-authgate/authcore/internal/util"

	"github.com/gin-gonic/gin"
)

// Token redeems an authorization code for an access token. Confidential
// clients authenticate with client_secret_basic or client_secret_post.
func (h *Handler) Token(c *gin.Context) {
	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-store")

	if gt := c.PostForm("grant_type"); gt != grantTypeAuthorizationCode {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported_grant_type",
			"error_description": "Only authorization_code is supported",
		})
		return
	}

	clientID, clientSecret, ok := c.Request.BasicAuth()
	if !ok {
		clientID = c.PostForm("client_id")
		clientSecret = c.PostForm("client_secret")
	}
	client, err := store.FindEnabledClient(ctx, h.opts.Clients, clientID)
	if err != nil || !client.ValidateClientSecret([]byte(clientSecret)) {
		if err != nil && !errors.Is(err, store.ErrClientNotFound) && !errors.Is(err, store.ErrClientDisabled) {
			h.opts.Logger.ErrorContext(ctx, "failed to load client", "client_id", clientID, "error", err)
		}
		c.Header("WWW-Authenticate", `Basic realm="token"`)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_client",
			"error_description": "Client authentication failed",
		})
		return
	}

	grant, data, err := h.redeemCode(c, c.PostForm("code"), client.ClientID)
	if err != nil {
		if !errors.Is(err, errInvalidGrant) {
			h.opts.Logger.ErrorContext(ctx, "failed to redeem code", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_grant",
			"error_description": "Authorization code is invalid or expired",
		})
		return
	}
	if data.RedirectURI != c.PostForm("redirect_uri") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_grant",
			"error_description": "redirect_uri does not match the authorization request",
		})
		return
	}

	p := authn.NewPrincipal(h.opts.LocalScheme, authn.Claim{Type: authn.ClaimSubject, Value: grant.SubjectID})
	if grant.SessionID != "" {
		p.AddClaim(authn.ClaimSessionID, grant.SessionID)
	}
	scopes := strings.Fields(data.Scope)
	tok, err := h.opts.Tokens.Issue(ctx, p, client.ClientID, scopes, h.opts.TokenLifetime)
	if err != nil {
		h.opts.Logger.ErrorContext(ctx, "failed to issue token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": tok.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   int(h.opts.TokenLifetime.Seconds()),
		"scope":        data.Scope,
	})
}

var errInvalidGrant = errors.New("invalid grant")

// redeemCode loads the code grant and removes it, so a code works once.
func (h *Handler) redeemCode(c *gin.Context, code, clientID string) (*models.PersistedGrant, *codeGrant, error) {
	if code == "" {
		return nil, nil, errInvalidGrant
	}
	ctx := c.Request.Context()
	key := util.SHA256Hex(code)

	grant, err := h.opts.Grants.GetGrant(ctx, key)
	switch {
	case errors.Is(err, store.ErrGrantNotFound):
		return nil, nil, errInvalidGrant
	case err != nil:
		return nil, nil, err
	}
	if err := h.opts.Grants.RemoveGrant(ctx, key); err != nil {
		return nil, nil, err
	}
	if grant.Type != models.GrantTypeAuthorizationCode ||
		grant.ClientID != clientID ||
		grant.ConsumedTime != nil ||
		grant.IsExpired(h.opts.Now()) {
		return nil, nil, errInvalidGrant
	}

	var data codeGrant
	if err := json.Unmarshal([]byte(grant.Data), &data); err != nil {
		return nil, nil, errInvalidGrant
	}
	return grant, &data, nil
}
