package endpoints

import (
	"net/http"
	"slices"

	"github.com/go-authgate/authcore/internal/authn"

	"github.com/gin-gonic/gin"
)

// UserInfo returns claims about the bearer of an access token. Requests
// without a valid token are challenged by the bearer scheme.
func (h *Handler) UserInfo(c *gin.Context) {
	res, err := h.opts.Dispatcher.Authenticate(c, h.opts.BearerScheme)
	if err != nil {
		h.opts.Logger.ErrorContext(c.Request.Context(), "bearer authentication failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if !res.Succeeded() {
		if err := h.opts.Dispatcher.Challenge(c, h.opts.BearerScheme, nil); err != nil {
			h.opts.Logger.ErrorContext(c.Request.Context(), "challenge failed", "error", err)
		}
		return
	}

	c.JSON(http.StatusOK, userInfoClaims(res.Principal))
}

// userInfoClaims always includes sub. profile and email scopes gate their
// respective claims.
func userInfoClaims(p *authn.Principal) map[string]any {
	scopes := p.FindAll(authn.ClaimScope)
	claims := map[string]any{"sub": p.Subject()}

	if slices.Contains(scopes, "profile") {
		if v, ok := p.FindFirst(authn.ClaimName); ok {
			claims["name"] = v
		}
		if v, ok := p.FindFirst(authn.ClaimIdentityProvider); ok {
			claims["idp"] = v
		}
	}
	if slices.Contains(scopes, "email") {
		if v, ok := p.FindFirst(authn.ClaimEmail); ok {
			claims["email"] = v
		}
	}
	return claims
}
