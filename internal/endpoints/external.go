package endpoints

import (
	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/pipeline"
	"github.com/go-authgate/authcore/internal/util"

	"github.com/gin-gonic/gin"
)

// ExternalLogin starts sign-in with the external provider. The cookie
// scheme's challenge sends browsers here with a redirect parameter.
func (h *Handler) ExternalLogin(c *gin.Context) {
	props := &authn.Properties{
		RedirectURI: util.SafeRedirect(c.Query("redirect"), pipeline.BaseURL(c), "/"),
	}
	if err := h.opts.Dispatcher.Challenge(c, h.opts.ExternalScheme, props); err != nil {
		h.opts.Logger.ErrorContext(c.Request.Context(), "external challenge failed", "error", err)
	}
}
