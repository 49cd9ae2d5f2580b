package endpoints

import (
	"net/http"

	"github.com/go-authgate/authcore/internal/pipeline"

	"github.com/gin-gonic/gin"
)

type discoveryMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethods          []string `json:"token_endpoint_auth_methods_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	BackChannelLogoutSupported        bool     `json:"backchannel_logout_supported"`
	BackChannelLogoutSessionSupported bool     `json:"backchannel_logout_session_supported"`
}

// Discovery serves the OpenID Provider metadata. Scopes come from the
// resource store.
func (h *Handler) Discovery(c *gin.Context) {
	base := pipeline.BaseURL(c)
	issuer := h.opts.Issuer
	if issuer == "" {
		issuer = base
	}

	resources, err := h.opts.Resources.GetAllResources(c.Request.Context())
	if err != nil {
		h.opts.Logger.ErrorContext(c.Request.Context(), "failed to load resources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, discoveryMetadata{
		Issuer:                 issuer,
		AuthorizationEndpoint:  base + PathAuthorize,
		TokenEndpoint:          base + PathToken,
		UserinfoEndpoint:       base + PathUserInfo,
		EndSessionEndpoint:     base + PathEndSession,
		ResponseTypesSupported: []string{"code"},
		SubjectTypesSupported:  []string{"public"},
		ScopesSupported:        resources.ScopeNames(),
		TokenEndpointAuthMethods: []string{
			"client_secret_basic",
			"client_secret_post",
		},
		GrantTypesSupported:               []string{grantTypeAuthorizationCode},
		ClaimsSupported:                   []string{"sub", "sid", "name", "email", "idp"},
		BackChannelLogoutSupported:        true,
		BackChannelLogoutSessionSupported: true,
	})
}
