package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const baseURLKey = "pipeline.base_url"

func readinessGate(r Readiness, exempt []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.Ready() || slices.Contains(exempt, c.Request.URL.Path) {
			c.Next()
			return
		}
		c.Header("Retry-After", "5")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":             "service_unavailable",
			"error_description": "The service is starting up",
		})
	}
}

// baseURL records the public base URL of the request, the origin followed by
// the path base. Forwarded headers replace the configured origin only when
// the deployment trusts its proxy.
func baseURL(configured, pathBase string, trustForwarded bool) gin.HandlerFunc {
	configured = strings.TrimRight(configured, "/")
	return func(c *gin.Context) {
		origin := configured
		if host := c.GetHeader("X-Forwarded-Host"); trustForwarded && host != "" {
			proto := c.GetHeader("X-Forwarded-Proto")
			if proto != "http" && proto != "https" {
				proto = "https"
			}
			origin = proto + "://" + host
		}
		c.Set(baseURLKey, origin+pathBase)
		c.Next()
	}
}

// BaseURL returns the public base URL recorded for the request, including
// the path base.
func BaseURL(c *gin.Context) string {
	return c.GetString(baseURLKey)
}

func corsStage(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return passThrough
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// authentication authenticates the request with the default scheme and
// attaches the result as the ambient principal. Anonymous requests continue.
func authentication(d authn.Dispatcher, scheme string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authn.Begin(c)
		res, err := d.Authenticate(c, scheme)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.Abort()
				return
			}
			logger.ErrorContext(c.Request.Context(), "authentication stage failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":             "server_error",
				"error_description": "Authentication could not be completed",
			})
			return
		}

		p := authn.Anonymous()
		if res.Succeeded() {
			p = res.Principal
		}
		authn.SetAmbient(c, p)
		if p.IsAuthenticated() {
			ctx := logging.WithAuthData(c.Request.Context(), &logging.AuthData{
				Scheme:    res.Scheme,
				Subject:   p.Subject(),
				SessionID: p.SessionID(),
			})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
