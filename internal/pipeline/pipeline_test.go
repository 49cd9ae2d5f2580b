package pipeline

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/authn/authntest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readyFlag struct{ v atomic.Bool }

func (r *readyFlag) Ready() bool { return r.v.Load() }

func newReady(v bool) *readyFlag {
	r := &readyFlag{}
	r.v.Store(v)
	return r
}

func testOptions(d authn.Dispatcher) Options {
	return Options{
		Readiness:       newReady(true),
		ReadinessExempt: []string{"/health"},
		BaseURL:         "https://id.example.com",
		PathBase:        "/auth",
		Dispatcher:      d,
		Endpoints: func(r gin.IRouter) {
			r.GET("/whoami", func(c *gin.Context) {
				p := authn.Ambient(c)
				c.JSON(http.StatusOK, gin.H{
					"sub":      p.Subject(),
					"base_url": BaseURL(c),
				})
			})
		},
	}
}

func mount(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	co, err := New(opts)
	require.NoError(t, err)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	co.Mount(r)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readiness is required")
	assert.Contains(t, err.Error(), "dispatcher is required")
	assert.Contains(t, err.Error(), "endpoints are required")

	opts := testOptions(&authntest.Service{})
	opts.PathBase = "/auth/"
	_, err = New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path base")
}

func TestStages_Order(t *testing.T) {
	co, err := New(testOptions(&authntest.Service{}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		StageReadiness, StageBaseURL, StageCORS,
		StageAuthentication, StageFederatedSignOut, StageEndpoints,
	}, co.Stages())
}

func TestReadinessGate(t *testing.T) {
	d := &authntest.Service{}
	opts := testOptions(d)
	ready := newReady(false)
	opts.Readiness = ready
	r := mount(t, opts)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Zero(t, d.CallCount(authn.OpAuthenticate))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	ready.v.Store(true)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthentication_AttachesAmbientPrincipal(t *testing.T) {
	d := &authntest.Service{}
	d.SetUser(authn.Claim{Type: authn.ClaimSubject, Value: "alice"})
	r := mount(t, testOptions(d))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub":"alice"`)
	assert.Equal(t, []authntest.Call{{Op: authn.OpAuthenticate, Scheme: ""}}, d.Calls())
}

func TestAuthentication_AnonymousContinues(t *testing.T) {
	r := mount(t, testOptions(&authntest.Service{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub":""`)
}

func TestAuthentication_ErrorAborts(t *testing.T) {
	d := &authntest.Service{Err: errors.New("store down")}
	r := mount(t, testOptions(d))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "server_error")
}

func forwardedRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	req.Header.Set("X-Forwarded-Host", "login.example.org")
	req.Header.Set("X-Forwarded-Proto", "http")
	return req
}

func TestBaseURL(t *testing.T) {
	r := mount(t, testOptions(&authntest.Service{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	assert.Contains(t, w.Body.String(), `"base_url":"https://id.example.com/auth"`)

	// Forwarded headers are ignored unless trusted.
	w = serve(r, forwardedRequest())
	assert.Contains(t, w.Body.String(), `"base_url":"https://id.example.com/auth"`)
}

func TestBaseURL_TrustForwardedHeaders(t *testing.T) {
	opts := testOptions(&authntest.Service{})
	opts.TrustForwardedHeaders = true
	r := mount(t, opts)

	w := serve(r, forwardedRequest())
	assert.Contains(t, w.Body.String(), `"base_url":"http://login.example.org/auth"`)
}

func TestEndpoints_MountedUnderPathBase(t *testing.T) {
	r := mount(t, testOptions(&authntest.Service{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFederatedSignOut_InterceptsUnroutedPath(t *testing.T) {
	d := &authntest.Service{}
	var order []string
	opts := testOptions(d)
	opts.FederatedSignOut = []gin.HandlerFunc{
		func(c *gin.Context) {
			order = append(order, "limit")
			c.Next()
		},
		func(c *gin.Context) {
			order = append(order, "signout")
			if c.Request.URL.Path == "/auth/signout-oidc" {
				c.AbortWithStatus(http.StatusOK)
				return
			}
			c.Next()
		},
	}
	r := mount(t, opts)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/auth/signout-oidc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"limit", "signout"}, order)
	// authentication ran before the interceptor
	assert.Equal(t, 1, d.CallCount(authn.OpAuthenticate))
}

func TestCORS(t *testing.T) {
	d := &authntest.Service{}
	opts := testOptions(d)
	opts.CORSAllowedOrigins = []string{"https://app.example.com"}
	r := mount(t, opts)

	req := httptest.NewRequest(http.MethodOptions, "/auth/whoami", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, d.CallCount(authn.OpAuthenticate))

	req = httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOptions_CopiedAtConstruction(t *testing.T) {
	opts := testOptions(&authntest.Service{})
	opts.Readiness = newReady(false)
	exempt := []string{"/health"}
	opts.ReadinessExempt = exempt
	co, err := New(opts)
	require.NoError(t, err)
	exempt[0] = "/other"

	r := gin.New()
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	co.Mount(r)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
