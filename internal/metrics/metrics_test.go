package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	m := Init(true)
	require.NotNil(t, m)

	metrics, ok := m.(*Metrics)
	require.True(t, ok, "Init(true) should return *Metrics")
	assert.NotNil(t, metrics.AuthenticateTotal)
	assert.NotNil(t, metrics.HTTPRequestsTotal)

	// Init is idempotent: registering twice would panic.
	assert.Same(t, metrics, Init(true))
}

func TestInitNoop(t *testing.T) {
	m := Init(false)
	_, ok := m.(*NoopMetrics)
	assert.True(t, ok, "Init(false) should return *NoopMetrics")

	// Every method is safe to call.
	m.RecordAuthenticate("cookie", "success", time.Millisecond)
	m.RecordLogoutNotification(false, time.Second)
	m.RecordStartupValidation("aborted")
}

func TestRecordAuthenticate(t *testing.T) {
	m := Init(true).(*Metrics)

	before := testutil.ToFloat64(m.AuthenticateTotal.WithLabelValues("bearer", "failure"))
	m.RecordAuthenticate("bearer", "failure", 2*time.Millisecond)
	after := testutil.ToFloat64(m.AuthenticateTotal.WithLabelValues("bearer", "failure"))
	assert.Equal(t, before+1, after)
}

func TestRecordSignOutResults(t *testing.T) {
	m := Init(true).(*Metrics)

	ok := testutil.ToFloat64(m.SignOutsTotal.WithLabelValues("cookie", resultSuccess))
	failed := testutil.ToFloat64(m.SignOutsTotal.WithLabelValues("cookie", resultFailure))

	m.RecordSignOut("cookie", true)
	m.RecordSignOut("cookie", false)
	m.RecordSignOut("cookie", false)

	assert.Equal(t, ok+1, testutil.ToFloat64(m.SignOutsTotal.WithLabelValues("cookie", resultSuccess)))
	assert.Equal(t, failed+2, testutil.ToFloat64(m.SignOutsTotal.WithLabelValues("cookie", resultFailure)))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := Init(true).(*Metrics)

	r := gin.New()
	r.Use(HTTPMetricsMiddleware(m))
	r.GET("/connect/userinfo", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	before := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/connect/userinfo", "401"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/connect/userinfo", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	after := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/connect/userinfo", "401"))
	assert.Equal(t, before+1, after)
}

func TestHTTPMetricsMiddleware_Noop(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(HTTPMetricsMiddleware(NewNoopMetrics()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
