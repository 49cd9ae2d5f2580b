package endpoints_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/authn/authntest"
	"github.com/go-authgate/authcore/internal/authn/bearer"
	"github.com/go-authgate/authcore/internal/cache"
	"github.com/go-authgate/authcore/internal/endpoints"
	"github.com/go-authgate/authcore/internal/models"
	"github.com/go-authgate/authcore/internal/pipeline"
	"github.com/go-authgate/authcore/internal/session"
	"github.com/go-authgate/authcore/internal/signout"
	"github.com/go-authgate/authcore/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://id.example.com"
	testRedirect = "https://app.example.com/cb"
)

type alwaysReady struct{}

func (alwaysReady) Ready() bool { return true }

type recordingNotifier struct {
	mu       sync.Mutex
	sessions []string
}

func (n *recordingNotifier) NotifySession(_ context.Context, scheme, sid, sub string) *signout.Notification {
	n.mu.Lock()
	n.sessions = append(n.sessions, sid)
	n.mu.Unlock()
	return &signout.Notification{
		Scheme:    scheme,
		SessionID: sid,
		Subject:   sub,
		Endpoints: []signout.Endpoint{{ClientID: "app", URI: "https://app.example.com/logout"}},
	}
}

func (n *recordingNotifier) Sessions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sessions...)
}

type fixture struct {
	engine       *gin.Engine
	cookie       *authntest.Handler
	grants       *store.InMemoryGrantStore
	tracker      *session.CacheTracker
	notifier     *recordingNotifier
	clientSecret string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := models.Client{
		ClientID:               "app",
		ClientName:             "App",
		Enabled:                true,
		AllowedScopes:          models.StringArray{"openid", "profile", "email"},
		RedirectURIs:           models.StringArray{testRedirect},
		PostLogoutRedirectURIs: models.StringArray{"https://app.example.com/bye"},
	}
	secret, err := client.GenerateClientSecret()
	require.NoError(t, err)

	grants := store.NewInMemoryGrantStore()
	resources := store.NewInMemoryResourceStore([]models.IdentityResource{
		{Name: "openid", Enabled: true},
		{Name: "profile", Enabled: true},
		{Name: "email", Enabled: true},
	}, nil)
	tracker := session.NewCacheTracker(cache.NewMemoryCache[[]string](), time.Hour)
	notifier := &recordingNotifier{}

	jwtSecret := []byte("endpoint-test-secret-0123456789abcdef")
	cookie := authntest.NewHandler("cookie")
	reg, err := authn.NewRegistry(
		authn.Defaults{Authenticate: "cookie"},
		authn.Scheme{Name: "cookie", Handler: cookie},
		authn.Scheme{Name: "bearer", Handler: bearer.New("bearer", bearer.Options{
			Secret: jwtSecret,
			Issuer: testIssuer,
			Grants: grants,
		})},
	)
	require.NoError(t, err)
	svc := authn.NewService(reg)

	h, err := endpoints.New(endpoints.Options{
		Dispatcher:  svc,
		Clients:     store.NewInMemoryClientStore(client),
		Grants:      grants,
		Resources:   resources,
		Tracker:     tracker,
		Tokens:      bearer.NewTokenIssuer(jwtSecret, testIssuer, grants),
		Notifier:    notifier,
		LocalScheme: "cookie",
	})
	require.NoError(t, err)

	co, err := pipeline.New(pipeline.Options{
		Readiness:  alwaysReady{},
		BaseURL:    testIssuer,
		Dispatcher: svc,
		Endpoints:  h.Register,
	})
	require.NoError(t, err)
	engine := gin.New()
	co.Mount(engine)

	return &fixture{
		engine:       engine,
		cookie:       cookie,
		grants:       grants,
		tracker:      tracker,
		notifier:     notifier,
		clientSecret: secret,
	}
}

func (f *fixture) get(target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) postForm(target string, form url.Values, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) signIn(sub, sid string) {
	f.cookie.SetUser(
		authn.Claim{Type: authn.ClaimSubject, Value: sub},
		authn.Claim{Type: authn.ClaimSessionID, Value: sid},
	)
}

func authorizeURL(scope, state string) string {
	q := url.Values{
		"client_id":     {"app"},
		"redirect_uri":  {testRedirect},
		"response_type": {"code"},
		"scope":         {scope},
		"state":         {state},
	}
	return endpoints.PathAuthorize + "?" + q.Encode()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := endpoints.New(endpoints.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatcher is required")
	assert.Contains(t, err.Error(), "token issuer is required")
	assert.Contains(t, err.Error(), "local scheme is required")
}

func TestDiscovery(t *testing.T) {
	f := newFixture(t)

	w := f.get(endpoints.PathDiscovery, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, testIssuer, body["issuer"])
	assert.Equal(t, testIssuer+endpoints.PathEndSession, body["end_session_endpoint"])
	assert.Equal(t, []any{"openid", "profile", "email"}, body["scopes_supported"])
	assert.Equal(t, true, body["backchannel_logout_supported"])
}

func TestAuthorize_UnknownClient(t *testing.T) {
	f := newFixture(t)

	w := f.get(endpoints.PathAuthorize+"?client_id=nope&redirect_uri="+url.QueryEscape(testRedirect), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_client", decode(t, w)["error"])
}

func TestAuthorize_UnregisteredRedirect(t *testing.T) {
	f := newFixture(t)

	w := f.get(endpoints.PathAuthorize+"?client_id=app&redirect_uri="+url.QueryEscape("https://evil.example.com/cb"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])
}

func TestAuthorize_AnonymousIsChallenged(t *testing.T) {
	f := newFixture(t)

	w := f.get(authorizeURL("openid", "s"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int32(1), f.cookie.ChallengeCalls.Load())
}

func TestAuthorize_ChallengeFailureRedirectsWithServerError(t *testing.T) {
	f := newFixture(t)
	f.cookie.ChallengeErr = errors.New("login path unavailable")

	w := f.get(authorizeURL("openid", "xyz"), nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "server_error", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestAuthorize_InvalidScope(t *testing.T) {
	f := newFixture(t)
	f.signIn("alice", "sid-1")

	w := f.get(authorizeURL("openid admin", "xyz"), nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestAuthorizeTokenUserInfo_Flow(t *testing.T) {
	f := newFixture(t)
	f.signIn("alice", "sid-1")

	w := f.get(authorizeURL("openid profile", "st"), nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "st", loc.Query().Get("state"))

	clients, err := f.tracker.Clients(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, clients)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirect},
	}
	w = f.postForm(endpoints.PathToken, form, "app", f.clientSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	body := decode(t, w)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "openid profile", body["scope"])
	accessToken, _ := body["access_token"].(string)
	require.NotEmpty(t, accessToken)

	// Codes are single use.
	w = f.postForm(endpoints.PathToken, form, "app", f.clientSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", decode(t, w)["error"])

	w = f.get(endpoints.PathUserInfo, http.Header{"Authorization": {"Bearer " + accessToken}})
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, "alice", info["sub"])
	assert.NotContains(t, info, "email")
}

func TestToken_InvalidClientSecret(t *testing.T) {
	f := newFixture(t)

	w := f.postForm(endpoints.PathToken, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"whatever"},
		"client_id":     {"app"},
		"client_secret": {"wrong"},
	}, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_client", decode(t, w)["error"])
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	f := newFixture(t)

	w := f.postForm(endpoints.PathToken, url.Values{"grant_type": {"password"}}, "app", f.clientSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unsupported_grant_type", decode(t, w)["error"])
}

func TestToken_RedirectMismatch(t *testing.T) {
	f := newFixture(t)
	f.signIn("alice", "sid-1")

	w := f.get(authorizeURL("openid", ""), nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, _ := url.Parse(w.Header().Get("Location"))

	w = f.postForm(endpoints.PathToken, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {loc.Query().Get("code")},
		"redirect_uri": {"https://app.example.com/other"},
	}, "app", f.clientSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", decode(t, w)["error"])
}

func TestUserInfo_WithoutTokenIsChallenged(t *testing.T) {
	f := newFixture(t)

	w := f.get(endpoints.PathUserInfo, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestEndSession_SignsOutAndRedirects(t *testing.T) {
	f := newFixture(t)
	f.signIn("alice", "sid-1")

	q := url.Values{
		"client_id":                {"app"},
		"post_logout_redirect_uri": {"https://app.example.com/bye"},
		"state":                    {"abc"},
	}
	w := f.get(endpoints.PathEndSession+"?"+q.Encode(), nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://app.example.com/bye?state=abc", w.Header().Get("Location"))
	assert.False(t, f.cookie.HasSession())
	assert.Equal(t, int32(1), f.cookie.SessionsEnded.Load())
	assert.Equal(t, []string{"sid-1"}, f.notifier.Sessions())
}

func TestEndSession_Anonymous(t *testing.T) {
	f := newFixture(t)

	w := f.get(endpoints.PathEndSession, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["signed_out"])
	assert.Empty(t, f.notifier.Sessions())
}

func TestEndSession_UnregisteredRedirectIgnored(t *testing.T) {
	f := newFixture(t)
	f.signIn("alice", "sid-1")

	q := url.Values{
		"client_id":                {"app"},
		"post_logout_redirect_uri": {"https://evil.example.com/"},
	}
	w := f.get(endpoints.PathEndSession+"?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["signed_out"])
	assert.InDelta(t, 1, body["notified"], 0)
}
