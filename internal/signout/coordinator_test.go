package signout_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/authn/authntest"
	"github.com/go-authgate/authcore/internal/cache"
	"github.com/go-authgate/authcore/internal/mocks"
	"github.com/go-authgate/authcore/internal/models"
	"github.com/go-authgate/authcore/internal/session"
	"github.com/go-authgate/authcore/internal/signout"
	"github.com/go-authgate/authcore/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	localSID    = "local-sid"
	upstreamSID = "upstream-sid"
)

type fixture struct {
	engine   *gin.Engine
	co       *signout.Coordinator
	local    *authntest.Handler
	external *authntest.Handler
	tracker  *session.CacheTracker
	notifier *mocks.MockNotifier
	reached  bool
}

func newFixture(t *testing.T, clients ...models.Client) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		local:    authntest.NewHandler("cookie"),
		external: authntest.NewHandler("external"),
		tracker:  session.NewCacheTracker(cache.NewMemoryCache[[]string](), time.Hour),
		notifier: mocks.NewMockNotifier(gomock.NewController(t)),
	}
	reg, err := authn.NewRegistry(authn.Defaults{Authenticate: "cookie"},
		authn.Scheme{Name: "cookie", Handler: f.local},
		authn.Scheme{Name: "external", Handler: f.external},
	)
	require.NoError(t, err)

	co, err := signout.New(signout.Options{
		Dispatcher:  authn.NewService(reg),
		Tracker:     f.tracker,
		Clients:     store.NewInMemoryClientStore(clients...),
		Notifier:    f.notifier,
		LocalScheme: "cookie",
		Callbacks:   []signout.CallbackPath{{Path: "/signout-external", Scheme: "external"}},
	})
	require.NoError(t, err)

	r := gin.New()
	r.Use(co.Middleware())
	r.GET("/connect/userinfo", func(c *gin.Context) {
		f.reached = true
		c.Status(http.StatusNoContent)
	})
	f.engine = r
	f.co = co
	return f
}

func (f *fixture) signIn() {
	f.local.SetUser(
		authn.Claim{Type: authn.ClaimSubject, Value: "alice"},
		authn.Claim{Type: authn.ClaimSessionID, Value: localSID},
	)
	f.external.SetUser(
		authn.Claim{Type: authn.ClaimSubject, Value: "upstream-alice"},
		authn.Claim{Type: authn.ClaimSessionID, Value: upstreamSID},
	)
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func rp(id, uri string) models.Client {
	return models.Client{ClientID: id, ClientName: id, Enabled: true, BackChannelLogoutURI: uri, BackChannelLogoutSessionRequired: true}
}

func TestCallback_NotifiesEveryEndpointOnce(t *testing.T) {
	disabled := rp("disabled", "https://disabled.example.com/logout")
	disabled.Enabled = false
	f := newFixture(t,
		rp("web", "https://web.example.com/logout"),
		rp("mobile", "https://mobile.example.com/logout"),
		rp("legacy", ""),
		disabled,
	)
	f.signIn()
	ctx := context.Background()
	for _, id := range []string{"web", "mobile", "legacy", "disabled", "deleted"} {
		require.NoError(t, f.tracker.Join(ctx, localSID, id))
	}

	seen := make(chan signout.Endpoint, 4)
	f.notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n *signout.Notification, ep signout.Endpoint) error {
			assert.Equal(t, localSID, n.SessionID)
			assert.Equal(t, "alice", n.Subject)
			assert.Len(t, n.Endpoints, 2)
			seen <- ep
			return nil
		}).
		Times(2)

	w := f.get("/signout-external?sid=" + upstreamSID)
	assert.Equal(t, http.StatusOK, w.Code)
	close(seen)

	var uris []string
	for ep := range seen {
		uris = append(uris, ep.URI)
	}
	assert.ElementsMatch(t, []string{"https://web.example.com/logout", "https://mobile.example.com/logout"}, uris)

	assert.Equal(t, int32(1), f.local.SignOutCalls.Load())
	assert.Equal(t, int32(1), f.local.SessionsEnded.Load())
	assert.Equal(t, int32(1), f.external.SignOutCalls.Load())
	assert.False(t, f.local.HasSession())

	clients, err := f.tracker.Clients(ctx, localSID)
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestCallback_NoEndpointsNoNotifications(t *testing.T) {
	f := newFixture(t)
	f.signIn()

	w := f.get("/signout-external")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), f.local.SessionsEnded.Load())
}

func TestCallback_NoSessionIsNoop(t *testing.T) {
	f := newFixture(t, rp("web", "https://web.example.com/logout"))

	w := f.get("/signout-external")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, f.local.SignOutCalls.Load())
	assert.Zero(t, f.external.SignOutCalls.Load())
}

func TestCallback_SessionMismatchIsNoop(t *testing.T) {
	f := newFixture(t)
	f.signIn()

	w := f.get("/signout-external?sid=someone-else")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, f.local.SignOutCalls.Load())
	assert.True(t, f.local.HasSession())
}

func TestCallback_UpstreamWithoutSessionID(t *testing.T) {
	f := newFixture(t, rp("web", "https://web.example.com/logout"))
	f.signIn()
	f.external.SetUser(authn.Claim{Type: authn.ClaimSubject, Value: "upstream-alice"})
	require.NoError(t, f.tracker.Join(context.Background(), localSID, "web"))

	f.notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n *signout.Notification, ep signout.Endpoint) error {
			assert.Equal(t, localSID, n.SessionID)
			assert.Equal(t, "https://web.example.com/logout", ep.URI)
			return nil
		}).
		Times(1)

	w := f.get("/signout-external?sid=" + upstreamSID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), f.local.SignOutCalls.Load())
	assert.Equal(t, int32(1), f.external.SignOutCalls.Load())
	assert.False(t, f.local.HasSession())
}

func TestCallback_NotificationFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, rp("web", "https://web.example.com/logout"))
	f.signIn()
	require.NoError(t, f.tracker.Join(context.Background(), localSID, "web"))

	f.notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("connection refused")).
		Times(1)

	w := f.get("/signout-external")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.local.HasSession())
}

func TestCallback_AuthenticateErrorIs500(t *testing.T) {
	f := newFixture(t)
	f.external.Err = errors.New("session store down")

	w := f.get("/signout-external")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, f.local.SignOutCalls.Load())
}

func TestOtherPathsPassThrough(t *testing.T) {
	f := newFixture(t)
	f.signIn()

	w := f.get("/connect/userinfo")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, f.reached)
	assert.Zero(t, f.local.SignOutCalls.Load())
}

func TestMatches(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.co.Matches("/signout-external"))
	assert.False(t, f.co.Matches("/signout-external/"))
	assert.False(t, f.co.Matches("/connect/userinfo"))
}

func TestNew_Validation(t *testing.T) {
	_, err := signout.New(signout.Options{
		Callbacks: []signout.CallbackPath{{Path: "/a", Scheme: "x"}, {Path: "/a", Scheme: "y"}},
	})
	require.Error(t, err)
	for _, want := range []string{"dispatcher", "tracker", "client store", "notifier", "local scheme", "configured twice"} {
		assert.Contains(t, err.Error(), want)
	}
}
