// Package signout coordinates federated sign-out: when the upstream provider
// calls a sign-out callback, the matching local session is ended and every
// relying party that joined it is notified over the back channel.
package signout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/metrics"
	"github.com/go-authgate/authcore/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Federated sign-out results recorded in metrics.
const (
	ResultSignedOut   = "signed_out"
	ResultNoSession   = "no_session"
	ResultSIDMismatch = "sid_mismatch"
	ResultError       = "error"
)

// CallbackPath binds a sign-out callback path to the scheme whose session
// it ends.
type CallbackPath struct {
	Path   string
	Scheme string
}

// Options configures a Coordinator.
type Options struct {
	Dispatcher authn.Dispatcher
	Tracker    core.SessionTracker
	Clients    core.ClientStore
	Notifier   Notifier
	// LocalScheme is the scheme holding the local session.
	LocalScheme string
	Callbacks   []CallbackPath
	// PathBase prefixes every callback path.
	PathBase string
	// Concurrency bounds parallel notifications; zero means unbounded.
	Concurrency int
	Recorder    core.Recorder
	Logger      *slog.Logger
}

// Coordinator intercepts sign-out callbacks and delivers notifications.
type Coordinator struct {
	opts      Options
	callbacks map[string]string
}

// New validates opts and returns a coordinator.
func New(opts Options) (*Coordinator, error) {
	var errs []error
	if opts.Dispatcher == nil {
		errs = append(errs, errors.New("signout: dispatcher is required"))
	}
	if opts.Tracker == nil {
		errs = append(errs, errors.New("signout: session tracker is required"))
	}
	if opts.Clients == nil {
		errs = append(errs, errors.New("signout: client store is required"))
	}
	if opts.Notifier == nil {
		errs = append(errs, errors.New("signout: notifier is required"))
	}
	if opts.LocalScheme == "" {
		errs = append(errs, errors.New("signout: local scheme is required"))
	}

	callbacks := make(map[string]string, len(opts.Callbacks))
	for _, cb := range opts.Callbacks {
		path := opts.PathBase + cb.Path
		if _, dup := callbacks[path]; dup {
			errs = append(errs, fmt.Errorf("signout: callback path %q configured twice", path))
		}
		callbacks[path] = cb.Scheme
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if opts.Recorder == nil {
		opts.Recorder = metrics.NewNoopMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{opts: opts, callbacks: callbacks}, nil
}

// Middleware returns the pipeline stage. Requests to a callback path are
// answered here and the chain is aborted; all others pass through.
func (co *Coordinator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, ok := co.callbacks[c.Request.URL.Path]
		if !ok {
			c.Next()
			return
		}
		co.handleCallback(c, scheme)
	}
}

// Matches reports whether path is a configured callback path.
func (co *Coordinator) Matches(path string) bool {
	_, ok := co.callbacks[path]
	return ok
}

func (co *Coordinator) handleCallback(c *gin.Context, scheme string) {
	ctx := c.Request.Context()
	log := co.opts.Logger.With("scheme", scheme)
	c.Header("Cache-Control", "no-store")

	ext, err := co.opts.Dispatcher.Authenticate(c, scheme)
	if err != nil {
		co.fail(c, scheme, "authenticate", err)
		return
	}
	if !ext.Succeeded() {
		log.DebugContext(ctx, "sign-out callback without an active session")
		co.finish(c, scheme, ResultNoSession)
		return
	}
	// Providers that issue no sid correlate on the authenticated session alone.
	sid := ext.Principal.SessionID()
	if requested := c.Query("sid"); requested != "" && sid != "" && requested != sid {
		log.WarnContext(ctx, "sign-out callback for another session", "sid", requested)
		co.finish(c, scheme, ResultSIDMismatch)
		return
	}

	local, err := co.opts.Dispatcher.Authenticate(c, co.opts.LocalScheme)
	if err != nil {
		co.fail(c, scheme, "authenticate local session", err)
		return
	}

	if err := co.opts.Dispatcher.SignOut(c, co.opts.LocalScheme, nil); err != nil {
		co.fail(c, scheme, "sign out local session", err)
		return
	}
	if scheme != co.opts.LocalScheme {
		if err := co.opts.Dispatcher.SignOut(c, scheme, nil); err != nil {
			co.fail(c, scheme, "sign out", err)
			return
		}
	}

	if local.Succeeded() {
		n := co.NotifySession(ctx, co.opts.LocalScheme, local.Principal.SessionID(), local.Principal.Subject())
		log.InfoContext(ctx, "federated sign-out completed",
			"sub", local.Principal.Subject(), "notified", len(n.Endpoints))
	}
	co.finish(c, scheme, ResultSignedOut)
}

func (co *Coordinator) finish(c *gin.Context, scheme, result string) {
	co.opts.Recorder.RecordFederatedSignOut(scheme, result)
	c.AbortWithStatus(http.StatusOK)
}

func (co *Coordinator) fail(c *gin.Context, scheme, step string, err error) {
	co.opts.Logger.ErrorContext(c.Request.Context(), "federated sign-out failed",
		"scheme", scheme, "step", step, "error", err)
	co.opts.Recorder.RecordFederatedSignOut(scheme, ResultError)
	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":             "server_error",
		"error_description": "Sign-out could not be completed",
	})
}

// NotifySession delivers one back-channel notification to every client that
// joined sessionID and then forgets the session. Delivery failures are
// logged and counted, never returned. The returned notification lists the
// endpoints that were targeted.
func (co *Coordinator) NotifySession(ctx context.Context, scheme, sessionID, subject string) *Notification {
	n := &Notification{Scheme: scheme, SessionID: sessionID, Subject: subject}
	if sessionID == "" {
		return n
	}
	// Notifications outlive a client that disconnects mid-request.
	ctx = context.WithoutCancel(ctx)

	n.Endpoints = co.endpoints(ctx, sessionID)
	co.deliver(ctx, n)

	if err := co.opts.Tracker.Forget(ctx, sessionID); err != nil {
		co.opts.Logger.WarnContext(ctx, "failed to forget session", "sid", sessionID, "error", err)
	}
	return n
}

func (co *Coordinator) endpoints(ctx context.Context, sessionID string) []Endpoint {
	clientIDs, err := co.opts.Tracker.Clients(ctx, sessionID)
	if err != nil {
		co.opts.Logger.WarnContext(ctx, "failed to load session clients", "sid", sessionID, "error", err)
		co.opts.Recorder.RecordStoreError("session_tracker", "clients")
		return nil
	}

	var out []Endpoint
	for _, id := range clientIDs {
		client, err := store.FindEnabledClient(ctx, co.opts.Clients, id)
		switch {
		case errors.Is(err, store.ErrClientNotFound), errors.Is(err, store.ErrClientDisabled):
			continue
		case err != nil:
			co.opts.Logger.WarnContext(ctx, "failed to load client", "client_id", id, "error", err)
			co.opts.Recorder.RecordStoreError("client_store", "find")
			continue
		case client.BackChannelLogoutURI == "":
			continue
		}
		out = append(out, Endpoint{
			ClientID:        client.ClientID,
			URI:             client.BackChannelLogoutURI,
			SessionRequired: client.BackChannelLogoutSessionRequired,
		})
	}
	return out
}

func (co *Coordinator) deliver(ctx context.Context, n *Notification) {
	var g errgroup.Group
	if co.opts.Concurrency > 0 {
		g.SetLimit(co.opts.Concurrency)
	}
	for _, ep := range n.Endpoints {
		g.Go(func() error {
			start := time.Now()
			err := co.opts.Notifier.Notify(ctx, n, ep)
			co.opts.Recorder.RecordLogoutNotification(err == nil, time.Since(start))
			if err != nil {
				co.opts.Logger.WarnContext(ctx, "back-channel logout failed",
					"client_id", ep.ClientID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
