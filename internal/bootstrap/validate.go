package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-authgate/authcore/internal/container"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/logging"
	"github.com/go-authgate/authcore/internal/metrics"
	"github.com/go-authgate/authcore/internal/store"
)

// ValidationState is the lifecycle of startup validation.
type ValidationState int32

const (
	StateUninitialized ValidationState = iota
	StateValidating
	StateReady
	StateFatalAborted
)

func (s ValidationState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValidating:
		return "validating"
	case StateReady:
		return "ready"
	case StateFatalAborted:
		return "fatal_aborted"
	default:
		return fmt.Sprintf("ValidationState(%d)", int32(s))
	}
}

// Requirement names a service kind that must be registered before traffic
// is accepted. Optional requirements are logged but never abort startup.
type Requirement struct {
	Kind     string
	Message  string
	Optional bool
}

// DefaultRequirements are the storage collaborators every deployment needs.
var DefaultRequirements = []Requirement{
	{
		Kind:    core.KindGrantStore,
		Message: "No storage mechanism for grants specified. Use store.AddInMemoryPersistedGrants to register a development version.",
	},
	{
		Kind:    core.KindClientStore,
		Message: "No storage mechanism for clients specified. Use store.AddInMemoryClients to register a development version.",
	},
	{
		Kind:    core.KindResourceStore,
		Message: "No storage mechanism for resources specified. Use store.AddInMemoryIdentityResources or store.AddInMemoryAPIResources to register a development version.",
	},
}

const inMemoryGrantStoreWarning = "You are using the in-memory version of the persisted grant store. " +
	"This will store consent decisions, authorization codes, refresh and reference tokens in memory only. " +
	"If you are using any of those features in production, you want to switch to a different store implementation."

// ConfigurationError reports a required service that is missing or could
// not be built. It only occurs during startup.
type ConfigurationError struct {
	Kind    string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Validator checks the service container once before the server starts.
type Validator struct {
	container    *container.Container
	requirements []Requirement
	logger       *slog.Logger
	recorder     core.Recorder

	once  sync.Once
	state atomic.Int32
	err   error
}

// NewValidator returns a validator for c. Without requirements the
// DefaultRequirements are checked.
func NewValidator(c *container.Container, logger *slog.Logger, recorder core.Recorder, reqs ...Requirement) *Validator {
	if len(reqs) == 0 {
		reqs = DefaultRequirements
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoopMetrics()
	}
	return &Validator{
		container:    c,
		requirements: append([]Requirement(nil), reqs...),
		logger:       logger.With("component", "startup"),
		recorder:     recorder,
	}
}

// RequireService resolves kind from scope. When it is missing a CRITICAL
// line is logged with message, or a default naming the kind, and, if
// doThrow is set, a *ConfigurationError is returned.
func (v *Validator) RequireService(scope *container.Scope, kind, message string, doThrow bool) (any, error) {
	svc, err := scope.Resolve(kind)
	if err == nil {
		return svc, nil
	}

	if message == "" {
		message = fmt.Sprintf("Required service %s is not registered in the service container. Aborting startup", kind)
	}
	var cause error
	if !errors.Is(err, container.ErrNotRegistered) {
		cause = err
	}

	args := []any{"kind", kind}
	if cause != nil {
		args = append(args, "error", cause)
	}
	logging.Critical(scope.Context(), v.logger, message, args...)

	if doThrow {
		return nil, &ConfigurationError{Kind: kind, Message: message, Err: cause}
	}
	return nil, nil
}

// Validate runs the checks exactly once. Later calls return the first
// result. Every requirement is checked before giving up so that all
// missing services are reported together.
func (v *Validator) Validate(ctx context.Context) error {
	v.once.Do(func() {
		v.err = v.validate(ctx)
	})
	return v.err
}

func (v *Validator) validate(ctx context.Context) error {
	v.state.Store(int32(StateValidating))

	scope := v.container.NewScope(ctx)
	defer scope.Close()

	var errs []error
	for _, r := range v.requirements {
		if _, err := v.RequireService(scope, r.Kind, r.Message, !r.Optional); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		v.state.Store(int32(StateFatalAborted))
		v.recorder.RecordStartupValidation(StateFatalAborted.String())
		return errors.Join(errs...)
	}

	if grants, err := scope.Resolve(core.KindGrantStore); err == nil {
		if _, ok := grants.(*store.InMemoryGrantStore); ok {
			v.logger.InfoContext(ctx, inMemoryGrantStoreWarning)
		}
	}

	v.state.Store(int32(StateReady))
	v.recorder.RecordStartupValidation(StateReady.String())
	v.logger.DebugContext(ctx, "startup validation passed")
	return nil
}

// State returns the current validation state.
func (v *Validator) State() ValidationState {
	return ValidationState(v.state.Load())
}

// Ready reports whether validation passed. Traffic is only served when true.
func (v *Validator) Ready() bool {
	return v.State() == StateReady
}
