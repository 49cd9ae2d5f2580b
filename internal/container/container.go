// Package container is a small explicit service container. Services are
// registered by kind (a string key) during startup, the container is frozen,
// and consumers resolve them through short-lived scopes.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Lifetime controls how often a factory runs.
type Lifetime int

const (
	// Singleton factories run at most once per container.
	Singleton Lifetime = iota
	// Scoped factories run at most once per scope; instances implementing
	// io.Closer are closed with the scope.
	Scoped
)

// Factory builds a service. The scope can be used to resolve dependencies.
type Factory func(ctx context.Context, s *Scope) (any, error)

type registration struct {
	lifetime Lifetime
	factory  Factory
}

// Container holds service registrations.
type Container struct {
	mu            sync.Mutex
	registrations map[string]registration
	singletons    map[string]any
	frozen        bool
}

// New returns an empty container.
func New() *Container {
	return &Container{
		registrations: make(map[string]registration),
		singletons:    make(map[string]any),
	}
}

// Register adds or replaces the factory for kind.
func (c *Container) Register(kind string, lifetime Lifetime, factory Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return fmt.Errorf("%w: %s", ErrFrozen, kind)
	}
	c.registrations[kind] = registration{lifetime: lifetime, factory: factory}
	delete(c.singletons, kind)
	return nil
}

// AddSingleton registers an already built instance.
func (c *Container) AddSingleton(kind string, instance any) error {
	if err := c.Register(kind, Singleton, func(context.Context, *Scope) (any, error) {
		return instance, nil
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.singletons[kind] = instance
	c.mu.Unlock()
	return nil
}

// AddScoped registers a factory that runs once per scope.
func (c *Container) AddScoped(kind string, factory Factory) error {
	return c.Register(kind, Scoped, factory)
}

// Has reports whether kind is registered.
func (c *Container) Has(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.registrations[kind]
	return ok
}

// Freeze rejects further registrations.
func (c *Container) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// NewScope opens a resolution scope. Callers must Close it.
func (c *Container) NewScope(ctx context.Context) *Scope {
	return &Scope{
		ctx:       ctx,
		container: c,
		instances: make(map[string]any),
	}
}

// Close closes every resolved singleton that implements io.Closer.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for kind, instance := range c.singletons {
		if closer, ok := instance.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", kind, err))
			}
		}
	}
	c.singletons = make(map[string]any)
	return errors.Join(errs...)
}

func (c *Container) singleton(kind string, s *Scope, factory Factory) (any, error) {
	c.mu.Lock()
	instance, ok := c.singletons[kind]
	c.mu.Unlock()
	if ok {
		return instance, nil
	}

	// Built without holding the lock so that the factory can resolve its own
	// dependencies. If two scopes race, the first stored instance wins.
	built, err := factory(s.ctx, s)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", kind, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.singletons[kind]; ok {
		if closer, ok := built.(io.Closer); ok {
			_ = closer.Close()
		}
		return existing, nil
	}
	c.singletons[kind] = built
	return built, nil
}

func (c *Container) lookup(kind string) (registration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.registrations[kind]
	return r, ok
}

// Scope resolves services and owns scoped instances.
type Scope struct {
	ctx       context.Context
	container *Container

	mu        sync.Mutex
	instances map[string]any
	closers   []io.Closer
	closed    bool
}

// Context returns the context the scope was opened with.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Resolve returns the service registered for kind.
func (s *Scope) Resolve(kind string) (any, error) {
	s.mu.Lock()
	closed := s.closed
	instance, cached := s.instances[kind]
	s.mu.Unlock()

	if closed {
		return nil, ErrScopeClosed
	}
	if cached {
		return instance, nil
	}

	reg, ok := s.container.lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, kind)
	}

	if reg.lifetime == Singleton {
		// Singleton factories may resolve other services from this scope,
		// so the scope lock is not held here.
		return s.container.singleton(kind, s, reg.factory)
	}

	instance, err := reg.factory(s.ctx, s)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[kind]; ok {
		return existing, nil
	}
	s.instances[kind] = instance
	if closer, ok := instance.(io.Closer); ok {
		s.closers = append(s.closers, closer)
	}
	return instance, nil
}

// Close releases scoped instances in reverse resolution order. Calling Close
// more than once is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	s.instances = nil
	return errors.Join(errs...)
}

// Resolve resolves kind from the scope and asserts it to T.
func Resolve[T any](s *Scope, kind string) (T, error) {
	var zero T
	instance, err := s.Resolve(kind)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("container: %s resolved to unexpected type %T", kind, instance)
	}
	return typed, nil
}
