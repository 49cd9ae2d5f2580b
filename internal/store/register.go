package store

import (
	"context"

	"github.com/go-authgate/authcore/internal/container"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/models"
)

// AddInMemoryPersistedGrants registers a development grant store. Grants do
// not survive restarts.
func AddInMemoryPersistedGrants(c *container.Container) error {
	return c.AddSingleton(core.KindGrantStore, NewInMemoryGrantStore())
}

// AddInMemoryClients registers a client store serving clients. Repeated calls
// add to the same store.
func AddInMemoryClients(c *container.Container, clients ...models.Client) error {
	if existing, ok := resolveExisting[*InMemoryClientStore](c, core.KindClientStore); ok {
		existing.add(clients...)
		return nil
	}
	return c.AddSingleton(core.KindClientStore, NewInMemoryClientStore(clients...))
}

// AddInMemoryIdentityResources registers (or extends) the in-memory resource
// store with identity resources.
func AddInMemoryIdentityResources(c *container.Container, resources ...models.IdentityResource) error {
	if existing, ok := resolveExisting[*InMemoryResourceStore](c, core.KindResourceStore); ok {
		existing.mu.Lock()
		existing.identity = append(existing.identity, resources...)
		existing.mu.Unlock()
		return nil
	}
	return c.AddSingleton(core.KindResourceStore, NewInMemoryResourceStore(resources, nil))
}

// AddInMemoryAPIResources registers (or extends) the in-memory resource store
// with API resources.
func AddInMemoryAPIResources(c *container.Container, resources ...models.APIResource) error {
	if existing, ok := resolveExisting[*InMemoryResourceStore](c, core.KindResourceStore); ok {
		existing.mu.Lock()
		existing.apis = append(existing.apis, resources...)
		existing.mu.Unlock()
		return nil
	}
	return c.AddSingleton(core.KindResourceStore, NewInMemoryResourceStore(nil, resources))
}

func resolveExisting[T any](c *container.Container, kind string) (T, bool) {
	var zero T
	if !c.Has(kind) {
		return zero, false
	}
	scope := c.NewScope(context.Background())
	defer scope.Close()

	v, err := container.Resolve[T](scope, kind)
	if err != nil {
		return zero, false
	}
	return v, true
}
