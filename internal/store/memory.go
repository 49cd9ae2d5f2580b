package store

import (
	"context"
	"slices"
	"sync"

	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/models"
)

var (
	_ core.GrantStore    = (*InMemoryGrantStore)(nil)
	_ core.ClientStore   = (*InMemoryClientStore)(nil)
	_ core.ResourceStore = (*InMemoryResourceStore)(nil)
)

// InMemoryGrantStore keeps persisted grants in process memory. Grants are lost
// on restart and are not shared between instances.
type InMemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]models.PersistedGrant
}

// NewInMemoryGrantStore returns an empty grant store.
func NewInMemoryGrantStore() *InMemoryGrantStore {
	return &InMemoryGrantStore{grants: make(map[string]models.PersistedGrant)}
}

func (s *InMemoryGrantStore) StoreGrant(ctx context.Context, grant *models.PersistedGrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.grants[grant.Key] = *grant
	s.mu.Unlock()
	return nil
}

func (s *InMemoryGrantStore) GetGrant(ctx context.Context, key string) (*models.PersistedGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[key]
	if !ok {
		return nil, ErrGrantNotFound
	}
	return &g, nil
}

func (s *InMemoryGrantStore) GetAllGrants(
	ctx context.Context,
	filter models.GrantFilter,
) ([]models.PersistedGrant, error) {
	if filter.IsEmpty() {
		return nil, ErrEmptyFilter
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PersistedGrant
	for _, g := range s.grants {
		if filter.Matches(&g) {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b models.PersistedGrant) int {
		return a.CreationTime.Compare(b.CreationTime)
	})
	return out, nil
}

func (s *InMemoryGrantStore) RemoveGrant(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.grants, key)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryGrantStore) RemoveAllGrants(ctx context.Context, filter models.GrantFilter) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, g := range s.grants {
		if filter.Matches(&g) {
			delete(s.grants, key)
		}
	}
	return nil
}

// InMemoryClientStore serves a fixed set of clients.
type InMemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]models.Client
}

// NewInMemoryClientStore returns a client store holding clients.
func NewInMemoryClientStore(clients ...models.Client) *InMemoryClientStore {
	s := &InMemoryClientStore{clients: make(map[string]models.Client, len(clients))}
	s.add(clients...)
	return s
}

func (s *InMemoryClientStore) add(clients ...models.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range clients {
		s.clients[c.ClientID] = c
	}
}

func (s *InMemoryClientStore) FindClientByID(ctx context.Context, clientID string) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

// InMemoryResourceStore serves a fixed set of identity and API resources.
type InMemoryResourceStore struct {
	mu       sync.RWMutex
	identity []models.IdentityResource
	apis     []models.APIResource
}

// NewInMemoryResourceStore returns a resource store holding the given resources.
func NewInMemoryResourceStore(
	identity []models.IdentityResource,
	apis []models.APIResource,
) *InMemoryResourceStore {
	return &InMemoryResourceStore{
		identity: slices.Clone(identity),
		apis:     slices.Clone(apis),
	}
}

func (s *InMemoryResourceStore) FindIdentityResourcesByScope(
	ctx context.Context,
	scopes []string,
) ([]models.IdentityResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.IdentityResource
	for _, r := range s.identity {
		if slices.Contains(scopes, r.Name) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryResourceStore) FindAPIResourcesByScope(
	ctx context.Context,
	scopes []string,
) ([]models.APIResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return apiResourcesForScopes(s.apis, scopes), nil
}

func (s *InMemoryResourceStore) GetAllResources(ctx context.Context) (*models.Resources, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &models.Resources{
		IdentityResources: slices.Clone(s.identity),
		APIResources:      slices.Clone(s.apis),
	}, nil
}

func apiResourcesForScopes(apis []models.APIResource, scopes []string) []models.APIResource {
	var out []models.APIResource
	for _, api := range apis {
		if slices.ContainsFunc(api.Scopes, func(s string) bool { return slices.Contains(scopes, s) }) {
			out = append(out, api)
		}
	}
	return out
}

// FindEnabledClient looks up a client and rejects disabled ones.
func FindEnabledClient(ctx context.Context, clients core.ClientStore, clientID string) (*models.Client, error) {
	c, err := clients.FindClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !c.Enabled {
		return nil, ErrClientDisabled
	}
	return c, nil
}
