package core

import (
	"context"

	"github.com/go-authgate/authcore/internal/models"
)

// Service kinds resolved from the service container.
const (
	KindGrantStore     = "core.GrantStore"
	KindClientStore    = "core.ClientStore"
	KindResourceStore  = "core.ResourceStore"
	KindSessionTracker = "core.SessionTracker"
)

// GrantStore persists grants issued to clients on behalf of a subject.
type GrantStore interface {
	StoreGrant(ctx context.Context, grant *models.PersistedGrant) error
	// GetGrant returns ErrGrantNotFound (from the store package) when no
	// grant exists under key.
	GetGrant(ctx context.Context, key string) (*models.PersistedGrant, error)
	GetAllGrants(ctx context.Context, filter models.GrantFilter) ([]models.PersistedGrant, error)
	RemoveGrant(ctx context.Context, key string) error
	RemoveAllGrants(ctx context.Context, filter models.GrantFilter) error
}

// ClientStore looks up registered relying parties.
type ClientStore interface {
	FindClientByID(ctx context.Context, clientID string) (*models.Client, error)
}

// ResourceStore looks up identity and API resources.
type ResourceStore interface {
	FindIdentityResourcesByScope(ctx context.Context, scopes []string) ([]models.IdentityResource, error)
	FindAPIResourcesByScope(ctx context.Context, scopes []string) ([]models.APIResource, error)
	GetAllResources(ctx context.Context) (*models.Resources, error)
}

// SessionTracker remembers which clients took part in a user session so that
// they can be notified when the session ends.
type SessionTracker interface {
	Join(ctx context.Context, sessionID, clientID string) error
	Clients(ctx context.Context, sessionID string) ([]string, error)
	Forget(ctx context.Context, sessionID string) error
}
