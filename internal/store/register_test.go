package store

import (
	"context"
	"testing"

	"github.com/go-authgate/authcore/internal/container"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddInMemoryHelpers(t *testing.T) {
	c := container.New()

	require.NoError(t, AddInMemoryPersistedGrants(c))
	require.NoError(t, AddInMemoryClients(c, models.Client{ClientID: "web", Enabled: true}))
	require.NoError(t, AddInMemoryClients(c, models.Client{ClientID: "spa", Enabled: true}))
	require.NoError(t, AddInMemoryIdentityResources(c, models.IdentityResource{Name: "openid", Enabled: true}))
	require.NoError(t, AddInMemoryAPIResources(c, models.APIResource{
		Name: "orders", Enabled: true, Scopes: models.StringArray{"orders.read"},
	}))

	ctx := context.Background()
	scope := c.NewScope(ctx)
	defer scope.Close()

	grants, err := container.Resolve[core.GrantStore](scope, core.KindGrantStore)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryGrantStore{}, grants)

	clients, err := container.Resolve[core.ClientStore](scope, core.KindClientStore)
	require.NoError(t, err)
	_, err = clients.FindClientByID(ctx, "web")
	assert.NoError(t, err)
	_, err = clients.FindClientByID(ctx, "spa")
	assert.NoError(t, err)

	resources, err := container.Resolve[core.ResourceStore](scope, core.KindResourceStore)
	require.NoError(t, err)
	all, err := resources.GetAllResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "orders.read"}, all.ScopeNames())
}
