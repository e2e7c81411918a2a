package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend/netcup"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend/powerdns"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/config"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/storetest"
)

func testRegistry() *backend.Registry {
	r := backend.NewRegistry()
	r.Register("netcup", netcup.Schema, netcup.New, true)
	r.Register("powerdns", powerdns.Schema, powerdns.New, true)
	return r
}

func testConfig() *config.Config {
	return &config.Config{
		AdminUsername:   "admin",
		AdminPassword:   "correct-horse-battery-staple",
		BcryptCost:      12,
		ProviderEnabled: map[string]bool{"netcup": true, "powerdns": true},
	}
}

func TestRun_SeedsAdminAndProviders(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	secrets := secret.New(12)
	logger := zap.NewNop().Sugar()

	err := Run(ctx, st, testRegistry(), secrets, testConfig(), nil, logger)
	require.NoError(t, err)

	n, err := st.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	admin, err := st.GetAccountByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.MustChangePassword)
	assert.True(t, admin.IsAdmin)
	assert.NotEmpty(t, admin.PasswordHash)

	providers, err := st.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)
}

func TestRun_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	secrets := secret.New(12)
	logger := zap.NewNop().Sugar()
	cfg := testConfig()

	require.NoError(t, Run(ctx, st, testRegistry(), secrets, cfg, nil, logger))
	require.NoError(t, Run(ctx, st, testRegistry(), secrets, cfg, nil, logger))

	n, err := st.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a second bootstrap run must not create a second admin")

	accounts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestRun_SeedsSampleWhenRequested(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	secrets := secret.New(12)
	logger := zap.NewNop().Sugar()

	sample := &Sample{
		RootDomain:        "example.test",
		NetcupCustomerNo:  "12345",
		NetcupAPIKey:      "key",
		NetcupAPIPassword: "pass",
	}
	require.NoError(t, Run(ctx, st, testRegistry(), secrets, testConfig(), sample, logger))

	admin, err := st.GetAccountByUsername(ctx, "admin")
	require.NoError(t, err)

	services, err := st.ListBackendServices(ctx, model.OwnerPlatform, nil)
	require.NoError(t, err)
	require.Len(t, services, 1)

	roots, err := st.ListDomainRootsVisible(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "example.test", roots[0].RootDomain)

	realms, err := st.ListRealmsForAccount(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, realms, 1)

	tokens, err := st.ListTokensForRealm(ctx, realms[0].ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, []string{"read"}, tokens[0].Operations)
}
