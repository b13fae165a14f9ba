package reconcile

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keysync/pkg/apperr"
	"keysync/pkg/bus"
	"keysync/services/identity"
	"keysync/services/store"
)

func clientActions(logs []store.ClientLog) []string {
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func TestCreateClientThenAlreadyActive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing", CompanyName: "Acme", Email: "ops@acme.test"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, StatusSuccess, res[0].Status)
	assert.Equal(t, "Client created/reactivated successfully", res[0].Message)

	res, err = h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing"}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res[0].Status)
	assert.Equal(t, apperr.ClientAlreadyActive, res[0].Details)

	clients := h.store.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "cli-1", *clients[0].DisplayClientID)
	assert.Equal(t, h.kc.uuidOf("billing"), clients[0].ClientUUID)
	assert.True(t, clients[0].IsActive)
	assert.Equal(t, []string{store.ActionClientCreate}, clientActions(h.store.ClientLogs()))
	assert.Equal(t, []string{bus.ClientCreatedSubject}, h.events.subjects())
}

func TestCreateClientPayloadDefaults(t *testing.T) {
	spec := ClientSpec{ClientID: "billing"}
	p := spec.payload("https://app.example.com/*")
	assert.Equal(t, "billing", p.Name)
	assert.True(t, p.Enabled)
	assert.True(t, p.AuthorizationServicesEnabled)
	assert.True(t, p.ServiceAccountsEnabled)
	assert.True(t, p.DirectAccessGrantsEnabled)
	assert.False(t, p.PublicClient)
	assert.Equal(t, []string{"https://app.example.com/*"}, p.RedirectURIs)

	off := false
	spec = ClientSpec{ClientID: "web", ClientName: "Web UI", PublicClient: true, ServiceAccountsEnabled: &off, RedirectURIs: []string{"https://web/*"}}
	p = spec.payload("https://ignored/*")
	assert.Equal(t, "Web UI", p.Name)
	assert.False(t, p.ServiceAccountsEnabled)
	assert.True(t, p.PublicClient)
	assert.Equal(t, []string{"https://web/*"}, p.RedirectURIs)
}

func TestClientReactivationRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing"}})
	require.NoError(t, err)
	first := h.store.Clients()[0]

	res, err := h.engine.DeleteClients(ctx, []string{"billing"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res[0].Status)
	assert.Equal(t, "Client 'billing' deleted successfully.", res[0].Message)
	assert.Empty(t, h.kc.uuidOf("billing"))
	assert.False(t, h.store.Clients()[0].IsActive)

	res, err = h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing"}})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res[0].Status)

	clients := h.store.Clients()
	require.Len(t, clients, 1)
	again := clients[0]
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, *first.DisplayClientID, *again.DisplayClientID)
	assert.NotEqual(t, first.ClientUUID, again.ClientUUID)
	assert.Equal(t, h.kc.uuidOf("billing"), again.ClientUUID)
	assert.True(t, again.IsActive)

	assert.Equal(t, []string{
		store.ActionClientCreate,
		store.ActionClientDelete,
		store.ActionClientReactivate,
	}, clientActions(h.store.ClientLogs()))
	assert.Equal(t, []string{
		bus.ClientCreatedSubject,
		bus.ClientDeletedSubject,
		bus.ClientReactivatedSubject,
	}, h.events.subjects())
}

func TestDeleteClientCascadesRoles(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing"}})
	require.NoError(t, err)
	_, err = h.engine.CreateRoles(ctx, []string{"billing"}, []RoleSpec{{Name: "admin"}, {Name: "viewer"}})
	require.NoError(t, err)

	res, err := h.engine.DeleteClients(ctx, []string{"billing"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res[0].Status)

	for _, r := range h.store.Roles() {
		assert.False(t, r.IsActive, r.RoleName)
	}
	var deactivated int
	for _, l := range h.store.RoleLogs() {
		assert.False(t, l.IsActive)
		if l.Action == store.ActionRoleClientDeactivated {
			deactivated++
		}
	}
	assert.Equal(t, 2, deactivated)

	logsBefore := len(h.store.RoleLogs())
	msg, err := h.engine.DeactivateRolesForDeletedClient(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "No active roles found for client 'billing'.", msg)
	assert.Len(t, h.store.RoleLogs(), logsBefore)
}

func TestDeleteClientRetriesRoleSweep(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing"}})
	require.NoError(t, err)
	_, err = h.engine.CreateRoles(ctx, []string{"billing"}, []RoleSpec{{Name: "admin"}})
	require.NoError(t, err)

	// First transaction deactivates the client, the second sweeps its roles.
	h.engine.store = &failingStore{Store: h.store, failOn: 2}

	res, err := h.engine.DeleteClients(ctx, []string{"billing"})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res[0].Status)
	assert.Equal(t, apperr.DBReactivateClientFailed, res[0].Details)
	require.Len(t, h.store.Clients(), 1)
	assert.False(t, h.store.Clients()[0].IsActive)
	assert.NotEmpty(t, h.kc.uuidOf("billing"))

	res, err = h.engine.DeleteClients(ctx, []string{"billing"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res[0].Status)
	assert.Empty(t, h.kc.uuidOf("billing"))

	require.Len(t, h.store.Roles(), 1)
	assert.False(t, h.store.Roles()[0].IsActive)
	var swept int
	for _, l := range h.store.RoleLogs() {
		assert.False(t, l.IsActive)
		if l.Action == store.ActionRoleClientDeactivated {
			swept++
		}
	}
	assert.Equal(t, 1, swept)
	assert.Equal(t, []string{
		store.ActionClientCreate,
		store.ActionClientDelete,
	}, clientActions(h.store.ClientLogs()))
}

func TestDeleteClientKeepsProtectedScopes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing"}})
	require.NoError(t, err)
	uuid := h.kc.uuidOf("billing")
	_, err = h.engine.DeleteClients(ctx, []string{"billing"})
	require.NoError(t, err)

	h.kc.mu.Lock()
	defer h.kc.mu.Unlock()
	assert.ElementsMatch(t, []string{"billing-dedicated", "billing-extra"}, h.kc.scopeDeletes)
	assert.ElementsMatch(t, []string{"billing-dedicated", "billing-extra"}, h.kc.scopeDetaches)
	for _, name := range ProtectedScopes {
		assert.NotContains(t, h.kc.scopeDeletes, name)
		assert.NotContains(t, h.kc.scopeDetaches, name)
	}

	var still []string
	for _, list := range h.kc.scopes[uuid] {
		for _, s := range list {
			still = append(still, s.Name)
		}
	}
	assert.ElementsMatch(t, ProtectedScopes, still)
}

func TestDeleteClientSharedScope(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.CreateOrReactivateClients(ctx, []ClientSpec{{ClientID: "billing"}})
	require.NoError(t, err)
	h.kc.shareScope(h.kc.uuidOf("billing"), "billing-shared")

	res, err := h.engine.DeleteClients(ctx, []string{"billing"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res[0].Status)

	h.kc.mu.Lock()
	defer h.kc.mu.Unlock()
	assert.ElementsMatch(t, []string{"billing-dedicated", "billing-shared", "billing-extra"}, h.kc.scopeDeletes)
	assert.Equal(t, []string{"billing-dedicated", "billing-shared", "billing-extra"}, h.kc.scopeDetaches)
}

func TestCreateClientsIsolatesFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.kc.with(func() { h.kc.failCreate["broken"] = http.StatusBadRequest })

	res, err := h.engine.CreateOrReactivateClients(context.Background(), []ClientSpec{
		{ClientID: "alpha"},
		{ClientID: "broken"},
		{ClientID: "gamma"},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.Equal(t, "alpha", res[0].ClientID)
	assert.Equal(t, StatusSuccess, res[0].Status)
	assert.Equal(t, "broken", res[1].ClientID)
	assert.Equal(t, StatusFailed, res[1].Status)
	assert.Equal(t, apperr.ClientCreationFailed, res[1].Details)
	assert.Equal(t, "gamma", res[2].ClientID)
	assert.Equal(t, StatusSuccess, res[2].Status)
	assert.Len(t, h.store.Clients(), 2)
}

func TestCreateClientsRequiresToken(t *testing.T) {
	h := newHarness(t, identity.StaticToken(""))

	_, err := h.engine.CreateOrReactivateClients(context.Background(), []ClientSpec{{ClientID: "alpha"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.AuthUnavailable))
	assert.Empty(t, h.store.Clients())
}

func TestCreateClientUUIDPolling(t *testing.T) {
	t.Run("appears after a few polls", func(t *testing.T) {
		h := newHarness(t, nil)
		h.kc.with(func() { h.kc.hiddenLookups = 3 })

		res, err := h.engine.CreateOrReactivateClients(context.Background(), []ClientSpec{{ClientID: "slow"}})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res[0].Status)
	})

	t.Run("never appears", func(t *testing.T) {
		h := newHarness(t, nil)
		h.kc.with(func() { h.kc.hiddenLookups = 100 })

		res, err := h.engine.CreateOrReactivateClients(context.Background(), []ClientSpec{{ClientID: "lost"}})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res[0].Status)
		assert.Equal(t, apperr.ClientUUIDFetchFailed, res[0].Details)
		assert.Empty(t, h.store.Clients())
		h.kc.with(func() { assert.Equal(t, 100-defaultUUIDPollAttempts, h.kc.hiddenLookups) })
	})
}

func TestCreateClientLocalFailureLeavesRemote(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.store = &failingStore{Store: h.store, failOn: 2}

	res, err := h.engine.CreateOrReactivateClients(context.Background(), []ClientSpec{{ClientID: "alpha"}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res[0].Status)
	assert.Equal(t, apperr.DBSaveClientFailed, res[0].Details)
	assert.NotEmpty(t, h.kc.uuidOf("alpha"))
	assert.Empty(t, h.store.Clients())
}

func TestDeleteUnknownClient(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.engine.DeleteClients(context.Background(), []string{"ghost"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, StatusFailed, res[0].Status)
	assert.Equal(t, apperr.ClientNotFoundKeycloak, res[0].Details)
}

func TestDeleteRemoteOnlyClient(t *testing.T) {
	h := newHarness(t, nil)
	h.kc.addClient("legacy")

	res, err := h.engine.DeleteClients(context.Background(), []string{"legacy"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res[0].Status)
	assert.Empty(t, h.kc.uuidOf("legacy"))
	assert.Empty(t, h.store.ClientLogs())
}

func TestListClientsFilter(t *testing.T) {
	h := newHarness(t, nil)
	h.kc.addClient("billing-api")
	h.kc.addClient("reports")

	all, err := h.engine.ListClients(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := h.engine.ListClients(context.Background(), "BILLING")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "billing-api", got[0].ClientID)

	_, err = h.engine.ListClients(context.Background(), "nothing-like-this")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.ClientSearchNoResults, apperr.BodyOf(err).Details)
}

// failingStore fails the failOn-th transaction and delegates the rest.
type failingStore struct {
	store.Store
	calls  int
	failOn int
}

func (f *failingStore) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("connection refused")
	}
	return f.Store.Transaction(ctx, fn)
}
