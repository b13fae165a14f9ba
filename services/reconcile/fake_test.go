package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"keysync/pkg/bus"
	"keysync/services/identity"
	"keysync/services/store/storetest"
)

// fakeKeycloak is an in-memory admin API good enough for the engines.
type fakeKeycloak struct {
	mu  sync.Mutex
	seq int

	clients     []identity.ClientRepresentation
	authzOff    map[string]bool
	roles       map[string]map[string]identity.RoleRepresentation
	authz       map[string]map[identity.AuthzKind][]identity.AuthzItem
	scopes      map[string]map[identity.ScopeKind][]identity.ClientScope
	realmScopes map[string]identity.ClientScope

	failCreate     map[string]int
	failRoleDelete map[string]int
	hiddenLookups  int

	// postDelay holds each authz POST open so overlapping workers show up
	// in peakPosts.
	postDelay   time.Duration
	activePosts atomic.Int32
	peakPosts   atomic.Int32

	authzPosts    int
	roleDeletes   []string
	scopeDeletes  []string
	scopeDetaches []string
}

func newFakeKeycloak() *fakeKeycloak {
	return &fakeKeycloak{
		authzOff:       map[string]bool{},
		roles:          map[string]map[string]identity.RoleRepresentation{},
		authz:          map[string]map[identity.AuthzKind][]identity.AuthzItem{},
		scopes:         map[string]map[identity.ScopeKind][]identity.ClientScope{},
		realmScopes:    map[string]identity.ClientScope{},
		failCreate:     map[string]int{},
		failRoleDelete: map[string]int{},
	}
}

// with runs fn while holding the fake's lock.
func (f *fakeKeycloak) with(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeKeycloak) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeKeycloak) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/clients", f.listClients)
	r.Post("/clients", f.createClient)
	r.Get("/clients/{uuid}", f.getClient)
	r.Put("/clients/{uuid}", f.putClient)
	r.Delete("/clients/{uuid}", f.deleteClient)
	r.Get("/clients/{uuid}/roles", f.listRoles)
	r.Post("/clients/{uuid}/roles", f.createRole)
	r.Get("/clients/{uuid}/roles/{name}", f.getRole)
	r.Delete("/clients/{uuid}/roles/{name}", f.deleteRole)
	r.Get("/clients/{uuid}/authz/resource-server/{kind}", f.listAuthz)
	r.Post("/clients/{uuid}/authz/resource-server/{kind}", f.createAuthz)
	r.Post("/clients/{uuid}/authz/resource-server/policy/role", f.createRolePolicy)
	r.Delete("/clients/{uuid}/authz/resource-server/policy/{id}", f.deletePolicy)
	r.Get("/clients/{uuid}/{list}", f.listScopes)
	r.Delete("/clients/{uuid}/{list}/{id}", f.detachScope)
	r.Delete("/client-scopes/{id}", f.deleteRealmScope)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (f *fakeKeycloak) find(uuid string) (int, bool) {
	for i, c := range f.clients {
		if c.ID == uuid {
			return i, true
		}
	}
	return -1, false
}

// addClient registers a client directly, as if created out of band.
func (f *fakeKeycloak) addClient(clientID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addClientLocked(clientID)
}

func (f *fakeKeycloak) addClientLocked(clientID string) string {
	uuid := f.nextID("uuid")
	f.clients = append(f.clients, identity.ClientRepresentation{ID: uuid, ClientID: clientID, Name: clientID, Enabled: true})
	f.roles[uuid] = map[string]identity.RoleRepresentation{}
	f.authz[uuid] = map[identity.AuthzKind][]identity.AuthzItem{}

	attach := func(kind identity.ScopeKind, names ...string) {
		for _, n := range names {
			id := f.nextID("scope")
			s := identity.ClientScope{ID: id, Name: n}
			f.realmScopes[id] = s
			f.scopes[uuid] = ensureScopes(f.scopes[uuid])
			f.scopes[uuid][kind] = append(f.scopes[uuid][kind], s)
		}
	}
	attach(identity.DefaultClientScopes, "profile", "email", "roles", "web-origins", clientID+"-dedicated")
	attach(identity.OptionalClientScopes, "acr", clientID+"-extra")
	return uuid
}

// shareScope attaches one realm scope to both of a client's lists, first in
// the optional list.
func (f *fakeKeycloak) shareScope(uuid, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := identity.ClientScope{ID: f.nextID("scope"), Name: name}
	f.realmScopes[s.ID] = s
	f.scopes[uuid] = ensureScopes(f.scopes[uuid])
	f.scopes[uuid][identity.DefaultClientScopes] = append(f.scopes[uuid][identity.DefaultClientScopes], s)
	f.scopes[uuid][identity.OptionalClientScopes] = append([]identity.ClientScope{s}, f.scopes[uuid][identity.OptionalClientScopes]...)
}

func ensureScopes(m map[identity.ScopeKind][]identity.ClientScope) map[identity.ScopeKind][]identity.ClientScope {
	if m == nil {
		return map[identity.ScopeKind][]identity.ClientScope{}
	}
	return m
}

func (f *fakeKeycloak) uuidOf(clientID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		if c.ClientID == clientID {
			return c.ID
		}
	}
	return ""
}

func (f *fakeKeycloak) listClients(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []identity.ClientRepresentation{}
	if id := r.URL.Query().Get("clientId"); id != "" {
		if f.hiddenLookups > 0 {
			f.hiddenLookups--
			writeJSON(w, http.StatusOK, out)
			return
		}
		for _, c := range f.clients {
			if c.ClientID == id {
				out = append(out, c)
			}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusOK, append(out, f.clients...))
}

func (f *fakeKeycloak) createClient(w http.ResponseWriter, r *http.Request) {
	var in identity.NewClientRepresentation
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.failCreate[in.ClientID]; ok {
		writeJSON(w, status, map[string]string{"errorMessage": "rejected"})
		return
	}
	for _, c := range f.clients {
		if c.ClientID == in.ClientID {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Client already exists"})
			return
		}
	}
	f.addClientLocked(in.ClientID)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) getClient(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uuid := chi.URLParam(r, "uuid")
	i, ok := f.find(uuid)
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	c := f.clients[i]
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                           c.ID,
		"clientId":                     c.ClientID,
		"authorizationServicesEnabled": !f.authzOff[uuid],
	})
}

func (f *fakeKeycloak) putClient(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	_ = json.NewDecoder(r.Body).Decode(&in)
	f.mu.Lock()
	defer f.mu.Unlock()
	if on, _ := in["authorizationServicesEnabled"].(bool); on {
		delete(f.authzOff, chi.URLParam(r, "uuid"))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) deleteClient(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.find(chi.URLParam(r, "uuid"))
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	f.clients = append(f.clients[:i], f.clients[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) listRoles(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []identity.RoleRepresentation{}
	for _, role := range f.roles[chi.URLParam(r, "uuid")] {
		out = append(out, role)
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeKeycloak) createRole(w http.ResponseWriter, r *http.Request) {
	var in identity.RoleRepresentation
	_ = json.NewDecoder(r.Body).Decode(&in)
	f.mu.Lock()
	defer f.mu.Unlock()
	uuid := chi.URLParam(r, "uuid")
	if _, ok := f.roles[uuid][in.Name]; ok {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Role already exists"})
		return
	}
	in.ID = f.nextID("role")
	f.roles[uuid][in.Name] = in
	w.WriteHeader(http.StatusCreated)
}

// seedRole creates a role remotely without going through the engine.
func (f *fakeKeycloak) seedRole(uuid, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("role")
	f.roles[uuid][name] = identity.RoleRepresentation{ID: id, Name: name}
	return id
}

func (f *fakeKeycloak) hasRole(uuid, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.roles[uuid][name]
	return ok
}

func (f *fakeKeycloak) getRole(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[chi.URLParam(r, "uuid")][chi.URLParam(r, "name")]
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (f *fakeKeycloak) deleteRole(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := chi.URLParam(r, "name")
	f.roleDeletes = append(f.roleDeletes, name)
	if status, ok := f.failRoleDelete[name]; ok {
		writeJSON(w, status, nil)
		return
	}
	uuid := chi.URLParam(r, "uuid")
	if _, ok := f.roles[uuid][name]; !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	delete(f.roles[uuid], name)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) listAuthz(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.authz[chi.URLParam(r, "uuid")][identity.AuthzKind(chi.URLParam(r, "kind"))]
	out := []identity.AuthzItem{}
	name := r.URL.Query().Get("name")
	for _, it := range items {
		if name == "" || it.Name() == name {
			out = append(out, it)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeKeycloak) createAuthz(w http.ResponseWriter, r *http.Request) {
	var in identity.AuthzItem
	_ = json.NewDecoder(r.Body).Decode(&in)

	n := f.activePosts.Add(1)
	defer f.activePosts.Add(-1)
	for {
		peak := f.peakPosts.Load()
		if n <= peak || f.peakPosts.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	delay := f.postDelay
	f.mu.Unlock()
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.authzPosts++
	f.storeAuthz(chi.URLParam(r, "uuid"), identity.AuthzKind(chi.URLParam(r, "kind")), in)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) storeAuthz(uuid string, kind identity.AuthzKind, item identity.AuthzItem) {
	if f.authz[uuid] == nil {
		f.authz[uuid] = map[identity.AuthzKind][]identity.AuthzItem{}
	}
	if item.ID() == "" {
		item["id"] = f.nextID(string(kind))
	}
	f.authz[uuid][kind] = append(f.authz[uuid][kind], item)
}

// seedAuthz stores items on a client without counting them as posts.
func (f *fakeKeycloak) seedAuthz(uuid string, kind identity.AuthzKind, items ...identity.AuthzItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.storeAuthz(uuid, kind, it)
	}
}

func (f *fakeKeycloak) authzItems(uuid string, kind identity.AuthzKind) []identity.AuthzItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.AuthzItem(nil), f.authz[uuid][kind]...)
}

func (f *fakeKeycloak) createRolePolicy(w http.ResponseWriter, r *http.Request) {
	var in identity.RolePolicy
	_ = json.NewDecoder(r.Body).Decode(&in)
	f.mu.Lock()
	defer f.mu.Unlock()
	uuid := chi.URLParam(r, "uuid")
	if f.authzOff[uuid] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "authorization disabled"})
		return
	}
	roles := make([]any, 0, len(in.Roles))
	for _, role := range in.Roles {
		roles = append(roles, map[string]any{"id": role.ID})
	}
	f.storeAuthz(uuid, identity.AuthzPolicy, identity.AuthzItem{
		"name":             in.Name,
		"type":             in.Type,
		"logic":            in.Logic,
		"decisionStrategy": in.DecisionStrategy,
		"roles":            roles,
	})
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) deletePolicy(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uuid, id := chi.URLParam(r, "uuid"), chi.URLParam(r, "id")
	items := f.authz[uuid][identity.AuthzPolicy]
	for i, it := range items {
		if it.ID() == id {
			f.authz[uuid][identity.AuthzPolicy] = append(items[:i], items[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, nil)
}

func (f *fakeKeycloak) listScopes(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]identity.ClientScope{}, f.scopes[chi.URLParam(r, "uuid")][identity.ScopeKind(chi.URLParam(r, "list"))]...)
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeKeycloak) detachScope(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uuid, kind, id := chi.URLParam(r, "uuid"), identity.ScopeKind(chi.URLParam(r, "list")), chi.URLParam(r, "id")
	list := f.scopes[uuid][kind]
	for i, s := range list {
		if s.ID == id {
			f.scopes[uuid][kind] = append(list[:i], list[i+1:]...)
			f.scopeDetaches = append(f.scopeDetaches, s.Name)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, nil)
}

func (f *fakeKeycloak) deleteRealmScope(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	s, ok := f.realmScopes[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	delete(f.realmScopes, id)
	f.scopeDeletes = append(f.scopeDeletes, s.Name)
	for uuid, lists := range f.scopes {
		for kind, list := range lists {
			f.scopes[uuid][kind] = slices.DeleteFunc(list, func(c identity.ClientScope) bool { return c.ID == id })
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordedEvent struct {
	Subject string
	Object  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := recordedEvent{Subject: subj}
	if evt, ok := v.(bus.Event); ok {
		rec.Object = evt.Object
	}
	p.events = append(p.events, rec)
	return nil
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Subject)
	}
	return out
}

type harness struct {
	engine *Engine
	kc     *fakeKeycloak
	store  *storetest.Memory
	events *recordingPublisher
}

func newHarness(t *testing.T, tokens identity.TokenSource) *harness {
	t.Helper()
	if tokens == nil {
		tokens = identity.StaticToken("test-token")
	}

	kc := newFakeKeycloak()
	srv := httptest.NewServer(kc.router())
	t.Cleanup(srv.Close)

	admin, err := identity.New(identity.Config{
		AdminURL:    srv.URL,
		Tokens:      tokens,
		HTTPClient:  srv.Client(),
		Logger:      zerolog.Nop(),
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	})
	require.NoError(t, err)

	mem := storetest.NewMemory()
	events := &recordingPublisher{}
	engine, err := New(Config{
		Admin:              admin,
		Tokens:             tokens,
		Store:              mem,
		Events:             events,
		Logger:             zerolog.Nop(),
		DefaultRedirectURI: "https://app.example.com/*",
		UUIDPollInterval:   time.Millisecond,
		ImportPacing:       -1,
	})
	require.NoError(t, err)

	return &harness{engine: engine, kc: kc, store: mem, events: events}
}
