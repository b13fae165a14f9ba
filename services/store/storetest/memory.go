// Package storetest provides an in-memory store.Store for engine tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"keysync/services/store"
)

type state struct {
	clients    map[int64]store.Client
	clientLogs []store.ClientLog
	roles      map[int64]store.RoleDetail
	roleLogs   []store.RoleLog
	nextID     int64
}

func (s state) clone() state {
	out := state{
		clients:    make(map[int64]store.Client, len(s.clients)),
		clientLogs: append([]store.ClientLog(nil), s.clientLogs...),
		roles:      make(map[int64]store.RoleDetail, len(s.roles)),
		roleLogs:   append([]store.RoleLog(nil), s.roleLogs...),
		nextID:     s.nextID,
	}
	for k, v := range s.clients {
		out.clients[k] = v
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	return out
}

// Memory is a transactional in-memory store. A failed unit of work leaves no
// trace.
type Memory struct {
	mu    sync.Mutex
	state state

	// FailNext makes the next Transaction return this error without running fn.
	FailNext error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{state: state{
		clients: map[int64]store.Client{},
		roles:   map[int64]store.RoleDetail{},
	}}
}

func (m *Memory) Transaction(_ context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}

	work := m.state.clone()
	if err := fn(&memTx{s: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Clients returns every client row ordered by id.
func (m *Memory) Clients() []store.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Client, 0, len(m.state.clients))
	for _, c := range m.state.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClientLogs returns every client log in insertion order.
func (m *Memory) ClientLogs() []store.ClientLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.ClientLog(nil), m.state.clientLogs...)
}

// Roles returns every role row ordered by id.
func (m *Memory) Roles() []store.RoleDetail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.RoleDetail, 0, len(m.state.roles))
	for _, r := range m.state.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoleLogs returns every role log in insertion order.
func (m *Memory) RoleLogs() []store.RoleLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.RoleLog(nil), m.state.roleLogs...)
}

type memTx struct {
	s *state
}

func (t *memTx) id() int64 {
	t.s.nextID++
	return t.s.nextID
}

func (t *memTx) FindClientByName(name string) (*store.Client, error) {
	var found *store.Client
	for _, c := range t.s.clients {
		if c.ClientName != name {
			continue
		}
		c := c
		if found == nil || (c.IsActive && !found.IsActive) || (c.IsActive == found.IsActive && c.ID < found.ID) {
			found = &c
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (t *memTx) FindActiveClientByName(name string) (*store.Client, error) {
	c, err := t.FindClientByName(name)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (t *memTx) CreateClient(c *store.Client) error {
	for _, existing := range t.s.clients {
		if existing.IsActive && c.IsActive && existing.ClientUUID == c.ClientUUID {
			return fmt.Errorf("%w: client_uuid", store.ErrDuplicate)
		}
	}
	c.ID = t.id()
	c.DisplayClientID = store.StringPtr(store.DisplayID(c.ID))
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.s.clients[c.ID] = *c
	return nil
}

func (t *memTx) UpdateClient(c *store.Client) error {
	if _, ok := t.s.clients[c.ID]; !ok {
		return store.ErrNotFound
	}
	t.s.clients[c.ID] = *c
	return nil
}

func (t *memTx) AppendClientLog(l *store.ClientLog) error {
	if _, ok := t.s.clients[l.ClientID]; !ok {
		return fmt.Errorf("client %d: %w", l.ClientID, store.ErrNotFound)
	}
	l.ID = t.id()
	if l.PerformedAt.IsZero() {
		l.PerformedAt = time.Now().UTC()
	}
	t.s.clientLogs = append(t.s.clientLogs, *l)
	return nil
}

func (t *memTx) ClientLogs(clientID int64) ([]store.ClientLog, error) {
	var out []store.ClientLog
	for _, l := range t.s.clientLogs {
		if l.ClientID == clientID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memTx) FindRole(clientID int64, name string) (*store.RoleDetail, error) {
	for _, r := range t.s.roles {
		if r.ClientID == clientID && r.RoleName == name {
			r := r
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) CreateRole(r *store.RoleDetail) error {
	if _, err := t.FindRole(r.ClientID, r.RoleName); err == nil {
		return fmt.Errorf("%w: role_details name/client", store.ErrDuplicate)
	}
	if _, ok := t.s.clients[r.ClientID]; !ok {
		return fmt.Errorf("client %d: %w", r.ClientID, store.ErrNotFound)
	}
	r.ID = t.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	t.s.roles[r.ID] = *r
	return nil
}

func (t *memTx) UpdateRole(r *store.RoleDetail) error {
	if _, ok := t.s.roles[r.ID]; !ok {
		return store.ErrNotFound
	}
	t.s.roles[r.ID] = *r
	return nil
}

func (t *memTx) ActiveRoles(clientID int64) ([]store.RoleDetail, error) {
	var out []store.RoleDetail
	for _, r := range t.s.roles {
		if r.ClientID == clientID && r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) AppendRoleLog(l *store.RoleLog) error {
	if _, ok := t.s.roles[l.RoleID]; !ok {
		return fmt.Errorf("role %d: %w", l.RoleID, store.ErrNotFound)
	}
	if _, ok := t.s.clients[l.ClientID]; !ok {
		return fmt.Errorf("client %d: %w", l.ClientID, store.ErrNotFound)
	}
	l.ID = t.id()
	if l.PerformedAt.IsZero() {
		l.PerformedAt = time.Now().UTC()
	}
	t.s.roleLogs = append(t.s.roleLogs, *l)
	return nil
}

func (t *memTx) DeactivateRoleLogs(roleIDs []int64, by string, at time.Time) (int64, error) {
	ids := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		ids[id] = struct{}{}
	}
	var n int64
	for i, l := range t.s.roleLogs {
		if _, ok := ids[l.RoleID]; !ok || !l.IsActive {
			continue
		}
		l.IsActive = false
		l.UpdatedAt = store.TimePtr(at)
		l.UpdatedBy = store.StringPtr(by)
		t.s.roleLogs[i] = l
		n++
	}
	return n, nil
}

func (t *memTx) RoleLogs(roleID int64) ([]store.RoleLog, error) {
	var out []store.RoleLog
	for _, l := range t.s.roleLogs {
		if l.RoleID == roleID {
			out = append(out, l)
		}
	}
	return out, nil
}

var _ store.Store = (*Memory)(nil)
