package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: record not found")

// Store opens transactional units of work. fn's error rolls the unit back;
// a nil return commits it.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside one unit of work.
type Tx interface {
	// FindClientByName returns the row for a logical client regardless of its
	// active flag.
	FindClientByName(name string) (*Client, error)
	FindActiveClientByName(name string) (*Client, error)
	// CreateClient inserts c and assigns its display id from the generated key.
	CreateClient(c *Client) error
	UpdateClient(c *Client) error
	AppendClientLog(l *ClientLog) error
	ClientLogs(clientID int64) ([]ClientLog, error)

	FindRole(clientID int64, name string) (*RoleDetail, error)
	CreateRole(r *RoleDetail) error
	UpdateRole(r *RoleDetail) error
	ActiveRoles(clientID int64) ([]RoleDetail, error)
	// AppendRoleLog fails when either parent row is missing.
	AppendRoleLog(l *RoleLog) error
	// DeactivateRoleLogs clears the active flag on every active log of the
	// given roles and returns how many rows changed.
	DeactivateRoleLogs(roleIDs []int64, by string, at time.Time) (int64, error)
	RoleLogs(roleID int64) ([]RoleLog, error)
}

func ptr[T any](v T) *T { return &v }

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return ptr(s)
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return ptr(t) }
