package store

import (
	"context"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"keysync/pkg/db"
)

// ClientHistory is the audit view of one logical client.
type ClientHistory struct {
	Client     ClientSummaryRow `json:"client"`
	ClientLogs []ClientLogRow   `json:"client_logs"`
	RoleLogs   []RoleLogRow     `json:"role_logs"`
}

type ClientSummaryRow struct {
	ID              int64     `db:"id" json:"id"`
	DisplayClientID *string   `db:"display_client_id" json:"display_client_id"`
	ClientName      string    `db:"client_name" json:"client_name"`
	ClientUUID      string    `db:"client_uuid" json:"client_uuid"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type ClientLogRow struct {
	ID          int64     `db:"id" json:"id"`
	Action      string    `db:"action" json:"action"`
	ClientUUID  *string   `db:"client_uuid" json:"client_uuid,omitempty"`
	PerformedAt time.Time `db:"performed_at" json:"performed_at"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	IsActive    bool      `db:"is_active" json:"is_active"`
}

type RoleLogRow struct {
	ID          int64     `db:"id" json:"id"`
	RoleName    string    `db:"role_name" json:"role_name"`
	Action      string    `db:"action" json:"action"`
	PerformedAt time.Time `db:"performed_at" json:"performed_at"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	IsActive    bool      `db:"is_active" json:"is_active"`
}

// HistoryReader loads client history for the API.
type HistoryReader interface {
	ClientHistory(ctx context.Context, clientName string) (*ClientHistory, error)
}

// History reads audit views straight from the pool.
type History struct {
	pool *pgxpool.Pool
}

// NewHistory returns a reader bound to pool.
func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

const (
	historyClientQuery = `
SELECT id, display_client_id, client_name, client_uuid, is_active, created_at
FROM client_details
WHERE client_name = $1
ORDER BY is_active DESC, id ASC
LIMIT 1`

	historyClientLogsQuery = `
SELECT id, action, client_uuid, performed_at, performed_by, is_active
FROM client_logs
WHERE client_id = $1
ORDER BY id ASC`

	historyRoleLogsQuery = `
SELECT l.id, r.role_name, l.action, l.performed_at, l.performed_by, l.is_active
FROM role_logs l
JOIN role_details r ON r.id = l.role_id
WHERE l.client_id = $1
ORDER BY l.id ASC`
)

// ClientHistory returns the client row with its client and role logs.
func (h *History) ClientHistory(ctx context.Context, clientName string) (*ClientHistory, error) {
	if h == nil || h.pool == nil {
		return nil, errors.New("history reader not configured")
	}

	var out ClientHistory
	if err := db.Get(ctx, h.pool, &out.Client, historyClientQuery, clientName); err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := db.Select(ctx, h.pool, &out.ClientLogs, historyClientLogsQuery, out.Client.ID); err != nil {
		return nil, err
	}
	if err := db.Select(ctx, h.pool, &out.RoleLogs, historyRoleLogsQuery, out.Client.ID); err != nil {
		return nil, err
	}
	return &out, nil
}
