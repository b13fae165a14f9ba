package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrDuplicate is returned when a write violates a unique constraint.
var ErrDuplicate = errors.New("store: duplicate record")

// Gorm implements Store on top of a gorm session.
type Gorm struct {
	orm *gorm.DB
}

// NewGorm wraps orm as a Store.
func NewGorm(orm *gorm.DB) (*Gorm, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &Gorm{orm: orm}, nil
}

// Transaction runs fn inside a database transaction.
func (g *Gorm) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return g.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func (t *gormTx) FindClientByName(name string) (*Client, error) {
	var c Client
	err := t.db.Where("client_name = ?", name).Order("is_active DESC, id ASC").First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (t *gormTx) FindActiveClientByName(name string) (*Client, error) {
	var c Client
	if err := t.db.Where("client_name = ? AND is_active", name).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (t *gormTx) CreateClient(c *Client) error {
	if len(c.ClientMapper) == 0 {
		c.ClientMapper = []byte("{}")
	}
	if err := t.db.Omit("DisplayClientID").Create(c).Error; err != nil {
		return translate(err)
	}
	c.DisplayClientID = StringPtr(DisplayID(c.ID))
	return translate(t.db.Model(c).Update("display_client_id", *c.DisplayClientID).Error)
}

func (t *gormTx) UpdateClient(c *Client) error {
	return translate(t.db.Save(c).Error)
}

func (t *gormTx) AppendClientLog(l *ClientLog) error {
	if l.PerformedAt.IsZero() {
		l.PerformedAt = time.Now().UTC()
	}
	return translate(t.db.Create(l).Error)
}

func (t *gormTx) ClientLogs(clientID int64) ([]ClientLog, error) {
	var logs []ClientLog
	err := t.db.Where("client_id = ?", clientID).Order("id ASC").Find(&logs).Error
	return logs, translate(err)
}

func (t *gormTx) FindRole(clientID int64, name string) (*RoleDetail, error) {
	var r RoleDetail
	if err := t.db.Where("client_id = ? AND role_name = ?", clientID, name).First(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (t *gormTx) CreateRole(r *RoleDetail) error {
	return translate(t.db.Create(r).Error)
}

func (t *gormTx) UpdateRole(r *RoleDetail) error {
	return translate(t.db.Save(r).Error)
}

func (t *gormTx) ActiveRoles(clientID int64) ([]RoleDetail, error) {
	var roles []RoleDetail
	err := t.db.Where("client_id = ? AND is_active", clientID).Order("id ASC").Find(&roles).Error
	return roles, translate(err)
}

func (t *gormTx) AppendRoleLog(l *RoleLog) error {
	var n int64
	if err := t.db.Model(&RoleDetail{}).Where("id = ?", l.RoleID).Count(&n).Error; err != nil {
		return translate(err)
	}
	if n == 0 {
		return fmt.Errorf("role %d: %w", l.RoleID, ErrNotFound)
	}
	if err := t.db.Model(&Client{}).Where("id = ?", l.ClientID).Count(&n).Error; err != nil {
		return translate(err)
	}
	if n == 0 {
		return fmt.Errorf("client %d: %w", l.ClientID, ErrNotFound)
	}

	if l.PerformedAt.IsZero() {
		l.PerformedAt = time.Now().UTC()
	}
	return translate(t.db.Create(l).Error)
}

func (t *gormTx) DeactivateRoleLogs(roleIDs []int64, by string, at time.Time) (int64, error) {
	if len(roleIDs) == 0 {
		return 0, nil
	}
	res := t.db.Model(&RoleLog{}).
		Where("role_id IN ? AND is_active", roleIDs).
		Updates(map[string]any{"is_active": false, "updated_at": at, "updated_by": by})
	return res.RowsAffected, translate(res.Error)
}

func (t *gormTx) RoleLogs(roleID int64) ([]RoleLog, error) {
	var logs []RoleLog
	err := t.db.Where("role_id = ?", roleID).Order("id ASC").Find(&logs).Error
	return logs, translate(err)
}

// RecordAudit stores a consumed reconciliation event; replays of the same id
// are ignored.
func (g *Gorm) RecordAudit(ctx context.Context, a *Audit) error {
	err := g.orm.WithContext(ctx).Create(a).Error
	if errors.Is(translate(err), ErrDuplicate) {
		return nil
	}
	return translate(err)
}
