package store

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Client actions recorded in client_logs.
const (
	ActionClientCreate     = "CREATE"
	ActionClientReactivate = "REACTIVATE"
	ActionClientDelete     = "DELETE"
)

// Role actions recorded in role_logs.
const (
	ActionRoleCreated           = "CREATED"
	ActionRoleReactivated       = "REACTIVATED"
	ActionRoleDeleted           = "DELETED"
	ActionRoleClientDeactivated = "CLIENT_DEACTIVATED"
)

// SystemActor is recorded when no caller identity is available.
const SystemActor = "system"

// Client mirrors one identity-server client.
type Client struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DisplayClientID  *string        `gorm:"uniqueIndex" json:"display_client_id"`
	ClientName       string         `gorm:"not null" json:"client_name"`
	CompanyName      string         `json:"company_name"`
	Email            string         `json:"email"`
	ClientBucketPath *string        `json:"client_bucket_path,omitempty"`
	ClientBucketName *string        `json:"client_bucket_name,omitempty"`
	ClientUUID       string         `json:"client_uuid"`
	ClientMapper     datatypes.JSON `gorm:"type:jsonb" json:"client_mapper"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	CreatedBy        string         `json:"created_by"`
	LastUpdatedAt    *time.Time     `json:"last_updated_at,omitempty"`
	LastUpdatedBy    *string        `json:"last_updated_by,omitempty"`
	IsActive         bool           `json:"is_active"`
}

func (Client) TableName() string { return "client_details" }

// DisplayID formats the external id assigned to a client row.
func DisplayID(id int64) string { return fmt.Sprintf("cli-%d", id) }

// ClientLog is an append-only record of an action applied to a Client.
type ClientLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientID    int64     `gorm:"not null" json:"client_id"`
	ClientUUID  *string   `json:"client_uuid,omitempty"`
	Action      string    `gorm:"not null" json:"action"`
	ErrorLogs   *string   `json:"error_logs,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
	PerformedBy string    `json:"performed_by"`
	IsActive    bool      `json:"is_active"`
}

func (ClientLog) TableName() string { return "client_logs" }

// RoleDetail is one role scoped to a Client.
type RoleDetail struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RoleUUID   *string    `json:"role_uuid,omitempty"`
	RoleName   string     `gorm:"not null" json:"role_name"`
	ClientID   int64      `gorm:"not null" json:"client_id"`
	ClientUUID string     `json:"client_uuid"`
	ClientName string     `json:"client_name"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	CreatedBy  string     `json:"created_by"`
	UpdatedAt  *time.Time `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
	UpdatedBy  *string    `json:"updated_by,omitempty"`
}

func (RoleDetail) TableName() string { return "role_details" }

// RoleLog is an append-only record of an action applied to a RoleDetail.
type RoleLog struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RoleID      int64      `gorm:"not null" json:"role_id"`
	ClientID    int64      `gorm:"not null" json:"client_id"`
	Action      string     `gorm:"not null" json:"action"`
	ErrorLogs   *string    `json:"error_logs,omitempty"`
	PerformedAt time.Time  `json:"performed_at"`
	PerformedBy string     `json:"performed_by"`
	IsActive    bool       `json:"is_active"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
	UpdatedBy   *string    `json:"updated_by,omitempty"`
}

func (RoleLog) TableName() string { return "role_logs" }

// Audit is a reconciliation event persisted by the auditor.
type Audit struct {
	ID      string            `gorm:"type:uuid;primaryKey" json:"id"`
	Actor   string            `json:"actor"`
	Action  string            `json:"action"`
	Obj     string            `json:"obj"`
	Details datatypes.JSONMap `gorm:"type:jsonb" json:"details"`
	At      time.Time         `json:"at"`
}

func (Audit) TableName() string { return "audit" }
