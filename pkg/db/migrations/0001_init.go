package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type ClientDetail struct {
	ID               int64          `gorm:"type:bigserial;primaryKey"`
	DisplayClientID  *string        `gorm:"type:text;uniqueIndex"`
	ClientName       string         `gorm:"type:text;not null;index"`
	CompanyName      string         `gorm:"type:text"`
	Email            string         `gorm:"type:text"`
	ClientBucketPath *string        `gorm:"type:text"`
	ClientBucketName *string        `gorm:"type:text"`
	ClientUUID       string         `gorm:"type:text;uniqueIndex:idx_client_details_active_uuid,where:is_active"`
	ClientMapper     datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	CreatedAt        time.Time      `gorm:"type:timestamptz;not null;default:now()"`
	CreatedBy        string         `gorm:"type:text;not null;default:'system'"`
	LastUpdatedAt    *time.Time     `gorm:"type:timestamptz"`
	LastUpdatedBy    *string        `gorm:"type:text"`
	IsActive         bool           `gorm:"not null;default:true"`
}

type ClientLog struct {
	ID          int64        `gorm:"type:bigserial;primaryKey"`
	ClientID    int64        `gorm:"not null;index"`
	ClientUUID  *string      `gorm:"type:text"`
	Action      string       `gorm:"type:text;not null"`
	ErrorLogs   *string      `gorm:"type:text"`
	PerformedAt time.Time    `gorm:"type:timestamptz;not null;default:now()"`
	PerformedBy string       `gorm:"type:text;not null;default:'system'"`
	IsActive    bool         `gorm:"not null;default:true"`
	Client      ClientDetail `gorm:"foreignKey:ClientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type RoleDetail struct {
	ID         int64        `gorm:"type:bigserial;primaryKey"`
	RoleUUID   *string      `gorm:"type:text"`
	RoleName   string       `gorm:"type:text;not null;uniqueIndex:idx_role_details_name_client"`
	ClientID   int64        `gorm:"not null;uniqueIndex:idx_role_details_name_client"`
	ClientUUID string       `gorm:"type:text"`
	ClientName string       `gorm:"type:text"`
	IsActive   bool         `gorm:"not null;default:true"`
	CreatedAt  time.Time    `gorm:"type:timestamptz;not null;default:now()"`
	CreatedBy  string       `gorm:"type:text;not null;default:'system'"`
	UpdatedAt  *time.Time   `gorm:"type:timestamptz"`
	UpdatedBy  *string      `gorm:"type:text"`
	Client     ClientDetail `gorm:"foreignKey:ClientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type RoleLog struct {
	ID          int64        `gorm:"type:bigserial;primaryKey"`
	RoleID      int64        `gorm:"not null;index"`
	ClientID    int64        `gorm:"not null;index"`
	Action      string       `gorm:"type:text;not null"`
	ErrorLogs   *string      `gorm:"type:text"`
	PerformedAt time.Time    `gorm:"type:timestamptz;not null;default:now()"`
	PerformedBy string       `gorm:"type:text;not null;default:'system'"`
	IsActive    bool         `gorm:"not null;default:true"`
	UpdatedAt   *time.Time   `gorm:"type:timestamptz"`
	UpdatedBy   *string      `gorm:"type:text"`
	Role        RoleDetail   `gorm:"foreignKey:RoleID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Client      ClientDetail `gorm:"foreignKey:ClientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	// Foreign keys come from the belongs-to fields.
	return gormDB.WithContext(ctx).AutoMigrate(
		&ClientDetail{},
		&ClientLog{},
		&RoleDetail{},
		&RoleLog{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&RoleLog{},
		&RoleDetail{},
		&ClientLog{},
		&ClientDetail{},
	)
}
