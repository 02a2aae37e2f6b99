package migration_20261001_0000

import (
	"time"

	"github.com/google/uuid"
	. "github.com/hercules-io/hercules/internal/database/migrations"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type ActivationCode struct {
	Base
	Code        string `gorm:"uniqueIndex;size:64"`
	OwnerUserID string `gorm:"index"`
	Status      string `gorm:"index;size:16"`
	ExpiresAt   time.Time
	MachineID   *string
	RedeemedAt  *time.Time
	GatewayID   *uuid.UUID `gorm:"type:uuid"`
	Notes       string
}

type Gateway struct {
	Base
	OwnerUserID      string    `gorm:"index"`
	MachineID        string    `gorm:"index"`
	ActivationCodeID uuid.UUID `gorm:"type:uuid"`
	Hostname         string
	Os               string
	OsVersion        string
	Cpu              string
	Memory           string
	LastKnownIP      string
	LastSeenAt       *time.Time
	Status           string `gorm:"index;size:16"`
	TokenExpiresAt   *time.Time
}

type GatewayToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;"`
	GatewayID uuid.UUID `gorm:"type:uuid;index"`
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

type GatewaySchema struct {
	Base
	UserID            string     `gorm:"uniqueIndex:idx_gateway_schemas_version,priority:1"`
	GatewayID         *uuid.UUID `gorm:"type:uuid"`
	Scope             string     `gorm:"uniqueIndex:idx_gateway_schemas_version,priority:2"`
	Version           int        `gorm:"uniqueIndex:idx_gateway_schemas_version,priority:3"`
	Mode              string     `gorm:"size:16"`
	IsActive          bool
	Configuration     datatypes.JSON
	TagMapping        datatypes.JSON
	RetentionPolicies datatypes.JSON
}

type GatewayTable struct {
	Base
	SchemaID             uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_gateway_tables_name,priority:1"`
	TableName            string    `gorm:"uniqueIndex:idx_gateway_tables_name,priority:2"`
	TableType            string    `gorm:"size:16"`
	Columns              datatypes.JSON
	Indices              datatypes.JSON
	RetentionDays        int
	PartitioningStrategy string
	IsActive             bool
}

type GatewayTableStatus struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;"`
	CreatedAt     time.Time `gorm:"index"`
	GatewayID     uuid.UUID `gorm:"type:uuid;index:idx_table_status_latest,priority:1"`
	TableName     string    `gorm:"index:idx_table_status_latest,priority:2"`
	RowCount      int64
	SizeBytes     int64
	OldestRecord  *time.Time
	NewestRecord  *time.Time
	Fragmentation float64
	ErrorCount    int
	ReportedAt    time.Time `gorm:"index:idx_table_status_latest,priority:3"`
}

type GatewayCommand struct {
	Base
	GatewayID      uuid.UUID `gorm:"type:uuid;index:idx_gateway_commands_due,priority:1"`
	CommandType    string    `gorm:"size:32"`
	CommandData    datatypes.JSON
	Status         string `gorm:"size:16;index:idx_gateway_commands_due,priority:2"`
	Priority       int
	RetryCount     int
	MaxRetries     int
	ExpiresAt      time.Time
	SentAt         *time.Time
	AcknowledgedAt *time.Time
	CompletedAt    *time.Time
	Result         datatypes.JSON
	ErrorMessage   string
}

type GatewayAuditLog struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key;"`
	CreatedAt    time.Time  `gorm:"index"`
	GatewayID    *uuid.UUID `gorm:"type:uuid;index"`
	Action       string     `gorm:"index;size:32"`
	Success      bool
	IPAddress    string
	ErrorMessage string
	Details      datatypes.JSON
}

type GatewayDebugLog struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key;"`
	CreatedAt    time.Time  `gorm:"index"`
	GatewayID    *uuid.UUID `gorm:"type:uuid;index"`
	Endpoint     string
	Request      datatypes.JSON
	Response     datatypes.JSON
	ErrorMessage string
}

type RateLimit struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;"`
	Identifier   string    `gorm:"uniqueIndex:idx_rate_limits_key,priority:1"`
	Endpoint     string    `gorm:"uniqueIndex:idx_rate_limits_key,priority:2;size:32"`
	AttemptCount int
	WindowStart  time.Time
	BlockedUntil *time.Time
	UpdatedAt    time.Time
}

func init() {
	migrationId := "20261001-0000"
	CreateMigrationFromActions(migrationId,
		CreateTableAction(&ActivationCode{}),
		CreateTableAction(&Gateway{}),
		CreateTableAction(&GatewayToken{}),
		CreateTableAction(&GatewaySchema{}),
		CreateTableAction(&GatewayTable{}),
		CreateTableAction(&GatewayTableStatus{}),
		CreateTableAction(&GatewayCommand{}),
		CreateTableAction(&GatewayAuditLog{}),
		CreateTableAction(&GatewayDebugLog{}),
		CreateTableAction(&RateLimit{}),
	)
}
