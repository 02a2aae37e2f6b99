package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SchemaMode string

const (
	SchemaModeSingleTable SchemaMode = "single_table"
	SchemaModeMultiTable  SchemaMode = "multi_table"
	SchemaModeHybrid      SchemaMode = "hybrid"
)

type TableType string

const (
	TableTypePlcSpecific TableType = "plc_specific"
	TableTypeTagGroup    TableType = "tag_group"
	TableTypeGeneral     TableType = "general"
)

// SchemaScopeUser is the scope of schemas that apply to all gateways of a user.
const SchemaScopeUser = "user"

// GatewaySchema is an immutable version of the local table layout a gateway should use.
type GatewaySchema struct {
	Base
	UserID            string         `json:"user_id" gorm:"uniqueIndex:idx_gateway_schemas_version,priority:1"`
	GatewayID         *uuid.UUID     `json:"gateway_id,omitempty" gorm:"type:uuid"`
	Scope             string         `json:"scope" gorm:"uniqueIndex:idx_gateway_schemas_version,priority:2"` // Scope is "user" or the gateway id.
	Version           int            `json:"version" gorm:"uniqueIndex:idx_gateway_schemas_version,priority:3"`
	Mode              SchemaMode     `json:"mode" gorm:"size:16"`
	IsActive          bool           `json:"is_active"`
	Configuration     datatypes.JSON `json:"configuration" swaggertype:"object"`
	TagMapping        datatypes.JSON `json:"tag_mapping" swaggertype:"object"`
	RetentionPolicies datatypes.JSON `json:"retention_policies" swaggertype:"object"`
	Tables            []GatewayTable `json:"tables" gorm:"foreignKey:SchemaID"`
}

func (s *GatewaySchema) BeforeCreate(tx *gorm.DB) error {
	s.Configuration = jsonOrNull(s.Configuration)
	s.TagMapping = jsonOrNull(s.TagMapping)
	s.RetentionPolicies = jsonOrNull(s.RetentionPolicies)
	return s.Base.BeforeCreate(tx)
}

// SchemaScope returns the scope key of a schema for the optional gateway.
func SchemaScope(gatewayID *uuid.UUID) string {
	if gatewayID == nil || *gatewayID == uuid.Nil {
		return SchemaScopeUser
	}
	return gatewayID.String()
}

// GatewayTable is a table definition that belongs to a schema version.
type GatewayTable struct {
	Base
	SchemaID             uuid.UUID      `json:"schema_id" gorm:"type:uuid;uniqueIndex:idx_gateway_tables_name,priority:1"`
	TableName            string         `json:"table_name" gorm:"uniqueIndex:idx_gateway_tables_name,priority:2"`
	TableType            TableType      `json:"table_type" gorm:"size:16"`
	Columns              datatypes.JSON `json:"columns" swaggertype:"array,object"`
	Indices              datatypes.JSON `json:"indices" swaggertype:"array,object"`
	RetentionDays        int            `json:"retention_days"`
	PartitioningStrategy string         `json:"partitioning_strategy,omitempty"`
	IsActive             bool           `json:"is_active"`
}

func (t *GatewayTable) BeforeCreate(tx *gorm.DB) error {
	t.Columns = jsonOrNull(t.Columns)
	t.Indices = jsonOrNull(t.Indices)
	return t.Base.BeforeCreate(tx)
}

// ActivateSchema is the information needed to activate a new schema version.
type ActivateSchema struct {
	UserID            string            `json:"user_id"`
	GatewayID         *uuid.UUID        `json:"gateway_id,omitempty"` // GatewayID is optional, when unset the schema applies to all the user's gateways.
	Mode              SchemaMode        `json:"mode"`
	Configuration     datatypes.JSON    `json:"configuration,omitempty" swaggertype:"object"`
	TagMapping        datatypes.JSON    `json:"tag_mapping,omitempty" swaggertype:"object"`
	RetentionPolicies datatypes.JSON    `json:"retention_policies,omitempty" swaggertype:"object"`
	Tables            []AddGatewayTable `json:"tables"`
}

type AddGatewayTable struct {
	TableName            string         `json:"table_name"`
	TableType            TableType      `json:"table_type"`
	Columns              datatypes.JSON `json:"columns,omitempty" swaggertype:"array,object"`
	Indices              datatypes.JSON `json:"indices,omitempty" swaggertype:"array,object"`
	RetentionDays        int            `json:"retention_days,omitempty"`
	PartitioningStrategy string         `json:"partitioning_strategy,omitempty"`
}
