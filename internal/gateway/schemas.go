package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
	"github.com/hercules-io/hercules/internal/util"
	"gorm.io/datatypes"
)

const (
	activateSchemaRetries = 5
	activateSchemaWait    = 20 * time.Millisecond
)

// DefaultSchema is the layout used by gateways that have no schema activated.
func DefaultSchema(userID string, gatewayID *uuid.UUID) *models.GatewaySchema {
	columns, _ := json.Marshal([]map[string]interface{}{
		{"name": "timestamp", "type": "timestamp", "nullable": false},
		{"name": "plc_id", "type": "string", "nullable": false},
		{"name": "tag_name", "type": "string", "nullable": false},
		{"name": "value", "type": "double", "nullable": true},
		{"name": "quality", "type": "integer", "nullable": true},
	})
	indices, _ := json.Marshal([]map[string]interface{}{
		{"name": "idx_plc_data_time", "columns": []string{"timestamp"}},
		{"name": "idx_plc_data_tag", "columns": []string{"plc_id", "tag_name", "timestamp"}},
	})
	retention, _ := json.Marshal(map[string]interface{}{"default_days": 30})
	return &models.GatewaySchema{
		UserID:            userID,
		GatewayID:         gatewayID,
		Scope:             models.SchemaScope(gatewayID),
		Version:           0,
		Mode:              models.SchemaModeSingleTable,
		IsActive:          true,
		Configuration:     datatypes.JSON("{}"),
		TagMapping:        datatypes.JSON("{}"),
		RetentionPolicies: retention,
		Tables: []models.GatewayTable{{
			TableName:     "plc_data",
			TableType:     models.TableTypeGeneral,
			Columns:       columns,
			Indices:       indices,
			RetentionDays: 30,
			IsActive:      true,
		}},
	}
}

// GetActiveSchema returns the gateway's own active schema, or else the user wide one.
func (s *Service) GetActiveSchema(ctx context.Context, userID string, gatewayID *uuid.UUID) (*models.GatewaySchema, error) {
	ctx, span := tracer.Start(ctx, "GetActiveSchema")
	defer span.End()

	if scope := models.SchemaScope(gatewayID); scope != models.SchemaScopeUser {
		schema, err := s.store.GetActiveSchema(ctx, userID, scope)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return schema, err
		}
	}
	return s.store.GetActiveSchema(ctx, userID, models.SchemaScopeUser)
}

// EffectiveSchema is GetActiveSchema falling back to DefaultSchema.
func (s *Service) EffectiveSchema(ctx context.Context, userID string, gatewayID *uuid.UUID) (*models.GatewaySchema, error) {
	schema, err := s.GetActiveSchema(ctx, userID, gatewayID)
	if errors.Is(err, ErrNotFound) {
		return DefaultSchema(userID, gatewayID), nil
	}
	return schema, err
}

func (s *Service) ListSchemaVersions(ctx context.Context, userID string, gatewayID *uuid.UUID) ([]models.GatewaySchema, error) {
	return s.store.ListSchemas(ctx, userID, models.SchemaScope(gatewayID))
}

func validateSchema(request models.ActivateSchema) error {
	if request.UserID == "" {
		return invalid("user_id", "field not present")
	}
	switch request.Mode {
	case models.SchemaModeSingleTable, models.SchemaModeMultiTable, models.SchemaModeHybrid:
	default:
		return invalid("mode", fmt.Sprintf("unknown mode %q", request.Mode))
	}
	if len(request.Tables) == 0 {
		return invalid("tables", "at least one table is required")
	}
	if request.Mode == models.SchemaModeSingleTable && len(request.Tables) != 1 {
		return invalid("tables", "single_table mode takes exactly one table")
	}
	names := map[string]bool{}
	for i, t := range request.Tables {
		field := fmt.Sprintf("tables[%d]", i)
		if t.TableName == "" {
			return invalid(field+".table_name", "field not present")
		}
		if names[t.TableName] {
			return invalid(field+".table_name", fmt.Sprintf("duplicate table %q", t.TableName))
		}
		names[t.TableName] = true
		switch t.TableType {
		case models.TableTypePlcSpecific, models.TableTypeTagGroup, models.TableTypeGeneral:
		default:
			return invalid(field+".table_type", fmt.Sprintf("unknown table type %q", t.TableType))
		}
		if t.RetentionDays < 0 {
			return invalid(field+".retention_days", "must not be negative")
		}
	}
	return nil
}

func newSchemaVersion(request models.ActivateSchema) *models.GatewaySchema {
	schema := &models.GatewaySchema{
		UserID:            request.UserID,
		GatewayID:         request.GatewayID,
		Scope:             models.SchemaScope(request.GatewayID),
		Mode:              request.Mode,
		Configuration:     request.Configuration,
		TagMapping:        request.TagMapping,
		RetentionPolicies: request.RetentionPolicies,
	}
	for _, t := range request.Tables {
		retention := t.RetentionDays
		if retention == 0 {
			retention = 30
		}
		schema.Tables = append(schema.Tables, models.GatewayTable{
			TableName:            t.TableName,
			TableType:            t.TableType,
			Columns:              t.Columns,
			Indices:              t.Indices,
			RetentionDays:        retention,
			PartitioningStrategy: t.PartitioningStrategy,
			IsActive:             true,
		})
	}
	return schema
}

// ActivateSchema stores a new schema version for the scope and makes it the only active one.
func (s *Service) ActivateSchema(ctx context.Context, request models.ActivateSchema) (*models.GatewaySchema, error) {
	ctx, span := tracer.Start(ctx, "ActivateSchema")
	defer span.End()

	if err := validateSchema(request); err != nil {
		return nil, err
	}
	if request.GatewayID != nil && *request.GatewayID != uuid.Nil {
		gw, err := s.store.GetGateway(ctx, *request.GatewayID)
		if err != nil {
			return nil, err
		}
		if gw.OwnerUserID != request.UserID {
			return nil, invalid("gateway_id", "gateway does not belong to the user")
		}
	}

	var schema *models.GatewaySchema
	err := util.RetryOperationForErrors(ctx, activateSchemaWait, activateSchemaRetries, []error{ErrConflict}, func() error {
		schema = newSchemaVersion(request)
		return s.store.ActivateSchema(ctx, schema)
	})
	if err != nil {
		return nil, err
	}
	s.Logger(ctx).Infow("activated schema", "user", schema.UserID, "scope", schema.Scope, "version", schema.Version)
	return schema, nil
}
