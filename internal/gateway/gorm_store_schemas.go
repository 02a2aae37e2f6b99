package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
	"gorm.io/gorm"
)

func (s *GormStore) GetActiveSchema(ctx context.Context, userID, scope string) (*models.GatewaySchema, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var schema models.GatewaySchema
	err := s.db.WithContext(ctx).
		Preload("Tables").
		Where("user_id = ? AND scope = ? AND is_active = ?", userID, scope, true).
		First(&schema).Error
	if err != nil {
		return nil, translate(err, "schema")
	}
	return &schema, nil
}

func (s *GormStore) ListSchemas(ctx context.Context, userID, scope string) ([]models.GatewaySchema, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var schemas []models.GatewaySchema
	err := s.db.WithContext(ctx).
		Preload("Tables").
		Where("user_id = ? AND scope = ?", userID, scope).
		Order("version DESC").
		Find(&schemas).Error
	return schemas, err
}

func (s *GormStore) ActivateSchema(ctx context.Context, schema *models.GatewaySchema) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		err := tx.Model(&models.GatewaySchema{}).
			Where("user_id = ? AND scope = ? AND is_active = ?", schema.UserID, schema.Scope, true).
			Update("is_active", false).Error
		if err != nil {
			return translate(err, "schema")
		}

		var latest int
		err = tx.Model(&models.GatewaySchema{}).
			Where("user_id = ? AND scope = ?", schema.UserID, schema.Scope).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error
		if err != nil {
			return err
		}

		schema.Version = latest + 1
		schema.IsActive = true
		return translate(tx.Create(schema).Error, "schema")
	})
	return translate(err, "schema")
}

func (s *GormStore) AppendTableStatus(ctx context.Context, reports []models.GatewayTableStatus) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if len(reports) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&reports).Error
}

// LatestTableStatus returns the last report received for every table of the gateway.
func (s *GormStore) LatestTableStatus(ctx context.Context, gatewayID uuid.UUID) ([]models.GatewayTableStatus, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var rows []models.GatewayTableStatus
	err := s.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Where("created_at = (?)",
			s.db.Table("gateway_table_statuses AS t").
				Select("MAX(t.created_at)").
				Where("t.gateway_id = gateway_table_statuses.gateway_id AND t.table_name = gateway_table_statuses.table_name"),
		).
		Order("table_name ASC, reported_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// reports of one batch share created_at: keep the newest reported per table
	result := make([]models.GatewayTableStatus, 0, len(rows))
	seen := map[string]bool{}
	for _, row := range rows {
		if seen[row.TableName] {
			continue
		}
		seen[row.TableName] = true
		result = append(result, row)
	}
	return result, nil
}
