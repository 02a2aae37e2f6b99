package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
	"gorm.io/gorm"
)

func (s *GormStore) CreateCommand(ctx context.Context, cmd *models.GatewayCommand) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return translate(s.db.WithContext(ctx).Create(cmd).Error, "command")
}

func (s *GormStore) GetCommand(ctx context.Context, id uuid.UUID) (*models.GatewayCommand, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var cmd models.GatewayCommand
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&cmd).Error; err != nil {
		return nil, translate(err, "command")
	}
	return &cmd, nil
}

func (s *GormStore) ClaimDueCommands(ctx context.Context, gatewayID uuid.UUID, limit int, now time.Time) ([]models.GatewayCommand, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var claimed []models.GatewayCommand
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		claimed = nil
		var due []models.GatewayCommand
		err := s.dialect.WithRowLock(tx, true).
			Where("gateway_id = ? AND status = ? AND expires_at > ?", gatewayID, models.CommandStatusPending, now).
			Order("priority ASC, created_at ASC, id ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}

		for _, cmd := range due {
			res := tx.Model(&models.GatewayCommand{}).
				Where("id = ? AND status = ?", cmd.ID, models.CommandStatusPending).
				Updates(map[string]interface{}{
					"status":  models.CommandStatusSent,
					"sent_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				continue
			}
			sentAt := now
			cmd.Status = models.CommandStatusSent
			cmd.SentAt = &sentAt
			claimed = append(claimed, cmd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *GormStore) TransitionCommand(ctx context.Context, gatewayID, id uuid.UUID, from []models.CommandStatus, updates map[string]interface{}) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	res := s.db.WithContext(ctx).Model(&models.GatewayCommand{}).
		Where("id = ? AND gateway_id = ? AND status IN ?", id, gatewayID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SweepCommands fails expired and exhausted commands and puts unacknowledged ones back in the
// queue.  The updates are conditional so overlapping sweeps are harmless.
func (s *GormStore) SweepCommands(ctx context.Context, now, sentBefore time.Time) (CommandSweep, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	db := s.db.WithContext(ctx)
	result := CommandSweep{}

	res := db.Model(&models.GatewayCommand{}).
		Where("status IN ? AND expires_at < ?", []models.CommandStatus{models.CommandStatusPending, models.CommandStatusSent}, now).
		Updates(map[string]interface{}{
			"status":        models.CommandStatusFailed,
			"error_message": "expired",
			"completed_at":  now,
		})
	if res.Error != nil {
		return result, res.Error
	}
	result.Expired = res.RowsAffected

	res = db.Model(&models.GatewayCommand{}).
		Where("status = ? AND sent_at < ? AND retry_count >= max_retries", models.CommandStatusSent, sentBefore).
		Updates(map[string]interface{}{
			"status":        models.CommandStatusFailed,
			"error_message": "max retries exceeded",
			"completed_at":  now,
		})
	if res.Error != nil {
		return result, res.Error
	}
	result.Exhausted = res.RowsAffected

	res = db.Model(&models.GatewayCommand{}).
		Where("status = ? AND sent_at < ? AND retry_count < max_retries", models.CommandStatusSent, sentBefore).
		Updates(map[string]interface{}{
			"status":      models.CommandStatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
			"sent_at":     nil,
		})
	if res.Error != nil {
		return result, res.Error
	}
	result.Retried = res.RowsAffected
	return result, nil
}
