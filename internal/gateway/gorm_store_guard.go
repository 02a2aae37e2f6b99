package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/hercules-io/hercules/internal/database"
	"github.com/hercules-io/hercules/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) AppendAuditLog(ctx context.Context, entry *models.GatewayAuditLog) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) AppendDebugLog(ctx context.Context, entry *models.GatewayDebugLog) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) CheckRateLimit(ctx context.Context, identifier, endpoint string, now time.Time, policy RateLimitPolicy) (*models.RateLimit, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var rl models.RateLimit
	err := s.db.WithContext(ctx).
		Where("identifier = ? AND endpoint = ?", identifier, endpoint).
		First(&rl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.RateLimit{Identifier: identifier, Endpoint: endpoint, WindowStart: now}, nil
	}
	if err != nil {
		return nil, err
	}
	if rl.Blocked(now) || !windowElapsed(&rl, now, policy) {
		return &rl, nil
	}

	// the window is over, start a new one
	res := s.db.WithContext(ctx).Model(&models.RateLimit{}).
		Where("id = ?", rl.ID).
		Updates(map[string]interface{}{
			"attempt_count": 0,
			"window_start":  now,
			"blocked_until": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	rl.AttemptCount = 0
	rl.WindowStart = now
	rl.BlockedUntil = nil
	return &rl, nil
}

func (s *GormStore) RecordRateLimitFailure(ctx context.Context, identifier, endpoint string, now time.Time, policy RateLimitPolicy) (*models.RateLimit, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var rl models.RateLimit
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		rl = models.RateLimit{
			Identifier:  identifier,
			Endpoint:    endpoint,
			WindowStart: now,
		}
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rl).Error
		if err != nil && !database.IsDuplicateError(err) {
			return err
		}

		rl = models.RateLimit{}
		err = s.dialect.WithRowLock(tx, false).
			Where("identifier = ? AND endpoint = ?", identifier, endpoint).
			First(&rl).Error
		if err != nil {
			return err
		}

		if rl.Blocked(now) {
			// attempts made while blocked never extend the block
			return nil
		}
		if windowElapsed(&rl, now, policy) {
			rl.AttemptCount = 0
			rl.WindowStart = now
			rl.BlockedUntil = nil
		}
		rl.AttemptCount++
		if rl.AttemptCount >= policy.Threshold {
			until := now.Add(policy.Backoff)
			rl.BlockedUntil = &until
		}
		return tx.Model(&models.RateLimit{}).
			Where("id = ?", rl.ID).
			Updates(map[string]interface{}{
				"attempt_count": rl.AttemptCount,
				"window_start":  rl.WindowStart,
				"blocked_until": rl.BlockedUntil,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &rl, nil
}

func windowElapsed(rl *models.RateLimit, now time.Time, policy RateLimitPolicy) bool {
	return !now.Before(rl.WindowStart.Add(policy.Window))
}
