package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/database"
	"github.com/hercules-io/hercules/internal/models"
	"gorm.io/gorm"
)

var _ Store = &GormStore{}

// DefaultStoreTimeout bounds every store call.
const DefaultStoreTimeout = 10 * time.Second

// GormStore implements Store on top of gorm.
type GormStore struct {
	db          *gorm.DB
	transaction database.TransactionFunc
	dialect     database.Dialect
	timeout     time.Duration
}

type StoreOption func(*GormStore)

// WithStoreTimeout sets the deadline of each store call.  Zero or less leaves calls bounded
// only by their context.
func WithStoreTimeout(timeout time.Duration) StoreOption {
	return func(s *GormStore) {
		s.timeout = timeout
	}
}

func NewGormStore(db *gorm.DB, opts ...StoreOption) (*GormStore, error) {
	transaction, dialect, err := database.GetTransactionFunc(db)
	if err != nil {
		return nil, err
	}
	s := &GormStore{
		db:          db,
		transaction: transaction,
		dialect:     dialect,
		timeout:     DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *GormStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *GormStore) Dialect() database.Dialect {
	return s.dialect
}

// translate maps gorm errors onto the protocol errors.
func translate(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s %w", resource, ErrNotFound)
	case database.IsDuplicateError(err), database.IsSerializationError(err):
		return fmt.Errorf("%s %w: %v", resource, ErrConflict, err)
	default:
		return err
	}
}

func (s *GormStore) CreateActivationCode(ctx context.Context, code *models.ActivationCode) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return translate(s.db.WithContext(ctx).Create(code).Error, "activation code")
}

func (s *GormStore) GetActivationCode(ctx context.Context, code string) (*models.ActivationCode, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var result models.ActivationCode
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&result).Error; err != nil {
		return nil, translate(err, "activation code")
	}
	return &result, nil
}

func (s *GormStore) RevokeActivationCode(ctx context.Context, code string) (*models.ActivationCode, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var result models.ActivationCode
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("code = ?", code).First(&result).Error; err != nil {
			return translate(err, "activation code")
		}
		if result.Status == models.CodeStatusRevoked {
			return nil
		}
		result.Status = models.CodeStatusRevoked
		return tx.Model(&result).Update("status", models.CodeStatusRevoked).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *GormStore) ResetActivationCode(ctx context.Context, code string) (*models.ActivationCode, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var previous models.ActivationCode
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("code = ?", code).First(&previous).Error; err != nil {
			return translate(err, "activation code")
		}
		err := tx.Model(&models.ActivationCode{}).
			Where("id = ?", previous.ID).
			Updates(map[string]interface{}{
				"status":      models.CodeStatusIssued,
				"machine_id":  nil,
				"redeemed_at": nil,
				"gateway_id":  nil,
			}).Error
		if err != nil {
			return err
		}
		if previous.GatewayID == nil {
			return nil
		}
		return revokeGateway(tx, *previous.GatewayID, models.GatewayStatusDisabled)
	})
	if err != nil {
		return nil, err
	}
	return &previous, nil
}

func (s *GormStore) RedeemCode(ctx context.Context, code, machineID string, gw *models.Gateway, now time.Time) (*models.Gateway, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var bound *models.Gateway
	created := false
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		bound, created = nil, false
		if gw.ID == uuid.Nil {
			gw.ID = uuid.New()
		}
		res := tx.Model(&models.ActivationCode{}).
			Where("code = ? AND status = ? AND expires_at > ?", code, models.CodeStatusIssued, now).
			Updates(map[string]interface{}{
				"status":      models.CodeStatusRedeemed,
				"machine_id":  machineID,
				"redeemed_at": now,
				"gateway_id":  gw.ID,
			})
		if res.Error != nil {
			return res.Error
		}

		var ac models.ActivationCode
		if err := tx.Where("code = ?", code).First(&ac).Error; err != nil {
			return translate(err, "activation code")
		}

		if res.RowsAffected == 1 {
			gw.OwnerUserID = ac.OwnerUserID
			gw.ActivationCodeID = ac.ID
			gw.MachineID = machineID
			gw.Status = models.GatewayStatusActive
			gw.LastSeenAt = &now
			if err := tx.Create(gw).Error; err != nil {
				return translate(err, "gateway")
			}
			bound, created = gw, true
			return nil
		}

		switch {
		case !now.Before(ac.ExpiresAt):
			return fmt.Errorf("activation code %w", ErrExpired)
		case ac.Status == models.CodeStatusRevoked:
			return fmt.Errorf("activation code %w", ErrRevoked)
		case ac.MachineID == nil || *ac.MachineID != machineID || ac.GatewayID == nil:
			return fmt.Errorf("activation code %w by another machine", ErrAlreadyRedeemed)
		}

		var existing models.Gateway
		if err := tx.Where("id = ?", *ac.GatewayID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("activation code %w, its gateway was deleted", ErrAlreadyRedeemed)
			}
			return err
		}
		if existing.Status == models.GatewayStatusDisabled || existing.Status == models.GatewayStatusDeleted {
			return fmt.Errorf("activation code %w, its gateway is %s", ErrAlreadyRedeemed, existing.Status)
		}
		bound = &existing
		return nil
	})
	if err != nil {
		return nil, false, translate(err, "activation code")
	}
	return bound, created, nil
}

func (s *GormStore) GetGateway(ctx context.Context, id uuid.UUID) (*models.Gateway, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var gw models.Gateway
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&gw).Error; err != nil {
		return nil, translate(err, "gateway")
	}
	return &gw, nil
}

func (s *GormStore) TouchGateway(ctx context.Context, id uuid.UUID, ip string, now time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Model(&models.Gateway{}).
		Where("id = ? AND status NOT IN ?", id, []models.GatewayStatus{models.GatewayStatusDisabled, models.GatewayStatusDeleted}).
		Updates(map[string]interface{}{
			"last_known_ip": ip,
			"last_seen_at":  now,
			"status":        models.GatewayStatusActive,
		}).Error
}

func (s *GormStore) RevokeGateway(ctx context.Context, id uuid.UUID, status models.GatewayStatus) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.transaction(ctx, func(tx *gorm.DB) error {
		var gw models.Gateway
		if err := tx.Where("id = ?", id).First(&gw).Error; err != nil {
			return translate(err, "gateway")
		}
		return revokeGateway(tx, id, status)
	})
}

func revokeGateway(tx *gorm.DB, id uuid.UUID, status models.GatewayStatus) error {
	err := tx.Model(&models.GatewayToken{}).
		Where("gateway_id = ? AND revoked = ?", id, false).
		Update("revoked", true).Error
	if err != nil {
		return err
	}
	err = tx.Model(&models.Gateway{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return err
	}
	if status == models.GatewayStatusDeleted {
		return tx.Where("id = ?", id).Delete(&models.Gateway{}).Error
	}
	return nil
}

func (s *GormStore) MarkIdleGateways(ctx context.Context, staleBefore, disconnectBefore time.Time) (int64, int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	db := s.db.WithContext(ctx)
	res := db.Model(&models.Gateway{}).
		Where("status IN ? AND last_seen_at < ?", []models.GatewayStatus{models.GatewayStatusActive, models.GatewayStatusStale}, disconnectBefore).
		Update("status", models.GatewayStatusDisconnected)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	disconnected := res.RowsAffected

	res = db.Model(&models.Gateway{}).
		Where("status = ? AND last_seen_at < ?", models.GatewayStatusActive, staleBefore).
		Update("status", models.GatewayStatusStale)
	if res.Error != nil {
		return 0, disconnected, res.Error
	}
	return res.RowsAffected, disconnected, nil
}

func (s *GormStore) SaveGatewayToken(ctx context.Context, token *models.GatewayToken) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(token).Error; err != nil {
			return translate(err, "gateway token")
		}
		return tx.Model(&models.Gateway{}).
			Where("id = ?", token.GatewayID).
			Update("token_expires_at", token.ExpiresAt).Error
	})
}

func (s *GormStore) GetGatewayToken(ctx context.Context, id uuid.UUID) (*models.GatewayToken, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var token models.GatewayToken
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&token).Error; err != nil {
		return nil, translate(err, "gateway token")
	}
	return &token, nil
}

// GarbageCollect runs each purge under its own store timeout.
func (s *GormStore) GarbageCollect(ctx context.Context, before, now time.Time) (map[string]int64, error) {
	purged := map[string]int64{}
	purges := []struct {
		name  string
		query func(db *gorm.DB) *gorm.DB
	}{
		{"gateways", func(db *gorm.DB) *gorm.DB {
			return db.Unscoped().Where("deleted_at < ?", before).Delete(&models.Gateway{})
		}},
		{"activation_codes", func(db *gorm.DB) *gorm.DB {
			return db.Unscoped().Where("deleted_at < ? OR (status <> ? AND expires_at < ?)", before, models.CodeStatusRedeemed, before).Delete(&models.ActivationCode{})
		}},
		{"gateway_tokens", func(db *gorm.DB) *gorm.DB {
			return db.Where("expires_at < ?", before).Delete(&models.GatewayToken{})
		}},
		{"gateway_commands", func(db *gorm.DB) *gorm.DB {
			return db.Unscoped().Where("status IN ? AND updated_at < ?", []models.CommandStatus{models.CommandStatusCompleted, models.CommandStatusFailed}, before).Delete(&models.GatewayCommand{})
		}},
		{"gateway_audit_logs", func(db *gorm.DB) *gorm.DB {
			return db.Where("created_at < ?", before).Delete(&models.GatewayAuditLog{})
		}},
		{"gateway_debug_logs", func(db *gorm.DB) *gorm.DB {
			return db.Where("created_at < ?", before).Delete(&models.GatewayDebugLog{})
		}},
		{"gateway_table_statuses", func(db *gorm.DB) *gorm.DB {
			return db.Where("created_at < ?", before).Delete(&models.GatewayTableStatus{})
		}},
		{"rate_limits", func(db *gorm.DB) *gorm.DB {
			return db.Where("(blocked_until IS NULL OR blocked_until < ?) AND window_start < ?", now, before).Delete(&models.RateLimit{})
		}},
	}
	for _, p := range purges {
		pctx, cancel := s.bound(ctx)
		res := p.query(s.db.WithContext(pctx))
		cancel()
		if res.Error != nil {
			return purged, fmt.Errorf("purging %s: %w", p.name, res.Error)
		}
		purged[p.name] = res.RowsAffected
	}
	return purged, nil
}
