package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RateLimit counts failed attempts of an identifier (ip or gateway id) against an endpoint.
type RateLimit struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;"`
	Identifier   string     `json:"identifier" gorm:"uniqueIndex:idx_rate_limits_key,priority:1"`
	Endpoint     string     `json:"endpoint" gorm:"uniqueIndex:idx_rate_limits_key,priority:2;size:32"`
	AttemptCount int        `json:"attempt_count"`
	WindowStart  time.Time  `json:"window_start"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (r *RateLimit) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Blocked reports whether requests must be rejected at now.
func (r *RateLimit) Blocked(now time.Time) bool {
	return r.BlockedUntil != nil && r.BlockedUntil.After(now)
}
