package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base contains common columns for all tables.
type Base struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key;" json:"id" example:"aa22666c-0f57-45cb-a449-16efecc04f2e"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate populates the ID (if it's not set)
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}
	return nil
}

// Record is the identity of append-only rows. They are never updated or soft deleted.
type Record struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;" json:"id" example:"aa22666c-0f57-45cb-a449-16efecc04f2e"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (r *Record) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// jsonOrNull keeps JSON columns from being stored as SQL NULL, which datatypes.JSON can't scan.
func jsonOrNull(j datatypes.JSON) datatypes.JSON {
	if len(j) == 0 {
		return datatypes.JSON("null")
	}
	return j
}
