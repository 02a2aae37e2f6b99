package models

import (
	"time"

	"github.com/google/uuid"
)

// GatewayTableStatus is a self report of the state of one local table on a gateway. Rows are
// appended, the newest one per table wins.
type GatewayTableStatus struct {
	Record
	GatewayID     uuid.UUID  `json:"gateway_id" gorm:"type:uuid;index:idx_table_status_latest,priority:1"`
	TableName     string     `json:"table_name" gorm:"index:idx_table_status_latest,priority:2"`
	RowCount      int64      `json:"row_count"`
	SizeBytes     int64      `json:"size_bytes"`
	OldestRecord  *time.Time `json:"oldest_record,omitempty"`
	NewestRecord  *time.Time `json:"newest_record,omitempty"`
	Fragmentation float64    `json:"fragmentation"`
	ErrorCount    int        `json:"error_count"`
	ReportedAt    time.Time  `json:"reported_at" gorm:"index:idx_table_status_latest,priority:3"`
}

// TableStatusReport is one entry of the table status batch a gateway sends on sync.
type TableStatusReport struct {
	TableName     string     `json:"table_name"`
	RowCount      int64      `json:"row_count"`
	SizeBytes     int64      `json:"size_bytes"`
	OldestRecord  *time.Time `json:"oldest_record,omitempty"`
	NewestRecord  *time.Time `json:"newest_record,omitempty"`
	Fragmentation float64    `json:"fragmentation"`
	ErrorCount    int        `json:"error_count"`
	ReportedAt    *time.Time `json:"reported_at,omitempty"`
}
