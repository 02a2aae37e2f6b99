package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit actions.
const (
	AuditActionRedeem              = "redeem"
	AuditActionSync                = "sync"
	AuditActionSyncMachineMismatch = "sync_machine_mismatch"
	AuditActionTokenRefresh        = "token_refresh"
	AuditActionCodeReset           = "code_reset"
	AuditActionGatewayRevoke       = "gateway_revoke"
	AuditActionGatewayDelete       = "gateway_delete"
)

// GatewayAuditLog records one redeem, sync or privileged attempt, win or lose.
type GatewayAuditLog struct {
	Record
	GatewayID    *uuid.UUID     `json:"gateway_id,omitempty" gorm:"type:uuid;index"`
	Action       string         `json:"action" gorm:"index;size:32"`
	Success      bool           `json:"success"`
	IPAddress    string         `json:"ip_address"`
	Identifier   string         `json:"identifier,omitempty"` // Identifier is the code, machine or admin the attempt was made with.
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      datatypes.JSON `json:"details,omitempty" swaggertype:"object"`
}

func (l *GatewayAuditLog) BeforeCreate(tx *gorm.DB) error {
	l.Details = jsonOrNull(l.Details)
	return l.Record.BeforeCreate(tx)
}

// GatewayDebugLog captures a sanitized request/response pair of a failed call.
type GatewayDebugLog struct {
	Record
	GatewayID    *uuid.UUID     `json:"gateway_id,omitempty" gorm:"type:uuid;index"`
	Endpoint     string         `json:"endpoint"`
	Request      datatypes.JSON `json:"request" swaggertype:"object"`
	Response     datatypes.JSON `json:"response" swaggertype:"object"`
	ErrorMessage string         `json:"error_message"`
}

func (l *GatewayDebugLog) BeforeCreate(tx *gorm.DB) error {
	l.Request = jsonOrNull(l.Request)
	l.Response = jsonOrNull(l.Response)
	return l.Record.BeforeCreate(tx)
}
