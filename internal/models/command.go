package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CommandType string

const (
	CommandTypeCreateTable  CommandType = "create_table"
	CommandTypeDeleteTable  CommandType = "delete_table"
	CommandTypeCleanupTable CommandType = "cleanup_table"
	CommandTypeVacuumTable  CommandType = "vacuum_table"
	CommandTypeAlterTable   CommandType = "alter_table"
)

func (t CommandType) Valid() bool {
	switch t {
	case CommandTypeCreateTable, CommandTypeDeleteTable, CommandTypeCleanupTable, CommandTypeVacuumTable, CommandTypeAlterTable:
		return true
	}
	return false
}

type CommandStatus string

const (
	CommandStatusPending      CommandStatus = "pending"
	CommandStatusSent         CommandStatus = "sent"
	CommandStatusAcknowledged CommandStatus = "acknowledged"
	CommandStatusCompleted    CommandStatus = "completed"
	CommandStatusFailed       CommandStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s CommandStatus) Terminal() bool {
	return s == CommandStatusCompleted || s == CommandStatusFailed
}

// GatewayCommand is an administrative instruction queued for delivery to a gateway.
type GatewayCommand struct {
	Base
	GatewayID      uuid.UUID      `json:"gateway_id" gorm:"type:uuid;index:idx_gateway_commands_due,priority:1"`
	CommandType    CommandType    `json:"command_type" gorm:"size:32"`
	CommandData    datatypes.JSON `json:"command_data" swaggertype:"object"`
	Status         CommandStatus  `json:"status" gorm:"size:16;index:idx_gateway_commands_due,priority:2"`
	Priority       int            `json:"priority" example:"5"` // Priority is 1 (highest) to 10 (lowest).
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	ExpiresAt      time.Time      `json:"expires_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Result         datatypes.JSON `json:"result,omitempty" swaggertype:"object"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

func (c *GatewayCommand) BeforeCreate(tx *gorm.DB) error {
	c.CommandData = jsonOrNull(c.CommandData)
	c.Result = jsonOrNull(c.Result)
	return c.Base.BeforeCreate(tx)
}

// AddGatewayCommand is the information needed to enqueue a command.
type AddGatewayCommand struct {
	CommandType CommandType    `json:"command_type"`
	CommandData datatypes.JSON `json:"command_data,omitempty" swaggertype:"object"`
	Priority    int            `json:"priority,omitempty"`                               // Priority defaults to 5.
	TTL         Duration       `json:"ttl,omitempty" swaggertype:"string" example:"24h"` // TTL defaults to 24 hours.
	MaxRetries  *int           `json:"max_retries,omitempty"`                            // MaxRetries defaults to 3.
}

// CommandResult is reported by a gateway when it finishes a command.
type CommandResult struct {
	Result datatypes.JSON `json:"result,omitempty" swaggertype:"object"`
	Error  string         `json:"error,omitempty"`
}
