package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncRequest is sent by a gateway on every poll.
type SyncRequest struct {
	MachineID          string              `json:"machine_id"`
	TableStatusReports []TableStatusReport `json:"table_status_reports"`
	MaxCommands        int                 `json:"max_commands,omitempty"` // MaxCommands caps the number of commands returned, defaults to 10.
	WaitSeconds        int                 `json:"wait_seconds,omitempty"` // WaitSeconds long polls for commands when none are due.
}

// SyncResponse carries the commands due for the gateway and the schema it should use.
type SyncResponse struct {
	GatewayID        uuid.UUID        `json:"gateway_id"`
	Commands         []GatewayCommand `json:"commands"`
	ActiveSchema     *GatewaySchema   `json:"active_schema"`
	AckWindowSeconds int              `json:"ack_window_seconds"` // AckWindowSeconds is how long a sent command may go unacknowledged before it is resent.
	ServerTime       time.Time        `json:"server_time"`
	TokenExpiresAt   *time.Time       `json:"token_expires_at,omitempty"`
}
