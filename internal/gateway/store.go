package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
)

// Store is the persistence port of the service.  Every method that changes more than one
// row, or that must not race with a concurrent caller, is atomic.
type Store interface {
	CreateActivationCode(ctx context.Context, code *models.ActivationCode) error
	GetActivationCode(ctx context.Context, code string) (*models.ActivationCode, error)
	RevokeActivationCode(ctx context.Context, code string) (*models.ActivationCode, error)
	// ResetActivationCode returns the code to the issued state and disables the gateway it
	// was bound to.  The returned code is the state before the reset.
	ResetActivationCode(ctx context.Context, code string) (*models.ActivationCode, error)
	// RedeemCode binds code to machineID, creating gw when the code is claimed.  When the
	// code was already redeemed by the same machine the existing gateway is returned and
	// created is false.
	RedeemCode(ctx context.Context, code, machineID string, gw *models.Gateway, now time.Time) (bound *models.Gateway, created bool, err error)

	GetGateway(ctx context.Context, id uuid.UUID) (*models.Gateway, error)
	TouchGateway(ctx context.Context, id uuid.UUID, ip string, now time.Time) error
	// RevokeGateway revokes every token of the gateway and moves it to status.  A deleted
	// gateway is also soft deleted.
	RevokeGateway(ctx context.Context, id uuid.UUID, status models.GatewayStatus) error
	MarkIdleGateways(ctx context.Context, staleBefore, disconnectBefore time.Time) (stale int64, disconnected int64, err error)

	// SaveGatewayToken records an issued token and the gateway's new token expiry.
	SaveGatewayToken(ctx context.Context, token *models.GatewayToken) error
	GetGatewayToken(ctx context.Context, id uuid.UUID) (*models.GatewayToken, error)

	GetActiveSchema(ctx context.Context, userID, scope string) (*models.GatewaySchema, error)
	ListSchemas(ctx context.Context, userID, scope string) ([]models.GatewaySchema, error)
	// ActivateSchema deactivates the scope's active schema and inserts schema as the next version.
	ActivateSchema(ctx context.Context, schema *models.GatewaySchema) error

	CreateCommand(ctx context.Context, cmd *models.GatewayCommand) error
	GetCommand(ctx context.Context, id uuid.UUID) (*models.GatewayCommand, error)
	// ClaimDueCommands marks up to limit due commands as sent and returns them.  A command
	// is returned by at most one caller.
	ClaimDueCommands(ctx context.Context, gatewayID uuid.UUID, limit int, now time.Time) ([]models.GatewayCommand, error)
	// TransitionCommand applies updates when the command belongs to the gateway and is in one
	// of the from states.  It reports whether the command changed.
	TransitionCommand(ctx context.Context, gatewayID, id uuid.UUID, from []models.CommandStatus, updates map[string]interface{}) (bool, error)
	SweepCommands(ctx context.Context, now, sentBefore time.Time) (CommandSweep, error)

	AppendTableStatus(ctx context.Context, reports []models.GatewayTableStatus) error
	LatestTableStatus(ctx context.Context, gatewayID uuid.UUID) ([]models.GatewayTableStatus, error)

	AppendAuditLog(ctx context.Context, entry *models.GatewayAuditLog) error
	AppendDebugLog(ctx context.Context, entry *models.GatewayDebugLog) error
	// CheckRateLimit returns the limit row of the identifier, resetting it when its window
	// has elapsed.  A missing row is returned as a zero RateLimit.
	CheckRateLimit(ctx context.Context, identifier, endpoint string, now time.Time, policy RateLimitPolicy) (*models.RateLimit, error)
	// RecordRateLimitFailure counts one failed attempt and blocks the identifier once the
	// policy threshold is reached.
	RecordRateLimitFailure(ctx context.Context, identifier, endpoint string, now time.Time, policy RateLimitPolicy) (*models.RateLimit, error)

	GarbageCollect(ctx context.Context, before, now time.Time) (map[string]int64, error)
}

// CommandSweep counts the commands changed by one sweep.
type CommandSweep struct {
	Expired   int64 `json:"expired"`
	Exhausted int64 `json:"exhausted"`
	Retried   int64 `json:"retried"`
}

// RateLimitPolicy is the failure budget of an endpoint.
type RateLimitPolicy struct {
	Threshold int           `json:"threshold"`
	Window    time.Duration `json:"window"`
	Backoff   time.Duration `json:"backoff"`
}
