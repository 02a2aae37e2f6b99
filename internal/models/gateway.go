package models

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

type GatewayStatus string

const (
	GatewayStatusActive       GatewayStatus = "active"
	GatewayStatusInactive     GatewayStatus = "inactive"
	GatewayStatusStale        GatewayStatus = "stale"
	GatewayStatusDisconnected GatewayStatus = "disconnected"
	GatewayStatusDisabled     GatewayStatus = "disabled"
	GatewayStatusDeleted      GatewayStatus = "deleted"
)

// Gateway is a remote agent bound to one machine.
type Gateway struct {
	Base
	OwnerUserID      string        `json:"owner_user_id" gorm:"index"`
	MachineID        string        `json:"machine_id" gorm:"index"`
	ActivationCodeID uuid.UUID     `json:"activation_code_id" gorm:"type:uuid"`
	Hostname         string        `json:"hostname"`
	Os               string        `json:"os"`
	OsVersion        string        `json:"os_version"`
	Cpu              string        `json:"cpu"`
	Memory           string        `json:"memory"`
	LastKnownIP      string        `json:"last_known_ip"`
	LastSeenAt       *time.Time    `json:"last_seen_at"`
	Status           GatewayStatus `json:"status" gorm:"index;size:16"`
	TokenExpiresAt   *time.Time    `json:"token_expires_at"`
	Online           bool          `json:"online" gorm:"-"` // Online is filled from the presence tracker, not stored.
}

// GatewayFacts are self reported by the gateway when it redeems a code.
type GatewayFacts struct {
	Hostname  string `json:"hostname,omitempty"`
	Os        string `json:"os,omitempty"`
	OsVersion string `json:"os_version,omitempty"`
	Cpu       string `json:"cpu,omitempty"`
	Memory    string `json:"memory,omitempty"`
}

// GatewayToken tracks an issued credential so it can be revoked.  The signed token
// itself is never stored, only its sha256 hash.
type GatewayToken struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;"` // ID is the jti claim of the token.
	GatewayID uuid.UUID `json:"gateway_id" gorm:"type:uuid;index"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// GatewayClaims are the claims of a gateway credential.
type GatewayClaims struct {
	jwt.RegisteredClaims
	Scope     string    `json:"scope,omitempty"`
	GatewayID uuid.UUID `json:"gateway_id"`
	UserID    string    `json:"user_id"`
}

// IssuedToken is a freshly signed gateway credential.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RedeemRequest struct {
	Code      string `json:"code"`
	MachineID string `json:"machine_id"`
	GatewayFacts
}

type RedeemResponse struct {
	GatewayID uuid.UUID `json:"gateway_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Gateway   *Gateway  `json:"gateway"`
}
