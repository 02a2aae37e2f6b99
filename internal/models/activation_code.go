package models

import (
	"time"

	"github.com/google/uuid"
)

type CodeStatus string

const (
	CodeStatusIssued   CodeStatus = "issued"
	CodeStatusRedeemed CodeStatus = "redeemed"
	CodeStatusRevoked  CodeStatus = "revoked"
)

// ActivationCode is a single use secret that a gateway redeems to establish its identity.
type ActivationCode struct {
	Base
	Code        string     `json:"code" gorm:"uniqueIndex;size:64" example:"HERC-7KQM-2XWP-R9TD"`
	OwnerUserID string     `json:"owner_user_id" gorm:"index"`                    // OwnerUserID is the user the redeemed gateway will belong to.
	Status      CodeStatus `json:"status" gorm:"index;size:16"`                   // Status is one of issued, redeemed or revoked.
	ExpiresAt   time.Time  `json:"expires_at"`                                    // ExpiresAt is when the code can no longer be redeemed.
	MachineID   *string    `json:"machine_id,omitempty"`                          // MachineID is set once, when the code is redeemed.
	RedeemedAt  *time.Time `json:"redeemed_at,omitempty"`                         // RedeemedAt is when the code was redeemed.
	GatewayID   *uuid.UUID `json:"gateway_id,omitempty" gorm:"type:uuid"`         // GatewayID is the gateway created by the redemption.
	Notes       string     `json:"notes,omitempty"`                               // Notes is free form text for the issuer.
}

// AddActivationCode is the information needed to issue an activation code.
type AddActivationCode struct {
	OwnerUserID string   `json:"owner_user_id"`
	TTL         Duration `json:"ttl,omitempty" swaggertype:"string" example:"30d"` // TTL defaults to 30 days.
	Notes       string   `json:"notes,omitempty"`
	// Code optionally pins the code value instead of generating a random one.
	Code string `json:"code,omitempty"`
}

// ResetActivationCode is the request body of the administrative code reset.
type ResetActivationCode struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}
