package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
)

// codeAlphabet leaves out characters that are easily confused when read aloud or typed: 0 O 1 I L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeGenerateAttempts = 3

var codeGroupRe = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// NormalizeCode trims and upper-cases a user supplied activation code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) validCode(code string) bool {
	prefix := s.config.CodePrefix + "-"
	return strings.HasPrefix(code, prefix) && codeGroupRe.MatchString(strings.TrimPrefix(code, prefix))
}

func (s *Service) generateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.WriteString(s.config.CodePrefix)
	for group := 0; group < 3; group++ {
		b.WriteByte('-')
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// IssueCode creates a new activation code for the owner.
func (s *Service) IssueCode(ctx context.Context, request models.AddActivationCode) (*models.ActivationCode, error) {
	ctx, span := tracer.Start(ctx, "IssueCode")
	defer span.End()

	owner := strings.TrimSpace(request.OwnerUserID)
	if owner == "" {
		return nil, invalid("owner_user_id", "field not present")
	}
	ttl := request.TTL.Duration()
	if ttl < 0 {
		return nil, invalid("ttl", "must not be negative")
	}
	if ttl == 0 {
		ttl = s.config.CodeTTL
	}

	explicit := NormalizeCode(request.Code)
	if explicit != "" && !s.validCode(explicit) {
		return nil, invalid("code", fmt.Sprintf("must look like %s-XXXX-XXXX-XXXX", s.config.CodePrefix))
	}

	for i := 0; i < codeGenerateAttempts; i++ {
		code := explicit
		if code == "" {
			var err error
			if code, err = s.newCode(); err != nil {
				return nil, fmt.Errorf("generating activation code: %w", err)
			}
		}
		ac := &models.ActivationCode{
			Code:        code,
			OwnerUserID: owner,
			Status:      models.CodeStatusIssued,
			ExpiresAt:   s.now().Add(ttl),
			Notes:       request.Notes,
		}
		err := s.store.CreateActivationCode(ctx, ac)
		if err == nil {
			s.Logger(ctx).Infow("issued activation code", "owner", owner, "expires_at", ac.ExpiresAt)
			return ac, nil
		}
		if !errors.Is(err, ErrConflict) || explicit != "" {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not generate a unique activation code: %w", ErrConflict)
}

func (s *Service) LookupCode(ctx context.Context, code string) (*models.ActivationCode, error) {
	return s.store.GetActivationCode(ctx, NormalizeCode(code))
}

// RevokeCode stops a code from being redeemed.  Revoking a revoked code is a no-op.
func (s *Service) RevokeCode(ctx context.Context, code string) (*models.ActivationCode, error) {
	ctx, span := tracer.Start(ctx, "RevokeCode")
	defer span.End()
	return s.store.RevokeActivationCode(ctx, NormalizeCode(code))
}

// ResetCode returns a redeemed code to the issued state so it can be redeemed on another
// machine.  The gateway it was bound to is disabled.
func (s *Service) ResetCode(ctx context.Context, request models.ResetActivationCode, actor, ip string) (*models.ActivationCode, error) {
	ctx, span := tracer.Start(ctx, "ResetCode")
	defer span.End()

	code := NormalizeCode(request.Code)
	if code == "" {
		return nil, invalid("code", "field not present")
	}
	previous, err := s.store.ResetActivationCode(ctx, code)

	details := map[string]interface{}{
		"code":   maskCode(code),
		"reason": request.Reason,
	}
	if previous != nil && previous.MachineID != nil {
		details["previous_machine_id"] = *previous.MachineID
	}
	var gatewayID *uuid.UUID
	if previous != nil {
		gatewayID = previous.GatewayID
	}
	s.Audit(ctx, models.AuditActionCodeReset, gatewayID, actor, ip, details, err)
	if err != nil {
		return nil, err
	}

	previous.Status = models.CodeStatusIssued
	previous.MachineID = nil
	previous.RedeemedAt = nil
	previous.GatewayID = nil
	previous.UpdatedAt = s.now()
	return previous, nil
}
