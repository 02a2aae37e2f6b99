package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
)

const tokenScope = "gateway"

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IssueToken signs a new credential for the gateway and records it so it can be revoked.
func (s *Service) IssueToken(ctx context.Context, gw *models.Gateway) (*models.IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "IssueToken")
	defer span.End()

	now := s.now()
	// jwt dates have second precision
	expiresAt := now.Add(s.config.TokenTTL).Truncate(time.Second)
	jti := uuid.New()

	claims := models.GatewayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    s.config.TokenIssuer,
			Subject:   gw.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope:     tokenScope,
		GatewayID: gw.ID,
		UserID:    gw.OwnerUserID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("signing gateway token: %w", err)
	}

	err = s.store.SaveGatewayToken(ctx, &models.GatewayToken{
		ID:        jti,
		GatewayID: gw.ID,
		TokenHash: hashToken(signed),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}
	gw.TokenExpiresAt = &expiresAt
	return &models.IssuedToken{
		Token:     signed,
		ExpiresAt: expiresAt,
	}, nil
}

// parseToken verifies the signature and scope of raw.  Time based claims are checked by the
// callers against the service clock.
func (s *Service) parseToken(raw string) (*models.GatewayClaims, uuid.UUID, error) {
	claims := &models.GatewayClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: invalid token: %v", ErrUnauthorized, err)
	}
	if claims.Scope != tokenScope {
		return nil, uuid.Nil, fmt.Errorf("%w: token scope is not %s", ErrUnauthorized, tokenScope)
	}
	if claims.ExpiresAt == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: token does not expire", ErrUnauthorized)
	}
	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: invalid token id", ErrUnauthorized)
	}
	return claims, jti, nil
}

// checkRevocation verifies the token is the one that was issued under jti and that neither
// it nor its gateway was revoked.
func (s *Service) checkRevocation(ctx context.Context, raw string, claims *models.GatewayClaims, jti uuid.UUID) (*models.Gateway, error) {
	token, err := s.store.GetGatewayToken(ctx, jti)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, fmt.Errorf("%w: token was revoked", ErrUnauthorized)
	}
	if token.GatewayID != claims.GatewayID ||
		subtle.ConstantTimeCompare([]byte(token.TokenHash), []byte(hashToken(raw))) != 1 {
		return nil, fmt.Errorf("%w: token does not match its record", ErrUnauthorized)
	}

	gw, err := s.store.GetGateway(ctx, claims.GatewayID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: gateway no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if gw.Status == models.GatewayStatusDisabled || gw.Status == models.GatewayStatusDeleted {
		return nil, fmt.Errorf("%w: gateway is %s", ErrUnauthorized, gw.Status)
	}
	return gw, nil
}

// Authenticate validates a gateway credential and returns its claims and gateway.
func (s *Service) Authenticate(ctx context.Context, raw string) (*models.GatewayClaims, *models.Gateway, error) {
	ctx, span := tracer.Start(ctx, "Authenticate")
	defer span.End()

	if raw == "" {
		return nil, nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	claims, jti, err := s.parseToken(raw)
	if err != nil {
		return nil, nil, err
	}
	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil, nil, fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	gw, err := s.checkRevocation(ctx, raw, claims, jti)
	if err != nil {
		return nil, nil, err
	}
	return claims, gw, nil
}

// RefreshToken issues a new credential for a valid, or recently expired, one.  The presented
// token stays valid until its own expiry.
func (s *Service) RefreshToken(ctx context.Context, raw, ip string) (*models.IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "RefreshToken")
	defer span.End()

	var issued *models.IssuedToken
	a := &attempt{
		endpoint: EndpointRefresh,
		limitKey: ip,
		action:   models.AuditActionTokenRefresh,
		ip:       ip,
	}
	err := s.guarded(ctx, a, func(ctx context.Context) error {
		if raw == "" {
			return fmt.Errorf("%w: missing token", ErrUnauthorized)
		}
		claims, jti, err := s.parseToken(raw)
		if err != nil {
			return err
		}
		a.gatewayID = &claims.GatewayID
		if s.now().After(claims.ExpiresAt.Time.Add(s.config.TokenGrace)) {
			return fmt.Errorf("token %w, redeem a new activation code", ErrExpired)
		}
		gw, err := s.checkRevocation(ctx, raw, claims, jti)
		if err != nil {
			return err
		}
		a.identifier = gw.MachineID
		issued, err = s.IssueToken(ctx, gw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// RevokeGateway revokes all the gateway's credentials and disables it.
func (s *Service) RevokeGateway(ctx context.Context, id uuid.UUID, actor, ip string) error {
	ctx, span := tracer.Start(ctx, "RevokeGateway")
	defer span.End()

	err := s.store.RevokeGateway(ctx, id, models.GatewayStatusDisabled)
	s.Audit(ctx, models.AuditActionGatewayRevoke, &id, actor, ip, nil, err)
	return err
}

// DeleteGateway revokes the gateway's credentials and deletes it.
func (s *Service) DeleteGateway(ctx context.Context, id uuid.UUID, actor, ip string) error {
	ctx, span := tracer.Start(ctx, "DeleteGateway")
	defer span.End()

	err := s.store.RevokeGateway(ctx, id, models.GatewayStatusDeleted)
	s.Audit(ctx, models.AuditActionGatewayDelete, &id, actor, ip, nil, err)
	return err
}

func (s *Service) GetGateway(ctx context.Context, id uuid.UUID) (*models.Gateway, error) {
	return s.store.GetGateway(ctx, id)
}
