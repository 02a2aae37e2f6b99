package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
	"gorm.io/datatypes"
)

const (
	EndpointRedeem  = "redeem"
	EndpointSync    = "sync"
	EndpointRefresh = "token_refresh"
)

// attempt describes one guarded call for the rate limiter and the audit trail.
type attempt struct {
	endpoint   string
	limitKey   string // limitKey is the identifier the failures are counted against.
	action     string
	ip         string
	identifier string
	details    map[string]interface{}
	request    interface{}
	gatewayID  *uuid.UUID
}

// guarded runs fn unless the caller is blocked, then audits the outcome and counts it
// against the caller's failure budget.
func (s *Service) guarded(ctx context.Context, a *attempt, fn func(ctx context.Context) error) error {
	err := s.checkRateLimit(ctx, a.limitKey, a.endpoint)
	if err == nil {
		err = fn(ctx)
		if countsAsFailure(err) {
			s.recordFailure(ctx, a.limitKey, a.endpoint)
		}
	}
	s.audit(ctx, a, err)
	if IsInternal(err) {
		s.captureDebug(ctx, a, err)
	}
	return err
}

var payloadActions = map[string]string{
	EndpointRedeem: models.AuditActionRedeem,
	EndpointSync:   models.AuditActionSync,
}

// RejectPayload answers a call to endpoint whose body could not be decoded.  The call is
// guarded like a decoded one: a blocked caller gets a RateLimitError, anyone else a
// ValidationError, and either way the attempt is audited and counted.
func (s *Service) RejectPayload(ctx context.Context, endpoint, ip string, cause error) error {
	ctx, span := tracer.Start(ctx, "RejectPayload")
	defer span.End()

	action, ok := payloadActions[endpoint]
	if !ok {
		return fmt.Errorf("unknown endpoint %q", endpoint)
	}
	a := &attempt{
		endpoint: endpoint,
		limitKey: ip,
		action:   action,
		ip:       ip,
		details: map[string]interface{}{
			"decode_error": cause.Error(),
		},
	}
	err := s.guarded(ctx, a, func(ctx context.Context) error {
		return invalid("body", "invalid request")
	})
	switch endpoint {
	case EndpointRedeem:
		redemptionsTotal.WithLabelValues(resultLabel(err)).Inc()
	case EndpointSync:
		syncsTotal.WithLabelValues(resultLabel(err)).Inc()
	}
	return err
}

func (s *Service) checkRateLimit(ctx context.Context, identifier, endpoint string) error {
	now := s.now()
	rl, err := s.store.CheckRateLimit(ctx, identifier, endpoint, now, s.config.RateLimit)
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if rl.Blocked(now) {
		return &RateLimitError{Endpoint: endpoint, Until: *rl.BlockedUntil}
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, identifier, endpoint string) {
	now := s.now()
	rl, err := s.store.RecordRateLimitFailure(ctx, identifier, endpoint, now, s.config.RateLimit)
	if err != nil {
		s.Logger(ctx).Errorw("recording failed attempt", "endpoint", endpoint, "error", err)
		return
	}
	if rl.Blocked(now) && rl.BlockedUntil.Equal(now.Add(s.config.RateLimit.Backoff)) {
		rateLimitBlocksTotal.WithLabelValues(endpoint).Inc()
		s.Logger(ctx).Warnw("blocking identifier after repeated failures",
			"endpoint", endpoint, "identifier", identifier, "until", rl.BlockedUntil)
	}
}

func (s *Service) audit(ctx context.Context, a *attempt, err error) {
	entry := &models.GatewayAuditLog{
		GatewayID:  a.gatewayID,
		Action:     a.action,
		Success:    err == nil,
		IPAddress:  a.ip,
		Identifier: a.identifier,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	if len(a.details) > 0 {
		if b, jerr := json.Marshal(a.details); jerr == nil {
			entry.Details = b
		}
	}
	if aerr := s.store.AppendAuditLog(ctx, entry); aerr != nil {
		s.Logger(ctx).Errorw("writing audit log", "action", a.action, "error", aerr)
	}
}

func (s *Service) captureDebug(ctx context.Context, a *attempt, err error) {
	if !s.flag(FlagDebugCapture) {
		return
	}
	response, _ := json.Marshal(map[string]interface{}{
		"status": 500,
		"error":  "internal server error",
	})
	entry := &models.GatewayDebugLog{
		GatewayID:    a.gatewayID,
		Endpoint:     a.endpoint,
		Request:      sanitize(a.request),
		Response:     response,
		ErrorMessage: err.Error(),
	}
	if derr := s.store.AppendDebugLog(ctx, entry); derr != nil {
		s.Logger(ctx).Errorw("writing debug log", "endpoint", a.endpoint, "error", derr)
	}
}

// Audit appends a privileged operation to the audit trail.
func (s *Service) Audit(ctx context.Context, action string, gatewayID *uuid.UUID, actor, ip string, details map[string]interface{}, err error) {
	s.audit(ctx, &attempt{
		action:     action,
		ip:         ip,
		identifier: actor,
		details:    details,
		gatewayID:  gatewayID,
	}, err)
}

const redacted = "[REDACTED]"

var sensitiveKeys = []string{"token", "secret", "password", "code", "authorization"}

// sanitize renders v as JSON with the values of sensitive keys redacted.
func sanitize(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil
	}
	b, err = json.Marshal(redact(generic))
	if err != nil {
		return nil
	}
	return b
}

func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if isSensitive(k) {
				t[k] = redacted
				continue
			}
			t[k] = redact(child)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = redact(t[i])
		}
		return t
	default:
		return v
	}
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// maskCode hides all but the last group of an activation code.
func maskCode(code string) string {
	i := strings.LastIndex(code, "-")
	if i < 0 || len(code) < 4 {
		return redacted
	}
	var b strings.Builder
	for _, r := range code[:i] {
		if r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('*')
		}
	}
	b.WriteString(code[i:])
	return b.String()
}
