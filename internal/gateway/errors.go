package gateway

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrExpired         = errors.New("expired")
	ErrRevoked         = fmt.Errorf("revoked: %w", ErrExpired)
	ErrAlreadyRedeemed = errors.New("already redeemed")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrRateLimited     = errors.New("rate limited")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError is returned while an identifier is blocked.
type RateLimitError struct {
	Endpoint string
	Until    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many failed %s attempts, blocked until %s", e.Endpoint, e.Until.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter is the time left until the block is lifted, rounded up to whole seconds.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

var clientErrors = []error{
	ErrNotFound,
	ErrExpired,
	ErrAlreadyRedeemed,
	ErrUnauthorized,
	ErrForbidden,
	ErrRateLimited,
	ErrConflict,
	ErrValidation,
}

// IsInternal reports whether err is not one of the protocol errors callers are expected to handle.
func IsInternal(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range clientErrors {
		if errors.Is(err, e) {
			return false
		}
	}
	return true
}

// countsAsFailure reports whether err is a client failure that the guard should count.
func countsAsFailure(err error) bool {
	if err == nil || IsInternal(err) {
		return false
	}
	return !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrConflict)
}
