// Package presence keeps a short lived "gateway is online" marker in redis, shared by all
// API server replicas.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "gateway-presence:"

type Tracker struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New returns a tracker that considers a gateway online for ttl after it was last seen.
// A nil client disables tracking.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(gatewayID uuid.UUID) string {
	return keyPrefix + gatewayID.String()
}

// Seen marks the gateway online.
func (t *Tracker) Seen(ctx context.Context, gatewayID uuid.UUID) error {
	if t == nil || t.redis == nil {
		return nil
	}
	return t.redis.Set(ctx, key(gatewayID), time.Now().UTC().Format(time.RFC3339), t.ttl).Err()
}

// LastSeen returns when the gateway was last seen, if it is still online.
func (t *Tracker) LastSeen(ctx context.Context, gatewayID uuid.UUID) (time.Time, bool, error) {
	if t == nil || t.redis == nil {
		return time.Time{}, false, nil
	}
	value, err := t.redis.Get(ctx, key(gatewayID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	seen, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, true, nil
	}
	return seen, true, nil
}

// IsOnline reports whether the gateway was seen within the tracker's ttl.  Lookup failures
// are logged and reported as offline.
func (t *Tracker) IsOnline(ctx context.Context, gatewayID uuid.UUID) bool {
	_, online, err := t.LastSeen(ctx, gatewayID)
	if err != nil {
		t.logger.Warn("failed to read gateway presence", zap.String("gateway-id", gatewayID.String()), zap.Error(err))
		return false
	}
	return online
}
