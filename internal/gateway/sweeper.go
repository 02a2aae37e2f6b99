package gateway

import (
	"context"
	"fmt"
	"time"
)

// SweepResult counts the rows changed by one reconciliation pass.
type SweepResult struct {
	CommandSweep
	Stale        int64 `json:"stale"`
	Disconnected int64 `json:"disconnected"`
}

// Sweep expires, retries and exhausts commands, then marks idle gateways stale or
// disconnected.  It is safe to run concurrently on several replicas.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "Sweep")
	defer span.End()

	now := s.now()
	result := SweepResult{}
	cmds, err := s.store.SweepCommands(ctx, now, now.Add(-s.config.RetryTimeout))
	if err != nil {
		return result, fmt.Errorf("sweeping commands: %w", err)
	}
	result.CommandSweep = cmds

	result.Stale, result.Disconnected, err = s.store.MarkIdleGateways(ctx, now.Add(-s.config.StaleAfter), now.Add(-s.config.DisconnectAfter))
	if err != nil {
		return result, fmt.Errorf("sweeping gateways: %w", err)
	}

	sweepUpdatesTotal.WithLabelValues("expired").Add(float64(result.Expired))
	sweepUpdatesTotal.WithLabelValues("exhausted").Add(float64(result.Exhausted))
	sweepUpdatesTotal.WithLabelValues("retried").Add(float64(result.Retried))
	sweepUpdatesTotal.WithLabelValues("stale").Add(float64(result.Stale))
	sweepUpdatesTotal.WithLabelValues("disconnected").Add(float64(result.Disconnected))

	if result != (SweepResult{}) {
		s.Logger(ctx).Infow("sweep",
			"expired", result.Expired,
			"exhausted", result.Exhausted,
			"retried", result.Retried,
			"stale", result.Stale,
			"disconnected", result.Disconnected)
	}
	return result, nil
}

// GarbageCollect purges rows that are no longer needed and are older than retention.
func (s *Service) GarbageCollect(ctx context.Context, retention time.Duration) (map[string]int64, error) {
	ctx, span := tracer.Start(ctx, "GarbageCollect")
	defer span.End()

	if retention <= 0 {
		return nil, invalid("retention", "must be positive")
	}
	now := s.now()
	purged, err := s.store.GarbageCollect(ctx, now.Add(-retention), now)
	if err != nil {
		return purged, err
	}
	s.Logger(ctx).Infow("garbage collected", "retention", retention.String(), "purged", purged)
	return purged, nil
}
