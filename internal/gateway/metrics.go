package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hercules",
		Name:      "gateway_redemptions_total",
		Help:      "Activation code redemptions by result.",
	}, []string{"result"})

	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hercules",
		Name:      "gateway_syncs_total",
		Help:      "Gateway sync calls by result.",
	}, []string{"result"})

	commandsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hercules",
		Name:      "gateway_commands_dispatched_total",
		Help:      "Commands handed to gateways.",
	})

	commandTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hercules",
		Name:      "gateway_command_transitions_total",
		Help:      "Command state changes reported by gateways.",
	}, []string{"status"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hercules",
		Name:      "gateway_rate_limit_blocks_total",
		Help:      "Identifiers blocked after too many failed attempts.",
	}, []string{"endpoint"})

	sweepUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hercules",
		Name:      "gateway_sweep_updates_total",
		Help:      "Rows changed by the reconciliation sweep.",
	}, []string{"kind"})
)

// resultLabel is a low cardinality label for err.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
