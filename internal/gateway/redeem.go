package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/hercules-io/hercules/internal/models"
	"github.com/hercules-io/hercules/internal/util"
)

const (
	maxMachineIDLength = 255

	// a redemption that lost a serialization conflict is retried, the retry sees the winner
	redeemRetries = 3
	redeemWait    = 20 * time.Millisecond
)

// normalizeMachineID strips the surrounding whitespace of a machine fingerprint, such as the
// newline ending /etc/machine-id.
func normalizeMachineID(machineID string) string {
	return strings.TrimSpace(machineID)
}

// Redeem binds an activation code to a machine, creating its gateway, and issues the gateway
// a credential.  Redeeming again from the same machine returns the same gateway with a
// fresh credential.
func (s *Service) Redeem(ctx context.Context, request models.RedeemRequest, ip string) (*models.Gateway, *models.IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "Redeem")
	defer span.End()

	code := NormalizeCode(request.Code)
	machineID := normalizeMachineID(request.MachineID)

	var gw *models.Gateway
	var token *models.IssuedToken
	a := &attempt{
		endpoint:   EndpointRedeem,
		limitKey:   ip,
		action:     models.AuditActionRedeem,
		ip:         ip,
		identifier: machineID,
		details: map[string]interface{}{
			"code": maskCode(code),
		},
		request: request,
	}
	err := s.guarded(ctx, a, func(ctx context.Context) error {
		if code == "" {
			return invalid("code", "field not present")
		}
		if machineID == "" {
			return invalid("machine_id", "field not present")
		}
		if len(machineID) > maxMachineIDLength {
			return invalid("machine_id", "too long")
		}

		candidate := &models.Gateway{
			Hostname:    request.Hostname,
			Os:          request.Os,
			OsVersion:   request.OsVersion,
			Cpu:         request.Cpu,
			Memory:      request.Memory,
			LastKnownIP: ip,
		}
		var bound *models.Gateway
		var created bool
		err := util.RetryOperationForErrors(ctx, redeemWait, redeemRetries, []error{ErrConflict}, func() error {
			var err error
			bound, created, err = s.store.RedeemCode(ctx, code, machineID, candidate, s.now())
			return err
		})
		if err != nil {
			return err
		}
		a.gatewayID = &bound.ID
		a.details["created"] = created

		token, err = s.IssueToken(ctx, bound)
		if err != nil {
			return err
		}
		gw = bound
		if created {
			s.Logger(ctx).Infow("gateway activated", "gateway", gw.ID, "owner", gw.OwnerUserID, "machine", machineID)
		}
		return nil
	})
	redemptionsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, nil, err
	}
	return gw, token, nil
}
