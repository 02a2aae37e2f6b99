package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
	"github.com/hercules-io/hercules/internal/signalbus"
)

// Sync is the gateway poll: it refreshes the gateway's liveness, stores its table reports and
// returns the commands due for it together with its effective schema.
func (s *Service) Sync(ctx context.Context, rawToken string, request models.SyncRequest, ip string) (*models.SyncResponse, error) {
	ctx, span := tracer.Start(ctx, "Sync")
	defer span.End()

	machineID := normalizeMachineID(request.MachineID)

	var response *models.SyncResponse
	a := &attempt{
		endpoint:   EndpointSync,
		limitKey:   ip,
		action:     models.AuditActionSync,
		ip:         ip,
		identifier: machineID,
		request:    request,
	}
	err := s.guarded(ctx, a, func(ctx context.Context) error {
		_, gw, err := s.Authenticate(ctx, rawToken)
		if err != nil {
			return err
		}
		a.gatewayID = &gw.ID

		if machineID == "" {
			return invalid("machine_id", "field not present")
		}
		if machineID != gw.MachineID {
			a.action = models.AuditActionSyncMachineMismatch
			a.details = map[string]interface{}{"bound_machine_id": gw.MachineID}
			s.Logger(ctx).Warnw("gateway credential presented by another machine",
				"gateway", gw.ID, "machine", machineID, "ip", ip)
			return fmt.Errorf("%w: machine id does not match the gateway", ErrForbidden)
		}
		if err := validateReports(request.TableStatusReports); err != nil {
			return err
		}

		now := s.now()
		if err := s.store.TouchGateway(ctx, gw.ID, ip, now); err != nil {
			return fmt.Errorf("updating gateway liveness: %w", err)
		}
		if s.presence != nil {
			if err := s.presence.Seen(ctx, gw.ID); err != nil {
				s.Logger(ctx).Warnw("recording gateway presence", "gateway", gw.ID, "error", err)
			}
		}
		if err := s.store.AppendTableStatus(ctx, tableStatusRows(gw.ID, request.TableStatusReports, now)); err != nil {
			return fmt.Errorf("storing table status: %w", err)
		}

		// resolve the schema first, a failure must not leave a claimed batch behind
		schema, err := s.EffectiveSchema(ctx, gw.OwnerUserID, &gw.ID)
		if err != nil {
			return err
		}
		cmds, err := s.drainOrWait(ctx, gw.ID, request)
		if err != nil {
			return err
		}
		if cmds == nil {
			cmds = []models.GatewayCommand{}
		}
		response = &models.SyncResponse{
			GatewayID:        gw.ID,
			Commands:         cmds,
			ActiveSchema:     schema,
			AckWindowSeconds: int(s.config.RetryTimeout / time.Second),
			ServerTime:       s.now(),
			TokenExpiresAt:   gw.TokenExpiresAt,
		}
		return nil
	})
	syncsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	return response, nil
}

// drainOrWait drains due commands, long polling on the signal bus when none are due and the
// gateway asked to wait.
func (s *Service) drainOrWait(ctx context.Context, gatewayID uuid.UUID, request models.SyncRequest) ([]models.GatewayCommand, error) {
	wait := time.Duration(request.WaitSeconds) * time.Second
	if wait > s.config.MaxLongPoll {
		wait = s.config.MaxLongPoll
	}
	var sub *signalbus.Subscription
	if wait > 0 && s.signalBus != nil && s.flag(FlagLongPoll) {
		// subscribe before draining so a command queued in between is not missed
		sub = s.signalBus.Subscribe(CommandsSignal(gatewayID))
		defer sub.Close()
	}

	cmds, err := s.DrainDue(ctx, gatewayID, request.MaxCommands)
	if err != nil || len(cmds) > 0 || sub == nil {
		return cmds, err
	}
	// nothing is claimed for a gateway that hung up while waiting
	if !sub.Wait(ctx, wait) || ctx.Err() != nil {
		return cmds, nil
	}
	return s.DrainDue(ctx, gatewayID, request.MaxCommands)
}

func validateReports(reports []models.TableStatusReport) error {
	for i, r := range reports {
		field := fmt.Sprintf("table_status_reports[%d]", i)
		if strings.TrimSpace(r.TableName) == "" {
			return invalid(field+".table_name", "field not present")
		}
		if r.RowCount < 0 || r.SizeBytes < 0 || r.ErrorCount < 0 {
			return invalid(field, "counts must not be negative")
		}
		if r.Fragmentation < 0 {
			return invalid(field+".fragmentation", "must not be negative")
		}
	}
	return nil
}

func tableStatusRows(gatewayID uuid.UUID, reports []models.TableStatusReport, now time.Time) []models.GatewayTableStatus {
	rows := make([]models.GatewayTableStatus, 0, len(reports))
	for _, r := range reports {
		// gateway clocks drift, a report is never dated after its arrival
		reportedAt := now
		if r.ReportedAt != nil && r.ReportedAt.Before(now) {
			reportedAt = r.ReportedAt.UTC()
		}
		rows = append(rows, models.GatewayTableStatus{
			GatewayID:     gatewayID,
			TableName:     r.TableName,
			RowCount:      r.RowCount,
			SizeBytes:     r.SizeBytes,
			OldestRecord:  r.OldestRecord,
			NewestRecord:  r.NewestRecord,
			Fragmentation: r.Fragmentation,
			ErrorCount:    r.ErrorCount,
			ReportedAt:    reportedAt,
		})
	}
	return rows
}

// TableStatus returns the newest report of each of the gateway's tables.
func (s *Service) TableStatus(ctx context.Context, gatewayID uuid.UUID) ([]models.GatewayTableStatus, error) {
	if _, err := s.store.GetGateway(ctx, gatewayID); err != nil {
		return nil, err
	}
	return s.store.LatestTableStatus(ctx, gatewayID)
}
