package gateway

import (
	"testing"
	"time"

	"github.com/hercules-io/hercules/internal/models"
	"github.com/stretchr/testify/require"
)

func TestSweepRetriesThenFails(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	gw, _ := f.activate("m-1")

	maxRetries := 2
	cmd, err := f.svc.Enqueue(f.ctx, gw.ID, models.AddGatewayCommand{
		CommandType: models.CommandTypeCreateTable,
		MaxRetries:  &maxRetries,
	})
	require.NoError(err)

	for retry := 1; retry <= maxRetries; retry++ {
		cmds, err := f.svc.DrainDue(f.ctx, gw.ID, 0)
		require.NoError(err)
		require.Len(cmds, 1)
		require.Equal(retry-1, cmds[0].RetryCount)

		// within the ack window nothing happens
		f.clock.Advance(time.Minute)
		result, err := f.svc.Sweep(f.ctx)
		require.NoError(err)
		require.Equal(int64(0), result.Retried)

		f.clock.Advance(2 * time.Minute)
		result, err = f.svc.Sweep(f.ctx)
		require.NoError(err)
		require.Equal(int64(1), result.Retried)

		stored, err := f.svc.GetCommand(f.ctx, gw.ID, cmd.ID)
		require.NoError(err)
		require.Equal(models.CommandStatusPending, stored.Status)
		require.Equal(retry, stored.RetryCount)
		require.Nil(stored.SentAt)
	}

	cmds, err := f.svc.DrainDue(f.ctx, gw.ID, 0)
	require.NoError(err)
	require.Len(cmds, 1)
	f.clock.Advance(3 * time.Minute)
	result, err := f.svc.Sweep(f.ctx)
	require.NoError(err)
	require.Equal(int64(1), result.Exhausted)
	require.Equal(int64(0), result.Retried)

	stored, err := f.svc.GetCommand(f.ctx, gw.ID, cmd.ID)
	require.NoError(err)
	require.Equal(models.CommandStatusFailed, stored.Status)
	require.Equal("max retries exceeded", stored.ErrorMessage)

	// sweeping again changes nothing
	result, err = f.svc.Sweep(f.ctx)
	require.NoError(err)
	require.Equal(CommandSweep{}, result.CommandSweep)
}

func TestSweepExpiresCommands(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	gw, _ := f.activate("m-1")

	ttl := models.Duration(10 * time.Minute)
	pending, err := f.svc.Enqueue(f.ctx, gw.ID, models.AddGatewayCommand{CommandType: models.CommandTypeCreateTable, TTL: ttl})
	require.NoError(err)
	f.clock.Advance(time.Second)
	sent, err := f.svc.Enqueue(f.ctx, gw.ID, models.AddGatewayCommand{CommandType: models.CommandTypeAlterTable, TTL: ttl, Priority: 1})
	require.NoError(err)
	cmds, err := f.svc.DrainDue(f.ctx, gw.ID, 1)
	require.NoError(err)
	require.Len(cmds, 1)
	require.Equal(sent.ID, cmds[0].ID)

	f.clock.Advance(11 * time.Minute)
	result, err := f.svc.Sweep(f.ctx)
	require.NoError(err)
	require.Equal(int64(2), result.Expired)
	require.Equal(int64(0), result.Retried)

	for _, id := range []models.GatewayCommand{*pending, *sent} {
		stored, err := f.svc.GetCommand(f.ctx, gw.ID, id.ID)
		require.NoError(err)
		require.Equal(models.CommandStatusFailed, stored.Status)
		require.Equal("expired", stored.ErrorMessage)
		require.Equal(0, stored.RetryCount)
	}
}

func TestSweepMarksIdleGateways(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	gw, token := f.activate("m-1")

	f.clock.Advance(6 * time.Minute)
	result, err := f.svc.Sweep(f.ctx)
	require.NoError(err)
	require.Equal(int64(1), result.Stale)
	stored, err := f.svc.GetGateway(f.ctx, gw.ID)
	require.NoError(err)
	require.Equal(models.GatewayStatusStale, stored.Status)

	f.clock.Advance(30 * time.Minute)
	result, err = f.svc.Sweep(f.ctx)
	require.NoError(err)
	require.Equal(int64(1), result.Disconnected)
	stored, err = f.svc.GetGateway(f.ctx, gw.ID)
	require.NoError(err)
	require.Equal(models.GatewayStatusDisconnected, stored.Status)

	_, err = f.svc.Sync(f.ctx, token.Token, models.SyncRequest{MachineID: "m-1"}, testIP)
	require.NoError(err)
	stored, err = f.svc.GetGateway(f.ctx, gw.ID)
	require.NoError(err)
	require.Equal(models.GatewayStatusActive, stored.Status)

	// disabled gateways are left alone
	require.NoError(f.svc.RevokeGateway(f.ctx, gw.ID, "admin", testIP))
	f.clock.Advance(time.Hour)
	result, err = f.svc.Sweep(f.ctx)
	require.NoError(err)
	require.Equal(int64(0), result.Stale+result.Disconnected)
}

func TestGarbageCollect(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	gw, _ := f.activate("m-1")
	kept, _ := f.activate("m-2")
	cmd := f.enqueue(kept.ID, 0)
	require.NoError(f.svc.Complete(f.ctx, kept.ID, cmd.ID, nil))
	require.NoError(f.svc.DeleteGateway(f.ctx, gw.ID, "admin", testIP))

	_, err := f.svc.GarbageCollect(f.ctx, 0)
	require.ErrorIs(err, ErrValidation)

	f.clock.Advance(26 * time.Hour)
	purged, err := f.svc.GarbageCollect(f.ctx, time.Hour)
	require.NoError(err)
	require.Equal(int64(1), purged["gateways"])
	require.Equal(int64(2), purged["gateway_tokens"])
	require.Equal(int64(1), purged["gateway_commands"])
	require.Positive(purged["gateway_audit_logs"])

	require.Equal(int64(0), f.count(&models.GatewayAuditLog{}, ""))
	_, err = f.svc.GetGateway(f.ctx, kept.ID)
	require.NoError(err)
}
