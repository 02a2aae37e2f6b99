package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hercules-io/hercules/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeemDifferentMachines(t *testing.T) {
	for _, order := range [][]string{{"m-1", "m-2"}, {"m-2", "m-1"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			require := require.New(t)
			f := newFixture(t)
			f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

			gw, token, err := f.redeem("HERC-AAAA-BBBB-CCCC", order[0])
			require.NoError(err)
			require.Equal(order[0], gw.MachineID)
			require.Equal("user-1", gw.OwnerUserID)
			require.Equal(models.GatewayStatusActive, gw.Status)
			require.NotEmpty(token.Token)

			_, _, err = f.redeem("HERC-AAAA-BBBB-CCCC", order[1])
			require.ErrorIs(err, ErrAlreadyRedeemed)

			require.Equal(int64(1), f.count(&models.Gateway{}, ""))
			ac, err := f.svc.LookupCode(f.ctx, "HERC-AAAA-BBBB-CCCC")
			require.NoError(err)
			require.Equal(models.CodeStatusRedeemed, ac.Status)
			require.Equal(order[0], *ac.MachineID)
			require.Equal(gw.ID, *ac.GatewayID)
		})
	}
}

func TestRedeemConcurrentRace(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	gateways := make([]*models.Gateway, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gateways[i], _, errs[i] = f.svc.Redeem(f.ctx, models.RedeemRequest{
				Code:      "HERC-AAAA-BBBB-CCCC",
				MachineID: fmt.Sprintf("m-%d", i),
			}, fmt.Sprintf("198.51.100.%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			require.Equal(fmt.Sprintf("m-%d", i), gateways[i].MachineID)
			continue
		}
		require.ErrorIs(err, ErrAlreadyRedeemed)
	}
	require.Equal(1, winners)
	require.Equal(int64(1), f.count(&models.Gateway{}, ""))
}

func TestRedeemIdempotentSameMachine(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

	first, firstToken, err := f.redeem("HERC-AAAA-BBBB-CCCC", "m-123")
	require.NoError(err)

	f.clock.Advance(time.Hour)
	second, secondToken, err := f.redeem("herc-aaaa-bbbb-cccc ", "m-123")
	require.NoError(err)

	require.Equal(first.ID, second.ID)
	require.True(secondToken.ExpiresAt.After(firstToken.ExpiresAt))
	require.Equal(int64(1), f.count(&models.Gateway{}, ""))

	// both credentials stay usable
	_, gw, err := f.svc.Authenticate(f.ctx, firstToken.Token)
	require.NoError(err)
	require.Equal(first.ID, gw.ID)
	_, _, err = f.svc.Authenticate(f.ctx, secondToken.Token)
	require.NoError(err)
}

func TestRedeemExpiredCode(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", time.Millisecond)

	f.clock.Advance(time.Second)
	_, _, err := f.redeem("HERC-AAAA-BBBB-CCCC", "m-1")
	require.ErrorIs(err, ErrExpired)
	require.False(errors.Is(err, ErrRevoked))
	require.Equal(int64(0), f.count(&models.Gateway{}, ""))

	ac, err := f.svc.LookupCode(f.ctx, "HERC-AAAA-BBBB-CCCC")
	require.NoError(err)
	require.Equal(models.CodeStatusIssued, ac.Status)
	require.Nil(ac.MachineID)
}

func TestRedeemRevokedCode(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

	_, err := f.svc.RevokeCode(f.ctx, "HERC-AAAA-BBBB-CCCC")
	require.NoError(err)
	_, err = f.svc.RevokeCode(f.ctx, "HERC-AAAA-BBBB-CCCC")
	require.NoError(err)

	_, _, err = f.redeem("HERC-AAAA-BBBB-CCCC", "m-1")
	require.ErrorIs(err, ErrRevoked)
	require.ErrorIs(err, ErrExpired)
}

func TestRedeemErrors(t *testing.T) {
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

	tests := []struct {
		name      string
		code      string
		machineID string
		want      error
	}{
		{"unknown code", "HERC-ZZZZ-ZZZZ-ZZZZ", "m-1", ErrNotFound},
		{"missing code", "", "m-1", ErrValidation},
		{"missing machine", "HERC-AAAA-BBBB-CCCC", "  ", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.redeem(tt.code, tt.machineID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(0), f.count(&models.Gateway{}, ""))
	assert.Equal(t, int64(len(tests)), f.count(&models.GatewayAuditLog{}, "action = ? AND success = ?", models.AuditActionRedeem, false))
}

func TestRedeemIsAudited(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

	gw, _, err := f.redeem("HERC-AAAA-BBBB-CCCC", "m-1")
	require.NoError(err)
	_, _, err = f.redeem("HERC-AAAA-BBBB-CCCC", "m-2")
	require.Error(err)

	var logs []models.GatewayAuditLog
	require.NoError(f.db.Where("action = ?", models.AuditActionRedeem).Order("created_at ASC").Find(&logs).Error)
	require.Len(logs, 2)
	require.True(logs[0].Success)
	require.Equal(gw.ID, *logs[0].GatewayID)
	require.Equal(testIP, logs[0].IPAddress)
	require.Equal("m-1", logs[0].Identifier)
	require.NotContains(string(logs[0].Details), "AAAA")
	require.Contains(string(logs[0].Details), "CCCC")
	require.False(logs[1].Success)
	require.Contains(logs[1].ErrorMessage, "already redeemed")
}

func TestIssueCode(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	ac, err := f.svc.IssueCode(f.ctx, models.AddActivationCode{OwnerUserID: "user-1"})
	require.NoError(err)
	require.Regexp(`^HERC-[A-HJKMNP-Z2-9]{4}-[A-HJKMNP-Z2-9]{4}-[A-HJKMNP-Z2-9]{4}$`, ac.Code)
	require.Equal(models.CodeStatusIssued, ac.Status)
	require.WithinDuration(f.clock.Now().Add(30*24*time.Hour), ac.ExpiresAt, time.Second)

	_, err = f.svc.IssueCode(f.ctx, models.AddActivationCode{OwnerUserID: "user-1", Code: ac.Code})
	require.ErrorIs(err, ErrConflict)

	_, err = f.svc.IssueCode(f.ctx, models.AddActivationCode{OwnerUserID: "user-1", Code: "nope"})
	require.ErrorIs(err, ErrValidation)

	_, err = f.svc.IssueCode(f.ctx, models.AddActivationCode{})
	require.ErrorIs(err, ErrValidation)
}

func TestIssueCodeRetriesCollisions(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

	calls := 0
	f.svc.newCode = func() (string, error) {
		calls++
		if calls < 3 {
			return "HERC-AAAA-BBBB-CCCC", nil
		}
		return "HERC-DDDD-EEEE-FFFF", nil
	}
	ac, err := f.svc.IssueCode(f.ctx, models.AddActivationCode{OwnerUserID: "user-1"})
	require.NoError(err)
	require.Equal("HERC-DDDD-EEEE-FFFF", ac.Code)

	calls = 0
	f.svc.newCode = func() (string, error) {
		calls++
		return "HERC-AAAA-BBBB-CCCC", nil
	}
	_, err = f.svc.IssueCode(f.ctx, models.AddActivationCode{OwnerUserID: "user-1"})
	require.ErrorIs(err, ErrConflict)
	require.Equal(codeGenerateAttempts, calls)
}

func TestResetCode(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.issueCode("HERC-AAAA-BBBB-CCCC", 0)

	first, token, err := f.redeem("HERC-AAAA-BBBB-CCCC", "m-1")
	require.NoError(err)

	ac, err := f.svc.ResetCode(f.ctx, models.ResetActivationCode{Code: "HERC-AAAA-BBBB-CCCC", Reason: "hardware replaced"}, "admin", testIP)
	require.NoError(err)
	require.Equal(models.CodeStatusIssued, ac.Status)
	require.Nil(ac.MachineID)

	_, _, err = f.svc.Authenticate(f.ctx, token.Token)
	require.ErrorIs(err, ErrUnauthorized)

	second, _, err := f.redeem("HERC-AAAA-BBBB-CCCC", "m-2")
	require.NoError(err)
	require.NotEqual(first.ID, second.ID)

	old, err := f.svc.GetGateway(f.ctx, first.ID)
	require.NoError(err)
	require.Equal(models.GatewayStatusDisabled, old.Status)

	require.Equal(int64(1), f.count(&models.GatewayAuditLog{}, "action = ? AND success = ?", models.AuditActionCodeReset, true))

	_, err = f.svc.ResetCode(f.ctx, models.ResetActivationCode{Code: "HERC-ZZZZ-ZZZZ-ZZZZ"}, "admin", testIP)
	require.ErrorIs(err, ErrNotFound)
}

// conflictingStore fails the first redemptions with a serialization failure.
type conflictingStore struct {
	*GormStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) RedeemCode(ctx context.Context, code, machineID string, gw *models.Gateway, now time.Time) (*models.Gateway, bool, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return nil, false, translate(&pgconn.PgError{Code: "40001", Message: "could not serialize access"}, "activation code")
	}
	s.mu.Unlock()
	return s.GormStore.RedeemCode(ctx, code, machineID, gw, now)
}

func TestRedeemRetriesSerializationFailures(t *testing.T) {
	require := require.New(t)
	store := &conflictingStore{conflicts: 2}
	f := newFixtureWithStore(t, func(s *GormStore) Store {
		store.GormStore = s
		return store
	})
	ac := f.issueCode("", 0)

	gw, token, err := f.redeem(ac.Code, "m-1")
	require.NoError(err)
	require.NotNil(gw)
	require.NotEmpty(token.Token)
	require.Equal(0, store.conflicts)

	// a conflict that does not clear is reported as one and is not counted as a failure
	store.mu.Lock()
	store.conflicts = redeemRetries + 1
	store.mu.Unlock()
	_, _, err = f.redeem(f.issueCode("", 0).Code, "m-2")
	require.ErrorIs(err, ErrConflict)
	require.Equal(int64(0), f.count(&models.RateLimit{}, "endpoint = ?", EndpointRedeem))
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil, "gateway"))
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "40001"}, "schema"), ErrConflict)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "40P01"}, "schema"), ErrConflict)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23505"}, "schema"), ErrConflict)
	assert.NotErrorIs(t, translate(&pgconn.PgError{Code: "42P01"}, "schema"), ErrConflict)

	// already translated errors pass through untouched
	err := fmt.Errorf("schema %w", ErrConflict)
	assert.Equal(t, err, translate(err, "transaction"))
}
