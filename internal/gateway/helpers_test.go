package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/database"
	"github.com/hercules-io/hercules/internal/models"
	"github.com/hercules-io/hercules/internal/signalbus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const testIP = "192.0.2.10"

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
	})
	return testKey
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePresence struct {
	mu   sync.Mutex
	seen []uuid.UUID
}

func (p *fakePresence) Seen(_ context.Context, gatewayID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, gatewayID)
	return nil
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	store    *GormStore
	svc      *Service
	clock    *testClock
	bus      signalbus.SignalBus
	presence *fakePresence
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore builds the service on wrap(store) when wrap is set.
func newFixtureWithStore(t *testing.T, wrap func(*GormStore) Store) *fixture {
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		store:    store,
		clock:    &testClock{now: time.Now().UTC()},
		bus:      signalbus.NewSignalBus(),
		presence: &fakePresence{},
	}
	var s Store = store
	if wrap != nil {
		s = wrap(store)
	}
	f.svc, err = NewService(zaptest.NewLogger(t).Sugar(), s, signingKey(t), DefaultConfig(),
		WithClock(f.clock.Now),
		WithSignalBus(f.bus),
		WithPresence(f.presence),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) issueCode(code string, ttl time.Duration) *models.ActivationCode {
	ac, err := f.svc.IssueCode(f.ctx, models.AddActivationCode{
		OwnerUserID: "user-1",
		TTL:         models.Duration(ttl),
		Code:        code,
	})
	require.NoError(f.t, err)
	return ac
}

func (f *fixture) redeem(code, machineID string) (*models.Gateway, *models.IssuedToken, error) {
	return f.svc.Redeem(f.ctx, models.RedeemRequest{
		Code:      code,
		MachineID: machineID,
		GatewayFacts: models.GatewayFacts{
			Hostname: machineID + ".local",
			Os:       "linux",
		},
	}, testIP)
}

// activate issues a code and redeems it on machineID.
func (f *fixture) activate(machineID string) (*models.Gateway, *models.IssuedToken) {
	ac := f.issueCode("", 0)
	gw, token, err := f.redeem(ac.Code, machineID)
	require.NoError(f.t, err)
	return gw, token
}

func (f *fixture) count(model interface{}, query string, args ...interface{}) int64 {
	var n int64
	db := f.db.Model(model)
	if query != "" {
		db = db.Where(query, args...)
	}
	require.NoError(f.t, db.Count(&n).Error)
	return n
}
