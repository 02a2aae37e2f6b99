// Package gateway implements the activation, credential, schema, command and sync protocol
// between the API server and remote gateway agents.
package gateway

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/fflags"
	"github.com/hercules-io/hercules/internal/signalbus"
	"github.com/hercules-io/hercules/internal/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/hercules-io/hercules/internal/gateway")
}

const (
	FlagLongPoll     = "long-poll"
	FlagDebugCapture = "debug-capture"
)

// Config holds the protocol tunables.
type Config struct {
	CodePrefix        string
	CodeTTL           time.Duration
	TokenTTL          time.Duration
	TokenGrace        time.Duration
	TokenIssuer       string
	CommandTTL        time.Duration
	CommandPriority   int
	CommandMaxRetries int
	RetryTimeout      time.Duration
	MaxBatch          int
	MaxLongPoll       time.Duration
	StaleAfter        time.Duration
	DisconnectAfter   time.Duration
	RateLimit         RateLimitPolicy

	// StoreTimeout bounds each persistence call.
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		CodePrefix:        "HERC",
		CodeTTL:           30 * 24 * time.Hour,
		TokenTTL:          24 * time.Hour,
		TokenGrace:        5 * time.Minute,
		TokenIssuer:       "hercules-apiserver",
		CommandTTL:        24 * time.Hour,
		CommandPriority:   5,
		CommandMaxRetries: 3,
		RetryTimeout:      2 * time.Minute,
		MaxBatch:          10,
		MaxLongPoll:       30 * time.Second,
		StaleAfter:        5 * time.Minute,
		DisconnectAfter:   30 * time.Minute,
		RateLimit: RateLimitPolicy{
			Threshold: 5,
			Window:    15 * time.Minute,
			Backoff:   15 * time.Minute,
		},
		StoreTimeout: DefaultStoreTimeout,
	}
}

const maxBatchLimit = 100

// Presence records that a gateway was seen.
type Presence interface {
	Seen(ctx context.Context, gatewayID uuid.UUID) error
}

type Service struct {
	logger    *zap.SugaredLogger
	store     Store
	key       *rsa.PrivateKey
	config    Config
	signalBus signalbus.SignalBus
	presence  Presence
	fflags    *fflags.FFlags
	now       func() time.Time
	newCode   func() (string, error)
}

type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = func() time.Time { return now().UTC() }
	}
}

func WithSignalBus(sb signalbus.SignalBus) Option {
	return func(s *Service) {
		s.signalBus = sb
	}
}

func WithPresence(p Presence) Option {
	return func(s *Service) {
		s.presence = p
	}
}

// WithFFlags registers the service flags on f and consults them.
func WithFFlags(f *fflags.FFlags) Option {
	return func(s *Service) {
		f.RegisterEnvFlag(FlagLongPoll, "HERCAPI_FFLAG_LONG_POLL", true)
		f.RegisterEnvFlag(FlagDebugCapture, "HERCAPI_FFLAG_DEBUG_CAPTURE", true)
		s.fflags = f
	}
}

func NewService(logger *zap.SugaredLogger, store Store, key *rsa.PrivateKey, config Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("a store is required")
	}
	if key == nil {
		return nil, fmt.Errorf("a signing key is required")
	}
	s := &Service{
		logger: logger,
		store:  store,
		key:    key,
		config: config,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	s.newCode = s.generateCode
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Logger(ctx context.Context) *zap.SugaredLogger {
	return util.WithTrace(ctx, s.logger)
}

func (s *Service) Config() Config {
	return s.config
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

func (s *Service) flag(name string) bool {
	if s.fflags == nil {
		return true
	}
	return s.fflags.Enabled(name)
}

func (s *Service) clampBatch(n int) int {
	if n <= 0 {
		n = s.config.MaxBatch
	}
	if n > maxBatchLimit {
		n = maxBatchLimit
	}
	return n
}
