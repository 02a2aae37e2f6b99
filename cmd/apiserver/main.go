package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/hercules-io/hercules/internal/database"
	"github.com/hercules-io/hercules/internal/fflags"
	"github.com/hercules-io/hercules/internal/gateway"
	"github.com/hercules-io/hercules/internal/handlers"
	"github.com/hercules-io/hercules/internal/presence"
	"github.com/hercules-io/hercules/internal/routers"
	"github.com/hercules-io/hercules/internal/signalbus"
	"github.com/hercules-io/hercules/internal/util"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.18.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/credentials"
	"gorm.io/gorm"

	"github.com/urfave/cli/v3"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("apiserver")
}

// @title               Hercules API
// @description         Activation, credential and sync API for Hercules gateways.
// @version             1.0
// @BasePath            /
func main() {
	// Override to capitalize "Show"
	cli.HelpFlag.(*cli.BoolFlag).Usage = "Show help"
	defaults := gateway.DefaultConfig()
	app := &cli.Command{
		Name:  "apiserver",
		Usage: "Serve the Hercules gateway API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Value:   false,
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("HERCAPI_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Value:   "0.0.0.0:8080",
				Usage:   "The address and port to listen for HTTP requests on",
				Sources: cli.EnvVars("HERCAPI_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "db-host",
				Value:   "apiserver-db",
				Usage:   "Database host name",
				Sources: cli.EnvVars("HERCAPI_DB_HOST"),
			},
			&cli.StringFlag{
				Name:    "db-port",
				Value:   "5432",
				Usage:   "Database port",
				Sources: cli.EnvVars("HERCAPI_DB_PORT"),
			},
			&cli.StringFlag{
				Name:    "db-user",
				Value:   "apiserver",
				Usage:   "Database user",
				Sources: cli.EnvVars("HERCAPI_DB_USER"),
			},
			&cli.StringFlag{
				Name:    "db-password",
				Value:   "secret",
				Usage:   "Database password",
				Sources: cli.EnvVars("HERCAPI_DB_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "db-name",
				Value:   "apiserver",
				Usage:   "Database name",
				Sources: cli.EnvVars("HERCAPI_DB_NAME"),
			},
			&cli.StringFlag{
				Name:    "db-sslmode",
				Value:   "disable",
				Usage:   "Database ssl mode",
				Sources: cli.EnvVars("HERCAPI_DB_SSLMODE"),
			},
			&cli.BoolFlag{
				Name:    "trace-insecure",
				Value:   false,
				Usage:   "Set OTLP endpoint to insecure mode",
				Sources: cli.EnvVars("HERCAPI_TRACE_INSECURE"),
			},
			&cli.StringFlag{
				Name:    "trace-endpoint",
				Value:   "",
				Usage:   "OTLP endpoint for trace data",
				Sources: cli.EnvVars("HERCAPI_TRACE_ENDPOINT_OTLP"),
			},
			&cli.StringFlag{
				Name:    "redis-server",
				Usage:   "Redis host:port address used to track gateway presence.  Presence is disabled when empty",
				Value:   "",
				Sources: cli.EnvVars("HERCAPI_REDIS_SERVER"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database to be selected after connecting to the server.",
				Value:   1,
				Sources: cli.EnvVars("HERCAPI_REDIS_DB"),
			},
			&cli.StringFlag{
				Name:    "signing-key",
				Usage:   "PEM encoded RSA private key that signs gateway credentials",
				Sources: cli.EnvVars("HERCAPI_SIGNING_KEY"),
			},
			&cli.BoolFlag{
				Name:    "insecure-ephemeral-key",
				Usage:   "Sign gateway credentials with a key generated at startup.  Credentials do not survive a restart",
				Sources: cli.EnvVars("HERCAPI_INSECURE_EPHEMERAL_KEY"),
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "Bearer token of the /admin API",
				Sources: cli.EnvVars("HERCAPI_ADMIN_TOKEN"),
			},
			&cli.StringSliceFlag{
				Name:    "trusted-proxies",
				Usage:   "Addresses or CIDRs of the proxies allowed to set X-Forwarded-For",
				Sources: cli.EnvVars("HERCAPI_TRUSTED_PROXIES"),
			},
			&cli.StringSliceFlag{
				Name:    "cors-origin",
				Usage:   "Browser `origin` allowed to call the admin API, may be repeated",
				Sources: cli.EnvVars("HERCAPI_CORS_ORIGINS"),
			},
			&cli.FloatFlag{
				Name:    "gateway-rps",
				Value:   5,
				Usage:   "Requests per second one address may make to /gateway",
				Sources: cli.EnvVars("HERCAPI_GATEWAY_RPS"),
			},
			&cli.IntFlag{
				Name:    "gateway-burst",
				Value:   20,
				Usage:   "Request burst one address may make to /gateway",
				Sources: cli.EnvVars("HERCAPI_GATEWAY_BURST"),
			},
			&cli.IntFlag{
				Name:    "max-syncs-per-address",
				Value:   16,
				Usage:   "Syncs one address may have in flight",
				Sources: cli.EnvVars("HERCAPI_MAX_SYNCS_PER_ADDRESS"),
			},
			&cli.DurationFlag{
				Name:    "code-ttl",
				Value:   defaults.CodeTTL,
				Usage:   "Default lifetime of an activation code",
				Sources: cli.EnvVars("HERCAPI_CODE_TTL"),
			},
			&cli.DurationFlag{
				Name:    "token-ttl",
				Value:   defaults.TokenTTL,
				Usage:   "Lifetime of a gateway credential",
				Sources: cli.EnvVars("HERCAPI_TOKEN_TTL"),
			},
			&cli.DurationFlag{
				Name:    "ack-timeout",
				Value:   defaults.RetryTimeout,
				Usage:   "How long a sent command may go unacknowledged before it is resent",
				Sources: cli.EnvVars("HERCAPI_ACK_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "max-long-poll",
				Value:   defaults.MaxLongPoll,
				Usage:   "Longest a sync waits for a command",
				Sources: cli.EnvVars("HERCAPI_MAX_LONG_POLL"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Value:   defaults.StaleAfter,
				Usage:   "Silence after which an active gateway is marked stale",
				Sources: cli.EnvVars("HERCAPI_STALE_AFTER"),
			},
			&cli.DurationFlag{
				Name:    "disconnect-after",
				Value:   defaults.DisconnectAfter,
				Usage:   "Silence after which a gateway is marked disconnected",
				Sources: cli.EnvVars("HERCAPI_DISCONNECT_AFTER"),
			},
			&cli.IntFlag{
				Name:    "rate-limit-threshold",
				Value:   int64(defaults.RateLimit.Threshold),
				Usage:   "Failed redeem, sync or refresh attempts before an address is blocked",
				Sources: cli.EnvVars("HERCAPI_RATE_LIMIT_THRESHOLD"),
			},
			&cli.DurationFlag{
				Name:    "rate-limit-window",
				Value:   defaults.RateLimit.Window,
				Usage:   "Window in which failed attempts are counted",
				Sources: cli.EnvVars("HERCAPI_RATE_LIMIT_WINDOW"),
			},
			&cli.DurationFlag{
				Name:    "rate-limit-backoff",
				Value:   defaults.RateLimit.Backoff,
				Usage:   "How long a blocked address stays blocked",
				Sources: cli.EnvVars("HERCAPI_RATE_LIMIT_BACKOFF"),
			},
			&cli.DurationFlag{
				Name:    "store-timeout",
				Value:   defaults.StoreTimeout,
				Usage:   "Deadline of each database call",
				Sources: cli.EnvVars("HERCAPI_STORE_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Value:   30 * time.Second,
				Usage:   "How often command retries, expiry and gateway liveness are reconciled",
				Sources: cli.EnvVars("HERCAPI_SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "gc-interval",
				Value:   time.Hour,
				Usage:   "How often old records are purged",
				Sources: cli.EnvVars("HERCAPI_GC_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "retention",
				Value:   30 * 24 * time.Hour,
				Usage:   "How long logs, table status and deleted records are retained",
				Sources: cli.EnvVars("HERCAPI_RETENTION"),
			},
		},

		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
			ctx, span := tracer.Start(ctx, "Run")
			defer span.End()
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, dsn string) {
				pprof_init(ctx, command, logger)

				if err := database.Migrations().Migrate(ctx, db); err != nil {
					log.Fatal(err)
				}
				if command.String("admin-token") == "" {
					logger.Warn("no --admin-token configured, the /admin API rejects every request")
				}

				signalBus := signalbus.NewPgSignalBus(signalbus.NewSignalBus(), db, dsn, logger.Sugar())
				wg := &sync.WaitGroup{}
				signalBus.Start(ctx, wg)

				config := gatewayConfig(command)

				var tracker *presence.Tracker
				if addr := command.String("redis-server"); addr != "" {
					redisClient := redis.NewClient(&redis.Options{
						Addr: addr,
						DB:   int(command.Int("redis-db")),
					})
					defer util.IgnoreError(redisClient.Close)
					tracker = presence.New(redisClient, 3*config.RetryTimeout, logger)
				} else {
					tracker = presence.New(nil, 0, logger)
				}

				flags := fflags.NewFFlags(logger.Sugar())
				service, err := newService(logger, db, command, config,
					gateway.WithSignalBus(signalBus),
					gateway.WithPresence(tracker),
					gateway.WithFFlags(flags),
				)
				if err != nil {
					log.Fatal(err)
				}

				api, err := handlers.NewAPI(ctx, logger.Sugar(), db, service, flags, tracker)
				if err != nil {
					log.Fatal(err)
				}

				router, err := routers.NewAPIRouter(ctx, routers.APIRouterOptions{
					Logger:         logger.Sugar(),
					Api:            api,
					AdminToken:     command.String("admin-token"),
					TrustedProxies: command.StringSlice("trusted-proxies"),
					CorsOrigins:    command.StringSlice("cors-origin"),
					GatewayRPS:     command.Float("gateway-rps"),
					GatewayBurst:   int(command.Int("gateway-burst")),
					MaxSyncs:       int(command.Int("max-syncs-per-address")),
				})
				if err != nil {
					log.Fatal(err)
				}

				util.GoWithWaitGroup(wg, func() {
					interval := command.Duration("sweep-interval")
					util.RunPeriodicallyWithTimeout(ctx, interval, interval, func(ctx context.Context) {
						if _, err := service.Sweep(ctx); err != nil {
							logger.Sugar().Errorw("sweep failed", "error", err)
						}
					})
				})
				util.GoWithWaitGroup(wg, func() {
					interval := command.Duration("gc-interval")
					util.RunPeriodicallyWithTimeout(ctx, interval, interval, func(ctx context.Context) {
						if _, err := service.GarbageCollect(ctx, command.Duration("retention")); err != nil {
							logger.Sugar().Errorw("garbage collection failed", "error", err)
						}
					})
				})

				httpServer := &http.Server{
					Addr:              command.String("listen"),
					Handler:           router,
					ReadTimeout:       5 * time.Second,
					ReadHeaderTimeout: 5 * time.Second,
					// syncs may long poll
					WriteTimeout: config.MaxLongPoll + 15*time.Second,
				}
				defer util.IgnoreError(httpServer.Close)

				serveErrors := make(chan error, 1)
				util.GoWithWaitGroup(wg, func() {
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						serveErrors <- err
					}
				})
				logger.Sugar().Infow("serving", "listen", command.String("listen"))

				// Wait for a shutdown signal or a server error
				select {
				case err = <-serveErrors:
				case <-ctx.Done():
				}

				// Try to do a graceful shutdown for the length of a long poll...
				shutdownCtx, cancel := context.WithTimeout(context.Background(), config.MaxLongPoll+5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)

				serversDone := make(chan struct{})
				go func() {
					wg.Wait()
					close(serversDone)
				}()
				select {
				case <-shutdownCtx.Done():
				case <-serversDone:
				}

				if err != nil {
					log.Fatal(err)
				}
			})
			return nil
		},
	}
	app.Commands = append(app.Commands, rollbackCommand(), sweepCommand(), issueCodeCommand(), keygenCommand())

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func gatewayConfig(command *cli.Command) gateway.Config {
	config := gateway.DefaultConfig()
	config.CodeTTL = command.Duration("code-ttl")
	config.TokenTTL = command.Duration("token-ttl")
	config.RetryTimeout = command.Duration("ack-timeout")
	config.MaxLongPoll = command.Duration("max-long-poll")
	config.StaleAfter = command.Duration("stale-after")
	config.DisconnectAfter = command.Duration("disconnect-after")
	config.StoreTimeout = command.Duration("store-timeout")
	config.RateLimit = gateway.RateLimitPolicy{
		Threshold: int(command.Int("rate-limit-threshold")),
		Window:    command.Duration("rate-limit-window"),
		Backoff:   command.Duration("rate-limit-backoff"),
	}
	return config
}

// signingKey loads --signing-key, or generates a key when --insecure-ephemeral-key is set
// or ephemeral is true.
func signingKey(logger *zap.Logger, command *cli.Command, ephemeral bool) (*rsa.PrivateKey, error) {
	if pem := command.String("signing-key"); pem != "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("invalid signing-key: %w", err)
		}
		return key, nil
	}
	if !ephemeral && !command.Bool("insecure-ephemeral-key") {
		return nil, fmt.Errorf("--signing-key is required, or run with --insecure-ephemeral-key")
	}
	if !ephemeral {
		logger.Warn("signing gateway credentials with an ephemeral key")
	}
	return rsa.GenerateKey(rand.Reader, 2048)
}

func newService(logger *zap.Logger, db *gorm.DB, command *cli.Command, config gateway.Config, opts ...gateway.Option) (*gateway.Service, error) {
	key, err := signingKey(logger, command, false)
	if err != nil {
		return nil, err
	}
	return newServiceWithKey(logger, db, key, config, opts...)
}

func newServiceWithKey(logger *zap.Logger, db *gorm.DB, key *rsa.PrivateKey, config gateway.Config, opts ...gateway.Option) (*gateway.Service, error) {
	store, err := gateway.NewGormStore(db, gateway.WithStoreTimeout(config.StoreTimeout))
	if err != nil {
		return nil, err
	}
	return gateway.NewService(logger.Sugar(), store, key, config, opts...)
}

func getLogger(command *cli.Command) *zap.Logger {
	var logger *zap.Logger
	var err error
	// set the log level
	if command.Bool("debug") {
		logConfig := zap.NewProductionConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		logger, err = logConfig.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

func withLoggerAndDB(ctx context.Context, command *cli.Command, f func(logger *zap.Logger, db *gorm.DB, dsn string)) {
	logger := getLogger(command)
	cleanup := initTracer(logger.Sugar(), command.Bool("trace-insecure"), command.String("trace-endpoint"))
	defer func() {
		if cleanup == nil {
			return
		}
		if err := cleanup(ctx); err != nil {
			logger.Error(err.Error())
		}
	}()

	db, dsn, err := database.NewDatabase(
		ctx,
		logger.Sugar(),
		command.String("db-host"),
		command.String("db-user"),
		command.String("db-password"),
		command.String("db-name"),
		command.String("db-port"),
		command.String("db-sslmode"),
	)
	if err != nil {
		log.Fatal(err)
	}

	f(logger, db, dsn)
}

func initTracer(logger *zap.SugaredLogger, insecure bool, collector string) func(context.Context) error {
	if collector == "" {
		logger.Info("No collector endpoint configured")
		otel.SetTracerProvider(
			sdktrace.NewTracerProvider(
				sdktrace.WithSampler(sdktrace.AlwaysSample()),
			),
		)
		return nil
	}
	secureOption := otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if insecure {
		secureOption = otlptracegrpc.WithInsecure()
	}
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			secureOption,
			otlptracegrpc.WithEndpoint(collector),
		),
	)
	if err != nil {
		logger.Errorf("Unable to create open telemetry exporter: %s", err.Error())
		return nil
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "apiserver"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		logger.Errorf("Unable to create resources: %s", err.Error())
		return nil
	}

	deployEnvironment := util.Getenv("HERCAPI_ENVIRONMENT", "development")

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName("apiserver"),
				semconv.DeploymentEnvironment(deployEnvironment),
			)),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown
}
