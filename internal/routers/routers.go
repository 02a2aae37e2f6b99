package routers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/hercules-io/hercules/internal/handlers"
	"github.com/hercules-io/hercules/internal/util"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const name = "github.com/hercules-io/hercules/internal/routers"

type APIRouterOptions struct {
	Logger         *zap.SugaredLogger
	Api            *handlers.API
	AdminToken     string
	TrustedProxies []string
	// CorsOrigins are the browser origins allowed to call the admin API.
	CorsOrigins []string
	// GatewayRPS and GatewayBurst shape the per address request rate of /gateway.
	GatewayRPS   float64
	GatewayBurst int
	// MaxSyncs is the number of syncs one address may have in flight.
	MaxSyncs int
}

func NewAPIRouter(ctx context.Context, o APIRouterOptions) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(o.TrustedProxies); err != nil {
		return nil, err
	}

	loggerMiddleware := ginzap.GinzapWithConfig(o.Logger.Desugar(), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		Context: func(c *gin.Context) []zapcore.Field {
			return []zapcore.Field{
				zap.String("traceID", util.TraceID(c.Request.Context())),
			}
		},
	})

	r.Use(otelgin.Middleware(name, otelgin.WithPropagators(
		propagation.TraceContext{},
	)))
	r.Use(ginzap.RecoveryWithZap(o.Logger.Desugar(), true))

	if len(o.CorsOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowCredentials = true
		corsConfig.AllowOrigins = o.CorsOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		corsConfig.ExposeHeaders = append(corsConfig.ExposeHeaders, "X-Total-Count")
		r.Use(cors.New(corsConfig))
	}

	newPrometheus().Use(r)

	limiters := NewClientLimiters(o.GatewayRPS, o.GatewayBurst, o.MaxSyncs)
	go util.RunPeriodically(ctx, 5*time.Minute, func() {
		if removed := limiters.Cleanup(10 * time.Minute); removed > 0 {
			o.Logger.Debugw("dropped idle client limiters", "count", removed)
		}
	})

	api := o.Api
	gw := r.Group("/gateway", loggerMiddleware)
	{
		gw.GET("/certs", api.Certs)

		throttled := gw.Group("", Throttle(limiters))
		throttled.POST("/redeem", api.RedeemActivationCode)
		throttled.POST("/sync", LimitSyncs(limiters), api.SyncGateway)
		throttled.POST("/token/refresh", api.RefreshGatewayToken)
		throttled.POST("/command/:id/ack", api.AcknowledgeCommand)
		throttled.POST("/command/:id/complete", api.CompleteCommand)
		throttled.POST("/command/:id/fail", api.FailCommand)
	}

	admin := r.Group("/admin", loggerMiddleware, AdminAuth(o.Logger, o.AdminToken))
	{
		// Activation codes
		admin.POST("/gateway-codes", api.CreateActivationCode)
		admin.GET("/gateway-codes", api.ListActivationCodes)
		admin.POST("/gateway-codes/reset", api.ResetActivationCode)
		admin.GET("/gateway-codes/:code", api.GetActivationCode)
		admin.POST("/gateway-codes/:code/revoke", api.RevokeActivationCode)

		// Gateways
		admin.GET("/gateways", api.ListGateways)
		admin.GET("/gateways/:id", api.GetGateway)
		admin.POST("/gateways/:id/revoke", api.RevokeGateway)
		admin.DELETE("/gateways/:id", api.DeleteGateway)
		admin.GET("/gateways/:id/tables", api.ListGatewayTables)
		admin.GET("/gateways/:id/commands", api.ListGatewayCommands)
		admin.POST("/gateways/:id/commands", api.CreateGatewayCommand)

		// Schemas
		admin.GET("/schemas/active", api.GetActiveSchema)
		admin.GET("/schemas", api.ListSchemas)
		admin.POST("/schemas", api.ActivateSchema)

		admin.GET("/audit-logs", api.ListAuditLogs)
		admin.GET("/debug-logs", api.ListDebugLogs)
		admin.POST("/gc", api.GarbageCollect)

		// Feature Flags
		admin.GET("/fflags", api.ListFeatureFlags)
		admin.GET("/fflags/:name", api.GetFeatureFlag)
	}

	// Don't log the health/readiness checks.
	r.GET("/ready", api.Ready)
	r.GET("/live", api.Live)

	return r, nil
}

func newPrometheus() *ginprometheus.Prometheus {
	p := ginprometheus.NewPrometheus("apiserver")
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		url := c.Request.URL.Path
		for _, p := range c.Params {
			switch p.Key {
			case "id", "code", "name":
				url = strings.Replace(url, p.Value, ":"+p.Key, 1)
			}
		}
		return url
	}
	return p
}
