package routers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hercules-io/hercules/internal/handlers"
	"github.com/hercules-io/hercules/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var throttledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hercules",
	Name:      "gateway_throttled_requests_total",
	Help:      "Gateway requests rejected by the per address request rate.",
}, []string{"path"})

// AdminAuth accepts requests bearing the static admin token.
func AdminAuth(logger *zap.SugaredLogger, adminToken string) gin.HandlerFunc {
	expected := []byte(adminToken)
	return func(c *gin.Context) {
		authz := c.Request.Header.Get("Authorization")
		parts := strings.SplitN(authz, " ", 2)
		if len(expected) == 0 || len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewUnauthorizedError())
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), expected) != 1 {
			logger.Warnw("rejected admin request", "ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewUnauthorizedError())
			return
		}
		c.Set(handlers.AdminActorKey, "admin")
		c.Next()
	}
}

// Throttle rejects clients that exceed their request rate.  It sheds load before a request
// reaches the service, so rejections are counted in throttledTotal and not audited.
func Throttle(limiters *ClientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.Allow(c.ClientIP()) {
			throttledTotal.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.NewRateLimitedError(1))
			return
		}
		c.Next()
	}
}

// LimitSyncs bounds the number of syncs a client may have in flight.
func LimitSyncs(limiters *ClientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		canceled := limiters.DoSync(c.Request.Context(), c.ClientIP(), c.Next)
		if canceled {
			c.Abort()
		}
	}
}
