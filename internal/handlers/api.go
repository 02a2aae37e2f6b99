package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hercules-io/hercules/internal/fflags"
	"github.com/hercules-io/hercules/internal/gateway"
	"github.com/hercules-io/hercules/internal/models"
	"github.com/hercules-io/hercules/internal/presence"
	"github.com/hercules-io/hercules/internal/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/hercules-io/hercules/internal/handlers")
}

// AdminActorKey is the gin context key of the authenticated administrator.
const AdminActorKey = "_hercules.Admin"

type API struct {
	logger   *zap.SugaredLogger
	db       *gorm.DB
	service  *gateway.Service
	fflags   *fflags.FFlags
	presence *presence.Tracker
}

func NewAPI(
	parent context.Context,
	logger *zap.SugaredLogger,
	db *gorm.DB,
	service *gateway.Service,
	fflags *fflags.FFlags,
	presence *presence.Tracker,
) (*API, error) {
	_, span := tracer.Start(parent, "NewAPI")
	defer span.End()

	if db == nil || service == nil {
		return nil, fmt.Errorf("handlers need a database and a gateway service")
	}
	if fflags == nil {
		return nil, fmt.Errorf("handlers need feature flags")
	}

	return &API{
		logger:   logger,
		db:       db,
		service:  service,
		fflags:   fflags,
		presence: presence,
	}, nil
}

func (api *API) Logger(ctx context.Context) *zap.SugaredLogger {
	return util.WithTrace(ctx, api.logger)
}

func (api *API) SendInternalServerError(c *gin.Context, err error) {
	SendInternalServerError(c, api.logger, err)
}

func SendInternalServerError(c *gin.Context, logger *zap.SugaredLogger, err error) {
	ctx := c.Request.Context()
	util.WithTrace(ctx, logger).Errorw("internal server error", "error", err)

	result := models.InternalServerError{
		BaseError: models.BaseError{
			Error: "internal server error",
		},
	}
	result.TraceId = util.TraceID(ctx)
	c.JSON(http.StatusInternalServerError, result)
}

// sendError writes the response for an error returned by the gateway service.
func (api *API) sendError(c *gin.Context, resource string, err error) {
	apierr := errorResponse(resource, err, api.service.Now())
	if apierr == nil {
		api.SendInternalServerError(c, err)
		return
	}
	if body, ok := apierr.Body.(models.RateLimitedError); ok {
		c.Header("Retry-After", fmt.Sprint(body.RetryAfterSeconds))
	}
	c.JSON(apierr.Status, apierr.Body)
}

// currentAdmin is the actor recorded in the audit trail for admin operations.
func (api *API) currentAdmin(c *gin.Context) string {
	if actor := c.GetString(AdminActorKey); actor != "" {
		return actor
	}
	return "admin"
}

// bearerToken returns the credential of an "Authorization: Bearer" header, or "".
func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (api *API) FlagCheck(c *gin.Context, name string) bool {
	enabled, err := api.fflags.GetFlag(name)
	if err != nil {
		api.SendInternalServerError(c, err)
		return false
	}
	if !enabled {
		c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError(fmt.Sprintf("%s support is disabled", name)))
		return false
	}
	return enabled
}
