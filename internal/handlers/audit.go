package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hercules-io/hercules/internal/gateway"
	"github.com/hercules-io/hercules/internal/models"
)

// ListAuditLogs lists the audit trail
// @Summary      List audit logs
// @Description  Lists redeem, sync and administrative attempts, newest first
// @Id           ListAuditLogs
// @Tags         Audit
// @Produce      json
// @Success      200  {object}  []models.GatewayAuditLog
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/audit-logs [get]
func (api *API) ListAuditLogs(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListAuditLogs")
	defer span.End()

	records := []models.GatewayAuditLog{}
	db := api.db.WithContext(ctx).
		Scopes(FilterAndPaginate(&models.GatewayAuditLog{}, c, "created_at DESC"))
	if res := db.Find(&records); res.Error != nil {
		api.SendInternalServerError(c, fmt.Errorf("error fetching audit logs from db: %w", res.Error))
		return
	}
	c.JSON(http.StatusOK, records)
}

// ListDebugLogs lists the captured requests of failed gateway calls
// @Summary      List debug logs
// @Id           ListDebugLogs
// @Tags         Audit
// @Produce      json
// @Success      200  {object}  []models.GatewayDebugLog
// @Failure      405  {object}  models.NotAllowedError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/debug-logs [get]
func (api *API) ListDebugLogs(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListDebugLogs")
	defer span.End()

	if !api.FlagCheck(c, gateway.FlagDebugCapture) {
		return
	}
	records := []models.GatewayDebugLog{}
	db := api.db.WithContext(ctx).
		Scopes(FilterAndPaginate(&models.GatewayDebugLog{}, c, "created_at DESC"))
	if res := db.Find(&records); res.Error != nil {
		api.SendInternalServerError(c, fmt.Errorf("error fetching debug logs from db: %w", res.Error))
		return
	}
	c.JSON(http.StatusOK, records)
}
