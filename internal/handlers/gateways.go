package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// gatewayID parses the :id path parameter, writing a 400 when it is not a uuid.
func gatewayID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("id"))
		return uuid.Nil, false
	}
	return id, true
}

// ListGateways lists gateways
// @Summary      List gateways
// @Id           ListGateways
// @Tags         Gateways
// @Produce      json
// @Success      200  {object}  []models.Gateway
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateways [get]
func (api *API) ListGateways(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListGateways")
	defer span.End()

	records := []models.Gateway{}
	db := api.db.WithContext(ctx).
		Scopes(FilterAndPaginate(&models.Gateway{}, c, "created_at DESC"))
	if res := db.Find(&records); res.Error != nil {
		api.SendInternalServerError(c, fmt.Errorf("error fetching gateways from db: %w", res.Error))
		return
	}
	for i := range records {
		records[i].Online = api.presence.IsOnline(ctx, records[i].ID)
	}
	c.JSON(http.StatusOK, records)
}

// GetGateway gets a gateway
// @Summary      Get a gateway
// @Id           GetGateway
// @Tags         Gateways
// @Produce      json
// @Param        id   path      string true "Gateway ID"
// @Success      200  {object}  models.Gateway
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateways/{id} [get]
func (api *API) GetGateway(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetGateway",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	id, ok := gatewayID(c)
	if !ok {
		return
	}
	gw, err := api.service.GetGateway(ctx, id)
	if err != nil {
		api.sendError(c, "gateway", err)
		return
	}
	gw.Online = api.presence.IsOnline(ctx, gw.ID)
	c.JSON(http.StatusOK, gw)
}

// RevokeGateway revokes a gateway's credentials
// @Summary      Revoke a gateway
// @Description  Revokes all the gateway's credentials and disables it
// @Id           RevokeGateway
// @Tags         Gateways
// @Param        id   path      string true "Gateway ID"
// @Success      204
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateways/{id}/revoke [post]
func (api *API) RevokeGateway(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "RevokeGateway",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	id, ok := gatewayID(c)
	if !ok {
		return
	}
	if err := api.service.RevokeGateway(ctx, id, api.currentAdmin(c), c.ClientIP()); err != nil {
		api.sendError(c, "gateway", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteGateway deletes a gateway
// @Summary      Delete a gateway
// @Id           DeleteGateway
// @Tags         Gateways
// @Param        id   path      string true "Gateway ID"
// @Success      204
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateways/{id} [delete]
func (api *API) DeleteGateway(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "DeleteGateway",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	id, ok := gatewayID(c)
	if !ok {
		return
	}
	if err := api.service.DeleteGateway(ctx, id, api.currentAdmin(c), c.ClientIP()); err != nil {
		api.sendError(c, "gateway", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListGatewayTables lists the latest status of each of the gateway's tables
// @Summary      List gateway table status
// @Id           ListGatewayTables
// @Tags         Gateways
// @Produce      json
// @Param        id   path      string true "Gateway ID"
// @Success      200  {object}  []models.GatewayTableStatus
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateways/{id}/tables [get]
func (api *API) ListGatewayTables(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListGatewayTables",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	id, ok := gatewayID(c)
	if !ok {
		return
	}
	statuses, err := api.service.TableStatus(ctx, id)
	if err != nil {
		api.sendError(c, "gateway", err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

// ListGatewayCommands lists the commands queued for a gateway
// @Summary      List gateway commands
// @Id           ListGatewayCommands
// @Tags         Gateways
// @Produce      json
// @Param        id   path      string true "Gateway ID"
// @Success      200  {object}  []models.GatewayCommand
// @Failure      400  {object}  models.ValidationError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateways/{id}/commands [get]
func (api *API) ListGatewayCommands(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListGatewayCommands",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	id, ok := gatewayID(c)
	if !ok {
		return
	}
	records := []models.GatewayCommand{}
	db := api.db.WithContext(ctx).
		Where("gateway_id = ?", id).
		Scopes(FilterAndPaginate(&models.GatewayCommand{}, c, "created_at DESC"))
	if res := db.Find(&records); res.Error != nil {
		api.SendInternalServerError(c, fmt.Errorf("error fetching commands from db: %w", res.Error))
		return
	}
	c.JSON(http.StatusOK, records)
}

// CreateGatewayCommand queues a command for a gateway
// @Summary      Queue a gateway command
// @Id           CreateGatewayCommand
// @Tags         Gateways
// @Accept       json
// @Produce      json
// @Param        id       path     string                    true  "Gateway ID"
// @Param        Command  body     models.AddGatewayCommand  true  "Add Command"
// @Success      201  {object}  models.GatewayCommand
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateways/{id}/commands [post]
func (api *API) CreateGatewayCommand(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateGatewayCommand",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	id, ok := gatewayID(c)
	if !ok {
		return
	}
	var request models.AddGatewayCommand
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	cmd, err := api.service.Enqueue(ctx, id, request)
	if err != nil {
		api.sendError(c, "gateway", err)
		return
	}
	c.JSON(http.StatusCreated, cmd)
}
