package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hercules-io/hercules/internal/gateway"
	"github.com/hercules-io/hercules/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateActivationCode issues an activation code
// @Summary      Issue an activation code
// @Description  Issues a single use activation code for a user's gateway
// @Id           CreateActivationCode
// @Tags         ActivationCode
// @Accept       json
// @Produce      json
// @Param        ActivationCode  body     models.AddActivationCode  true  "Add ActivationCode"
// @Success      201  {object}  models.ActivationCode
// @Failure      400  {object}  models.ValidationError
// @Failure      409  {object}  models.BaseError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateway-codes [post]
func (api *API) CreateActivationCode(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateActivationCode")
	defer span.End()

	var request models.AddActivationCode
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}

	code, err := api.service.IssueCode(ctx, request)
	if err != nil {
		api.sendError(c, "activation code", err)
		return
	}
	api.Logger(ctx).Infow("issued activation code", "owner", code.OwnerUserID, "expires", code.ExpiresAt)
	c.JSON(http.StatusCreated, code)
}

// ListActivationCodes lists activation codes
// @Summary      List activation codes
// @Id           ListActivationCodes
// @Tags         ActivationCode
// @Produce      json
// @Success      200  {object}  []models.ActivationCode
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateway-codes [get]
func (api *API) ListActivationCodes(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListActivationCodes")
	defer span.End()

	records := []models.ActivationCode{}
	db := api.db.WithContext(ctx).
		Scopes(FilterAndPaginate(&models.ActivationCode{}, c, "created_at DESC"))
	if res := db.Find(&records); res.Error != nil {
		api.SendInternalServerError(c, fmt.Errorf("error fetching activation codes from db: %w", res.Error))
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetActivationCode gets an activation code
// @Summary      Get an activation code
// @Id           GetActivationCode
// @Tags         ActivationCode
// @Produce      json
// @Param        code  path      string true "Activation code"
// @Success      200  {object}  models.ActivationCode
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateway-codes/{code} [get]
func (api *API) GetActivationCode(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetActivationCode")
	defer span.End()

	code, err := api.service.LookupCode(ctx, c.Param("code"))
	if err != nil {
		api.sendError(c, "activation code", err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// RevokeActivationCode stops an activation code from being redeemed
// @Summary      Revoke an activation code
// @Id           RevokeActivationCode
// @Tags         ActivationCode
// @Produce      json
// @Param        code  path      string true "Activation code"
// @Success      200  {object}  models.ActivationCode
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateway-codes/{code}/revoke [post]
func (api *API) RevokeActivationCode(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "RevokeActivationCode")
	defer span.End()

	code, err := api.service.RevokeCode(ctx, c.Param("code"))
	if err != nil {
		api.sendError(c, "activation code", err)
		return
	}
	api.Logger(ctx).Infow("revoked activation code", "id", code.ID, "admin", api.currentAdmin(c))
	c.JSON(http.StatusOK, code)
}

// ResetActivationCode returns a redeemed code to the issued state
// @Summary      Reset an activation code
// @Description  Unbinds a redeemed code so it can be redeemed on another machine.  The gateway it was bound to is disabled.
// @Id           ResetActivationCode
// @Tags         ActivationCode
// @Accept       json
// @Produce      json
// @Param        Reset  body     models.ResetActivationCode  true  "Reset ActivationCode"
// @Success      200  {object}  models.ActivationCode
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      410  {object}  models.GoneError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gateway-codes/reset [post]
func (api *API) ResetActivationCode(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ResetActivationCode")
	defer span.End()

	var request models.ResetActivationCode
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("code", maskedCode(request.Code)))

	code, err := api.service.ResetCode(ctx, request, api.currentAdmin(c), c.ClientIP())
	if err != nil {
		api.sendError(c, "activation code", err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// maskedCode keeps only the last group of a code for span attributes.
func maskedCode(code string) string {
	code = gateway.NormalizeCode(code)
	if len(code) < 4 {
		return ""
	}
	return "****" + code[len(code)-4:]
}
