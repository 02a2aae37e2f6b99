package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/gateway"
	"github.com/hercules-io/hercules/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedeemActivationCode binds an activation code to the calling machine
// @Summary      Redeem an activation code
// @Description  Binds an activation code to a machine and returns the gateway credential
// @Id           RedeemActivationCode
// @Tags         Gateway
// @Accept       json
// @Produce      json
// @Param        Redeem  body     models.RedeemRequest  true  "Redeem"
// @Success      201  {object}  models.RedeemResponse
// @Failure      400  {object}  models.ValidationError
// @Failure      403  {object}  models.NotAllowedError
// @Failure      404  {object}  models.NotFoundError
// @Failure      410  {object}  models.GoneError
// @Failure      429  {object}  models.RateLimitedError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /gateway/redeem [post]
func (api *API) RedeemActivationCode(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "RedeemActivationCode")
	defer span.End()

	var request models.RedeemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		api.sendError(c, "activation code", api.service.RejectPayload(ctx, gateway.EndpointRedeem, c.ClientIP(), err))
		return
	}

	gw, token, err := api.service.Redeem(ctx, request, c.ClientIP())
	if err != nil {
		api.sendError(c, "activation code", err)
		return
	}
	c.JSON(http.StatusCreated, models.RedeemResponse{
		GatewayID: gw.ID,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
		Gateway:   gw,
	})
}

// SyncGateway is the gateway poll
// @Summary      Sync a gateway
// @Description  Reports table status and returns the commands due and the active schema
// @Id           SyncGateway
// @Tags         Gateway
// @Accept       json
// @Produce      json
// @Param        Sync  body     models.SyncRequest  true  "Sync"
// @Success      200  {object}  models.SyncResponse
// @Failure      400  {object}  models.ValidationError
// @Failure      401  {object}  models.BaseError
// @Failure      403  {object}  models.NotAllowedError
// @Failure      429  {object}  models.RateLimitedError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /gateway/sync [post]
func (api *API) SyncGateway(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "SyncGateway")
	defer span.End()

	var request models.SyncRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		api.sendError(c, "gateway", api.service.RejectPayload(ctx, gateway.EndpointSync, c.ClientIP(), err))
		return
	}

	response, err := api.service.Sync(ctx, bearerToken(c), request, c.ClientIP())
	if err != nil {
		api.sendError(c, "gateway", err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// RefreshGatewayToken issues a new gateway credential
// @Summary      Refresh a gateway credential
// @Description  Issues a new credential for a valid or recently expired one
// @Id           RefreshGatewayToken
// @Tags         Gateway
// @Produce      json
// @Success      200  {object}  models.IssuedToken
// @Failure      401  {object}  models.BaseError
// @Failure      410  {object}  models.GoneError
// @Failure      429  {object}  models.RateLimitedError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /gateway/token/refresh [post]
func (api *API) RefreshGatewayToken(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "RefreshGatewayToken")
	defer span.End()

	token, err := api.service.RefreshToken(ctx, bearerToken(c), c.ClientIP())
	if err != nil {
		api.sendError(c, "token", err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// gatewayCommand authenticates the gateway and parses the command id of the path.  It
// writes the error response and returns false when either fails.
func (api *API) gatewayCommand(ctx context.Context, c *gin.Context) (gatewayID, commandID uuid.UUID, ok bool) {
	_, gw, err := api.service.Authenticate(ctx, bearerToken(c))
	if err != nil {
		api.sendError(c, "gateway", err)
		return uuid.Nil, uuid.Nil, false
	}
	commandID, err = uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("id"))
		return uuid.Nil, uuid.Nil, false
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("gateway", gw.ID.String()))
	return gw.ID, commandID, true
}

// AcknowledgeCommand marks a command as received by the gateway
// @Summary      Acknowledge a command
// @Id           AcknowledgeCommand
// @Tags         Gateway
// @Param        id   path      string true "Command ID"
// @Success      204
// @Failure      400  {object}  models.ValidationError
// @Failure      401  {object}  models.BaseError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /gateway/command/{id}/ack [post]
func (api *API) AcknowledgeCommand(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "AcknowledgeCommand",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	gatewayID, commandID, ok := api.gatewayCommand(ctx, c)
	if !ok {
		return
	}
	if err := api.service.Acknowledge(ctx, gatewayID, commandID); err != nil {
		api.sendError(c, "command", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindResult reads an optional CommandResult body.
func bindResult(c *gin.Context) (models.CommandResult, bool) {
	var result models.CommandResult
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return result, true
	}
	if err := c.ShouldBindJSON(&result); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return result, false
	}
	if len(result.Result) > 0 && !json.Valid(result.Result) {
		c.JSON(http.StatusBadRequest, models.NewInvalidField("result"))
		return result, false
	}
	return result, true
}

// CompleteCommand records the result of a command
// @Summary      Complete a command
// @Id           CompleteCommand
// @Tags         Gateway
// @Accept       json
// @Param        id      path   string                true  "Command ID"
// @Param        Result  body   models.CommandResult  false "Result"
// @Success      204
// @Failure      400  {object}  models.ValidationError
// @Failure      401  {object}  models.BaseError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /gateway/command/{id}/complete [post]
func (api *API) CompleteCommand(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CompleteCommand",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	gatewayID, commandID, ok := api.gatewayCommand(ctx, c)
	if !ok {
		return
	}
	result, ok := bindResult(c)
	if !ok {
		return
	}
	if err := api.service.Complete(ctx, gatewayID, commandID, result.Result); err != nil {
		api.sendError(c, "command", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FailCommand records that a command could not be carried out
// @Summary      Fail a command
// @Id           FailCommand
// @Tags         Gateway
// @Accept       json
// @Param        id      path   string                true  "Command ID"
// @Param        Result  body   models.CommandResult  false "Result"
// @Success      204
// @Failure      400  {object}  models.ValidationError
// @Failure      401  {object}  models.BaseError
// @Failure      404  {object}  models.NotFoundError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /gateway/command/{id}/fail [post]
func (api *API) FailCommand(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "FailCommand",
		trace.WithAttributes(
			attribute.String("id", c.Param("id")),
		))
	defer span.End()

	gatewayID, commandID, ok := api.gatewayCommand(ctx, c)
	if !ok {
		return
	}
	result, ok := bindResult(c)
	if !ok {
		return
	}
	message := result.Error
	if message == "" {
		message = "failed"
	}
	if err := api.service.Fail(ctx, gatewayID, commandID, message); err != nil {
		api.sendError(c, "command", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Certs gets the jwks that can be used to verify gateway credentials issued by this server.
// @Summary      gets the jwks
// @Description  gets the jwks that can be used to verify gateway credentials issued by this server.
// @Id           Certs
// @Tags         Gateway
// @Produce      json
// @Success      200  {object} interface{}
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /gateway/certs [get]
func (api *API) Certs(c *gin.Context) {
	data, err := api.JSONWebKeySet()
	if err != nil {
		api.SendInternalServerError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (api *API) JSONWebKeySet() ([]byte, error) {
	return json.Marshal(jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Algorithm: "RS256",
			Use:       "sig",
			Key:       api.service.PublicKey(),
		}},
	})
}
