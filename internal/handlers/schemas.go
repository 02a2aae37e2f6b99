package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
)

type schemaQuery struct {
	UserID    string `form:"user_id"`
	GatewayID string `form:"gateway_id"`
}

// bindSchemaQuery reads the user_id and optional gateway_id query parameters.
func bindSchemaQuery(c *gin.Context) (string, *uuid.UUID, bool) {
	var query schemaQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return "", nil, false
	}
	if query.UserID == "" {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("user_id"))
		return "", nil, false
	}
	if query.GatewayID == "" {
		return query.UserID, nil, true
	}
	id, err := uuid.Parse(query.GatewayID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewInvalidField("gateway_id"))
		return "", nil, false
	}
	return query.UserID, &id, true
}

// GetActiveSchema gets the schema a gateway is using
// @Summary      Get the active schema
// @Description  Gets the gateway's active schema, the user wide one, or the built in default
// @Id           GetActiveSchema
// @Tags         Schemas
// @Produce      json
// @Param        user_id     query   string  true   "User ID"
// @Param        gateway_id  query   string  false  "Gateway ID"
// @Success      200  {object}  models.GatewaySchema
// @Failure      400  {object}  models.ValidationError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/schemas/active [get]
func (api *API) GetActiveSchema(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetActiveSchema")
	defer span.End()

	userID, gatewayID, ok := bindSchemaQuery(c)
	if !ok {
		return
	}
	schema, err := api.service.EffectiveSchema(ctx, userID, gatewayID)
	if err != nil {
		api.sendError(c, "schema", err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

// ListSchemas lists the schema versions of a scope
// @Summary      List schema versions
// @Id           ListSchemas
// @Tags         Schemas
// @Produce      json
// @Param        user_id     query   string  true   "User ID"
// @Param        gateway_id  query   string  false  "Gateway ID"
// @Success      200  {object}  []models.GatewaySchema
// @Failure      400  {object}  models.ValidationError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/schemas [get]
func (api *API) ListSchemas(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListSchemas")
	defer span.End()

	userID, gatewayID, ok := bindSchemaQuery(c)
	if !ok {
		return
	}
	schemas, err := api.service.ListSchemaVersions(ctx, userID, gatewayID)
	if err != nil {
		api.sendError(c, "schema", err)
		return
	}
	c.JSON(http.StatusOK, schemas)
}

// ActivateSchema activates a new schema version
// @Summary      Activate a schema
// @Description  Stores a new schema version and makes it the active one of its scope
// @Id           ActivateSchema
// @Tags         Schemas
// @Accept       json
// @Produce      json
// @Param        Schema  body     models.ActivateSchema  true  "Activate Schema"
// @Success      201  {object}  models.GatewaySchema
// @Failure      400  {object}  models.ValidationError
// @Failure      404  {object}  models.NotFoundError
// @Failure      409  {object}  models.BaseError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/schemas [post]
func (api *API) ActivateSchema(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ActivateSchema")
	defer span.End()

	var request models.ActivateSchema
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	schema, err := api.service.ActivateSchema(ctx, request)
	if err != nil {
		api.sendError(c, "gateway", err)
		return
	}
	api.Logger(ctx).Infow("activated schema", "user", schema.UserID, "scope", schema.Scope, "version", schema.Version)
	c.JSON(http.StatusCreated, schema)
}
