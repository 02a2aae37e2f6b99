package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hercules-io/hercules/internal/models"
)

const defaultRetention = "720h"

// GarbageCollect purges old records
// @Summary      Purges old records
// @Description  Purges soft deleted gateways and codes, old logs and table status, and spent tokens and rate limits
// @Id           GarbageCollect
// @Tags         Private
// @Accept       json
// @Produce      json
// @Param		 retention   query    string false "how long to retain records.  defaults to '720h'"
// @Success      200  {object}  map[string]int64
// @Failure      400  {object}  models.ValidationError
// @Failure      500  {object}  models.InternalServerError "Internal Server Error"
// @Router       /admin/gc [post]
func (api *API) GarbageCollect(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GarbageCollect")
	defer span.End()
	query := struct {
		Retention string `form:"retention"`
	}{}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("retention"))
		return
	}
	if query.Retention == "" {
		query.Retention = defaultRetention
	}

	d, err := models.ParseDuration(query.Retention)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewFieldValidationError("retention", fmt.Sprintf("must be a valid duration: %s", err)))
		return
	}

	purged, err := api.service.GarbageCollect(ctx, d)
	if err != nil {
		api.sendError(c, "retention", err)
		return
	}
	api.Logger(ctx).Infow("garbage collected", "retention", d, "purged", purged)
	c.JSON(http.StatusOK, purged)
}
