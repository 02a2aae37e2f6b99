package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hercules-io/hercules/internal/models"
)

// ListFeatureFlags lists the protocol feature flags
// @Summary      List Feature Flags
// @Description  Lists the long-poll and debug-capture flags and whether they are enabled
// @Id           ListFeatureFlags
// @Tags         FFlag
// @Produce      json
// @Success      200  {object} map[string]bool
// @Router       /admin/fflags [get]
func (api *API) ListFeatureFlags(c *gin.Context) {
	c.JSON(http.StatusOK, api.fflags.ListFlags())
}

// GetFeatureFlag gets a feature flag by name
// @Summary      Get Feature Flag
// @Id           GetFeatureFlag
// @Tags         FFlag
// @Produce      json
// @Param		 name path      string true  "feature flag name"
// @Success      200  {object} map[string]bool
// @Failure      404  {object}  models.NotFoundError
// @Router       /admin/fflags/{name} [get]
func (api *API) GetFeatureFlag(c *gin.Context) {
	name := c.Param("name")
	enabled, err := api.fflags.GetFlag(name)
	if err != nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError("flag"))
		return
	}
	c.JSON(http.StatusOK, map[string]bool{name: enabled})
}
