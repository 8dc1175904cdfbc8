package endpoints

import (
	"net/http"

	"flow/internal/api/handler/response"
	"flow/internal/api/service"
	"flow/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type assetHandler struct {
	assetService *service.AssetService
	logger       zerolog.Logger
}

func AssetHandler(router gin.IRouter, assetService *service.AssetService, logger zerolog.Logger) {
	h := &assetHandler{assetService: assetService, logger: logger}

	routes := router.Group("/api/v1/assets")
	{
		routes.GET("/loras", h.getAdapterAssets)
	}
}

// getAdapterAssets lists the files an adapter can load. ?refresh=true bypasses the cache.
func (slf *assetHandler) getAdapterAssets(c *gin.Context) {
	refresh := c.Query("refresh") == "true"
	assets, err := slf.assetService.AdapterAssets(c.Request.Context(), refresh)
	if err != nil {
		writeError(c, slf.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Assets{NodeType: workflow.AdapterType, Assets: assets})
}
