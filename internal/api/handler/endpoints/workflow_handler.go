package endpoints

import (
	"net/http"

	"flow/internal/api/handler/mapper"
	"flow/internal/api/handler/request"
	"flow/internal/api/handler/response"
	"flow/internal/api/service"
	"flow/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type workflowHandler struct {
	workflowService *service.WorkflowService
	logger          zerolog.Logger
}

func WorkflowHandler(router gin.IRouter, workflowService *service.WorkflowService, logger zerolog.Logger) {
	h := &workflowHandler{workflowService: workflowService, logger: logger}

	routes := router.Group("/api/v1/workflow")
	{
		routes.GET("", h.get)
		routes.GET("/anchors", h.getAnchors)
		routes.POST("/anchors/:id/lora", h.addAdapter)
		routes.PATCH("/lora/:id", h.updateAdapter)
		routes.DELETE("/lora/:id", h.removeAdapter)
		routes.GET("/nodes/:id", h.getNode)
		routes.PATCH("/nodes/:id/inputs", h.setInputs)
	}
}

// get returns the live workflow in API format, ready to be posted upstream.
func (slf *workflowHandler) get(c *gin.Context) {
	c.JSON(http.StatusOK, slf.workflowService.Snapshot())
}

func (slf *workflowHandler) getAnchors(c *gin.Context) {
	c.JSON(http.StatusOK, mapper.ToAnchorResponses(slf.workflowService.Anchors()))
}

func (slf *workflowHandler) addAdapter(c *gin.Context) {
	anchor, ok := nodeIDParam(c)
	if !ok {
		return
	}
	node, err := slf.workflowService.InsertAdapter(anchor)
	if err != nil {
		writeError(c, slf.logger, err)
		return
	}
	c.JSON(http.StatusCreated, mapper.ToAdapterResponse(node))
}

func (slf *workflowHandler) updateAdapter(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}
	var req request.UpdateAdapter
	if !bindBody(c, &req) {
		return
	}
	node, err := slf.workflowService.UpdateAdapter(id, workflow.AdapterParams{
		Asset:    req.Asset,
		Strength: req.Strength,
	})
	if err != nil {
		writeError(c, slf.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToAdapterResponse(node))
}

func (slf *workflowHandler) removeAdapter(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}
	result, err := slf.workflowService.RemoveAdapter(id)
	if err != nil {
		writeError(c, slf.logger, err)
		return
	}
	c.JSON(http.StatusOK, response.Removal{ID: int(id), Result: result})
}

func (slf *workflowHandler) getNode(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}
	node, err := slf.workflowService.Node(id)
	if err != nil {
		writeError(c, slf.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToNodeResponse(node))
}

func (slf *workflowHandler) setInputs(c *gin.Context) {
	id, ok := nodeIDParam(c)
	if !ok {
		return
	}
	var req request.SetInputs
	if !bindBody(c, &req) {
		return
	}
	node, err := slf.workflowService.SetInputs(id, req.Inputs)
	if err != nil {
		writeError(c, slf.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToNodeResponse(node))
}
