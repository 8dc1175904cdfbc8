package endpoints

import (
	"net/http"

	"flow/internal/api/handler/response"
	"flow/internal/api/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ConnectionState reports whether the upstream push channel is up.
type ConnectionState interface {
	Connected() bool
}

type executionHandler struct {
	executionService *service.ExecutionService
	workflowService  *service.WorkflowService
	upstream         ConnectionState
	logger           zerolog.Logger
}

// ExecutionHandler registers the queue routes. upstream may be nil.
func ExecutionHandler(router gin.IRouter, executionService *service.ExecutionService, workflowService *service.WorkflowService, upstream ConnectionState, logger zerolog.Logger) {
	h := &executionHandler{
		executionService: executionService,
		workflowService:  workflowService,
		upstream:         upstream,
		logger:           logger,
	}

	routes := router.Group("/api/v1")
	{
		routes.POST("/queue", h.queue)
		routes.GET("/queue", h.getQueue)
		routes.POST("/interrupt", h.interrupt)
		routes.GET("/status", h.status)
	}
}

// queue snapshots the live workflow and appends it to the job queue.
func (slf *executionHandler) queue(c *gin.Context) {
	id := slf.executionService.Queue(slf.workflowService)
	slf.logger.Info().Int("jobId", id).Msg("Job queued")
	c.JSON(http.StatusAccepted, response.Queued{JobID: id})
}

func (slf *executionHandler) getQueue(c *gin.Context) {
	c.JSON(http.StatusOK, slf.executionService.Status().Queue)
}

func (slf *executionHandler) interrupt(c *gin.Context) {
	result := slf.executionService.Interrupt(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

func (slf *executionHandler) status(c *gin.Context) {
	resp := response.Status{ExecutionStatus: slf.executionService.Status()}
	if slf.upstream != nil {
		resp.UpstreamConnected = slf.upstream.Connected()
	}
	c.JSON(http.StatusOK, resp)
}
