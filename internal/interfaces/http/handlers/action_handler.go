package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/service"
	"github.com/strandlabs/strand/pkg/safego"
)

// ToolOutputRequest is the consumer's tool result submission. ToolID
// names the Action created for the call.
type ToolOutputRequest struct {
	ThreadID    string `json:"thread_id"`
	Content     string `json:"content" binding:"required"`
	ToolID      string `json:"tool_id" binding:"required"`
	Role        string `json:"role"`
	AssistantID string `json:"assistant_id"`
}

// ActionHandler serves action reads and consumer tool-output
// submission. When the last pending action of a run is settled the run
// resumes in the background; its chunks flow to the event bus for any
// reconnected stream.
type ActionHandler struct {
	actions      repository.ActionRepository
	runs         repository.RunRepository
	router       *service.Router
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

// NewActionHandler creates the handler.
func NewActionHandler(
	actions repository.ActionRepository,
	runs repository.RunRepository,
	router *service.Router,
	orchestrator *service.Orchestrator,
	logger *zap.Logger,
) *ActionHandler {
	return &ActionHandler{actions: actions, runs: runs, router: router, orchestrator: orchestrator, logger: logger}
}

// Get handles GET /v1/actions/:id.
func (h *ActionHandler) Get(c *gin.Context) {
	action, err := h.actions.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// ListPending handles GET /v1/runs/:id/actions.
func (h *ActionHandler) ListPending(c *gin.Context) {
	actions, err := h.actions.PendingByRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// SubmitOutput handles POST /v1/messages/tools.
func (h *ActionHandler) SubmitOutput(c *gin.Context) {
	var req ToolOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != "" && req.Role != string(entity.RoleTool) {
		c.JSON(http.StatusBadRequest, gin.H{"error": `role must be "tool"`})
		return
	}
	ctx := c.Request.Context()

	action, err := h.actions.FindByID(ctx, req.ToolID)
	if err != nil {
		respondError(c, err)
		return
	}

	run, err := h.runs.FindByID(ctx, action.RunID)
	if err != nil {
		respondError(c, err)
		return
	}

	// The run, not the request body, is authoritative for thread and
	// assistant.
	settled, err := h.router.SubmitToolOutput(ctx, run.ThreadID, run.AssistantID, req.Content, action.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	// Resume once every pending action of the run has an answer.
	remaining, err := h.actions.PendingByRun(ctx, run.ID)
	if err == nil && len(remaining) == 0 && run.Status == entity.RunPendingAction {
		runCtx := context.WithoutCancel(ctx)
		out := make(chan entity.StreamChunk, 64)
		safego.Go(h.logger, "resume-"+run.ID, func() {
			h.orchestrator.Execute(runCtx, run.ID, "", out)
		})
		safego.Go(h.logger, "resume-drain-"+run.ID, func() {
			for range out {
			}
		})
	}

	c.JSON(http.StatusOK, settled)
}
