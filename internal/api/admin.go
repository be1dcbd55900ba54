package api

import (
	"net/http"
	"strconv"

	"subscription-api/internal/models"
	"subscription-api/internal/response"

	"github.com/gin-gonic/gin"
)

// RunSweep runs the expiry sweep now
// POST /api/admin/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	if h.sweeper == nil {
		response.ErrorJSON(c, http.StatusServiceUnavailable, "Sweeper is not configured")
		return
	}
	result, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, result)
}

// ListRemediation lists queued webhooks
// GET /api/admin/remediation?status=open&limit=50
func (h *Handler) ListRemediation(c *gin.Context) {
	status := c.DefaultQuery("status", models.RemediationOpen)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	items, err := h.store.WithContext(c.Request.Context()).ListRemediation(status, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, items)
}

// ReplayRemediation re-processes one queued webhook
// POST /api/admin/remediation/:id/replay
func (h *Handler) ReplayRemediation(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"), "id")
	if !ok {
		return
	}

	outcome, err := h.ingestor.Replay(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	result := WebhookResult{
		Outcome:   outcome.Kind.String(),
		EventType: string(outcome.EventType),
		OrderNo:   outcome.OrderNo,
	}
	if outcome.Err != nil {
		response.JSON(c, http.StatusOK, response.Response{Success: false, Message: outcome.Err.Error(), Data: result})
		return
	}
	response.SuccessJSON(c, result)
}
