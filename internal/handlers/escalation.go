package handlers

import (
	"strconv"

	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type EscalationHandler struct {
	escalation *services.EscalationService
}

func NewEscalationHandler(escalation *services.EscalationService) *EscalationHandler {
	return &EscalationHandler{escalation: escalation}
}

// ListDrafts returns generated escalation emails for review.
// GET /api/escalation-drafts?issue_id=&is_sent=&page=&page_size=
func (h *EscalationHandler) ListDrafts(c *gin.Context) {
	params := services.DraftListParams{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
		IssueID:  c.Query("issue_id"),
	}
	if v := c.Query("is_sent"); v != "" {
		sent, err := strconv.ParseBool(v)
		if err != nil {
			response.ValidationFailed(c, map[string]string{"is_sent": "must be true or false"})
			return
		}
		params.IsSent = &sent
	}

	result, err := h.escalation.ListDrafts(c.Request.Context(), params)
	if err != nil {
		fail(c, err)
		return
	}
	response.Paged(c, result.Items, result.Total, params.Page, params.PageSize)
}

// Run drafts escalations for every overdue urgent issue now.
// POST /api/escalations/run
func (h *EscalationHandler) Run(c *gin.Context) {
	outcome, err := h.escalation.Run(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, outcome)
}
