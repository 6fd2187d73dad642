package handlers

import (
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type SummaryHandler struct {
	summaries *services.SummaryService
}

func NewSummaryHandler(summaries *services.SummaryService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// GET /api/weekly-summaries
func (h *SummaryHandler) List(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "page_size", 10)

	result, err := h.summaries.List(c.Request.Context(), page, size)
	if err != nil {
		fail(c, err)
		return
	}
	response.Paged(c, result.Items, result.Total, page, size)
}

// GET /api/weekly-summaries/latest
func (h *SummaryHandler) Latest(c *gin.Context) {
	summary, err := h.summaries.Latest(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, summary)
}

// Run generates a bulletin for the trailing window. Every call appends.
// POST /api/weekly-summaries/run
func (h *SummaryHandler) Run(c *gin.Context) {
	outcome, err := h.summaries.Run(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, outcome)
}
