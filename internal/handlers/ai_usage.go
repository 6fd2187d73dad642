package handlers

import (
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// AIUsageHandler provides endpoints for model usage statistics.
type AIUsageHandler struct {
	usageService *services.AIUsageService
}

func NewAIUsageHandler(usage *services.AIUsageService) *AIUsageHandler {
	return &AIUsageHandler{usageService: usage}
}

func usageFilter(c *gin.Context) services.UsageFilter {
	return services.UsageFilter{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		Workflow:  c.Query("workflow"),
	}
}

// GetStats returns aggregated model usage statistics.
// GET /api/ai-usage/stats
func (h *AIUsageHandler) GetStats(c *gin.Context) {
	stats, err := h.usageService.GetStats(c.Request.Context(), usageFilter(c))
	if err != nil {
		response.ServerError(c, "failed to get AI usage stats: "+err.Error())
		return
	}
	response.Success(c, stats)
}

// GetDailyTrend returns daily usage data for charting.
// GET /api/ai-usage/trend
func (h *AIUsageHandler) GetDailyTrend(c *gin.Context) {
	trend, err := h.usageService.GetDailyTrend(c.Request.Context(), usageFilter(c))
	if err != nil {
		response.ServerError(c, "failed to get AI usage trend: "+err.Error())
		return
	}
	response.Success(c, trend)
}

// GetProviderBreakdown returns usage grouped by provider, model and operation.
// GET /api/ai-usage/providers
func (h *AIUsageHandler) GetProviderBreakdown(c *gin.Context) {
	providers, err := h.usageService.GetProviderBreakdown(c.Request.Context(), usageFilter(c))
	if err != nil {
		response.ServerError(c, "failed to get provider breakdown: "+err.Error())
		return
	}
	response.Success(c, providers)
}
