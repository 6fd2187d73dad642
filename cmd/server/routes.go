package main

import (
	"strings"

	"github.com/civictriage/backend/internal/handlers"
	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/middleware"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) *middleware.RateLimiter {
	cfg := svc.Config

	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.MaxMultipartMemory = int64(cfg.Storage.MaxUploadMB+1) << 20

	healthHandler := handlers.NewHealthHandler(svc.DB, svc.Tasks, svc.Events)
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", metrics.Handler())

	// Uploaded issue photos, unless served by a CDN
	if strings.HasPrefix(cfg.Storage.PublicBaseURL, "/") {
		r.Static(cfg.Storage.PublicBaseURL, svc.Images.Dir())
	}

	issueHandler := handlers.NewIssueHandler(svc.Issues, svc.Classifier, svc.Assist, svc.Feedback, svc.Images, int64(cfg.Storage.MaxUploadMB)<<20)
	chatHandler := handlers.NewChatHandler(svc.Chat)
	escalationHandler := handlers.NewEscalationHandler(svc.Escalation)
	summaryHandler := handlers.NewSummaryHandler(svc.Summary)
	queueHandler := handlers.NewEmbeddingQueueHandler(svc.Queue, cfg.Embedding.SweepBatchSize)
	usageHandler := handlers.NewAIUsageHandler(svc.Usage)
	sseHandler := handlers.NewSSEHandler(svc.Events)

	submitLimiter := middleware.NewRateLimiter(cfg.RateLimit.SubmitRPS, cfg.RateLimit.SubmitBurst)

	api := r.Group("/api")
	{
		// Citizen submission (public)
		submit := []gin.HandlerFunc{submitLimiter.Middleware()}
		if svc.Redis != nil && cfg.RateLimit.SubmitDailyCap > 0 {
			submit = append(submit, middleware.DailyCap(svc.Redis, "ratelimit:submit", cfg.RateLimit.SubmitDailyCap))
		}
		submit = append(submit, issueHandler.Submit)
		api.POST("/issues", submit...)

		// SSE accepts the token as a query parameter
		api.GET("/events/issues", middleware.StreamAuthRequired(svc.tokens), sseHandler.StreamIssueEvents)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(svc.tokens), middleware.AuditLog())
		{
			protected.GET("/issues", issueHandler.List)
			protected.GET("/issues/:id", issueHandler.Get)
			protected.PATCH("/issues/:id", issueHandler.Update)
			protected.POST("/issues/:id/analyze", issueHandler.Analyze)
			protected.POST("/issues/:id/accept", issueHandler.Accept)
			protected.POST("/issues/:id/correct", issueHandler.Correct)
			protected.POST("/issues/:id/plan", issueHandler.Plan)
			protected.POST("/issues/:id/reply", issueHandler.Reply)
			protected.GET("/issues/:id/feedback", issueHandler.Feedback)

			protected.POST("/chat", chatHandler.Ask)

			protected.GET("/escalation-drafts", escalationHandler.ListDrafts)
			protected.POST("/escalations/run", escalationHandler.Run)

			protected.GET("/weekly-summaries", summaryHandler.List)
			protected.GET("/weekly-summaries/latest", summaryHandler.Latest)
			protected.POST("/weekly-summaries/run", summaryHandler.Run)

			protected.GET("/embedding-queue", queueHandler.Counts)
			protected.POST("/embedding-queue/drain", queueHandler.Drain)

			protected.GET("/ai-usage/stats", usageHandler.GetStats)
			protected.GET("/ai-usage/trend", usageHandler.GetDailyTrend)
			protected.GET("/ai-usage/providers", usageHandler.GetProviderBreakdown)
		}
	}

	return submitLimiter
}
