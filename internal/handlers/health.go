package handlers

import (
	"net/http"

	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database, queue and event hub.
type HealthHandler struct {
	db    *gorm.DB
	tasks services.TaskQueue
	hub   *services.EventHub
}

func NewHealthHandler(db *gorm.DB, tasks services.TaskQueue, hub *services.EventHub) *HealthHandler {
	return &HealthHandler{db: db, tasks: tasks, hub: hub}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	code := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.tasks != nil && h.tasks.IsAsync() {
		queueMode = "async (Redis)"
	}

	sseClients := 0
	if h.hub != nil {
		sseClients = h.hub.ClientCount()
	}

	var pendingEmbeddings, unlabelled int64
	if dbStatus == "ok" {
		h.db.WithContext(c.Request.Context()).Model(&models.EmbeddingJob{}).
			Where("status IN ?", []models.EmbeddingJobStatus{models.JobPending, models.JobInProgress}).
			Count(&pendingEmbeddings)
		h.db.WithContext(c.Request.Context()).Model(&models.Issue{}).
			Where("category IS NULL").
			Count(&unlabelled)
	}

	c.JSON(code, gin.H{
		"status":  overall,
		"service": "civictriage",
		"components": gin.H{
			"database":           dbStatus,
			"queue_mode":         queueMode,
			"sse_clients":        sseClients,
			"pending_embeddings": pendingEmbeddings,
			"unlabelled_issues":  unlabelled,
		},
	})
}
