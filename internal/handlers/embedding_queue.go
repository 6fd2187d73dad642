package handlers

import (
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type EmbeddingQueueHandler struct {
	queue     *services.EmbeddingQueue
	batchSize int
}

func NewEmbeddingQueueHandler(queue *services.EmbeddingQueue, batchSize int) *EmbeddingQueueHandler {
	return &EmbeddingQueueHandler{queue: queue, batchSize: batchSize}
}

// Counts reports jobs per status.
// GET /api/embedding-queue
func (h *EmbeddingQueueHandler) Counts(c *gin.Context) {
	counts, err := h.queue.Counts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, counts)
}

// Drain processes up to limit pending jobs in this request.
// POST /api/embedding-queue/drain?limit=
func (h *EmbeddingQueueHandler) Drain(c *gin.Context) {
	limit := queryInt(c, "limit", h.batchSize)
	if limit <= 0 || limit > 100 {
		response.ValidationFailed(c, map[string]string{"limit": "must be between 1 and 100"})
		return
	}

	outcome, err := h.queue.DrainPending(c.Request.Context(), "api-"+uuid.NewString()[:8], limit)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, outcome)
}
