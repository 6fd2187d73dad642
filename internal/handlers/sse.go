package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SSEHandler streams issue events to officer dashboards.
type SSEHandler struct {
	hub       *services.EventHub
	keepAlive time.Duration
}

func NewSSEHandler(hub *services.EventHub) *SSEHandler {
	return &SSEHandler{hub: hub, keepAlive: 25 * time.Second}
}

// StreamIssueEvents handles SSE connections. Authentication is done by
// middleware.StreamAuthRequired.
// GET /api/events/issues
func (h *SSEHandler) StreamIssueEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := uuid.New().String()

	events := h.hub.Subscribe(clientID)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().Str("client_id", clientID).Int("total", h.hub.ClientCount()).Msg("SSE client connected")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			c.Writer.Flush()
			return true
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			c.Writer.Flush()
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("SSE client disconnected")
			return false
		}
	})
}
