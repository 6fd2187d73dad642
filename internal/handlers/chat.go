package handlers

import (
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

// Ask answers an officer question from similar stored issues only.
// POST /api/chat
func (h *ChatHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	answer, err := h.chat.Ask(c.Request.Context(), req.Question)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, answer)
}
