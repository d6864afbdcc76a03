package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence-service/internal/models"
	"presence-service/internal/repositories"
	"presence-service/internal/telemetry"
	"presence-service/internal/ws"
)

// MessageHandler serves conversation history and the REST send path.
type MessageHandler struct {
	messages repositories.MessageStore
	hub      *ws.Hub
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. audit may be nil.
func NewMessageHandler(messages repositories.MessageStore, hub *ws.Hub, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{messages: messages, hub: hub, audit: audit}
}

// GetConversation returns the messages exchanged with :user_id, oldest first.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	userID := userIDFromContext(c)
	peerID := c.Param("user_id")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	msgs, err := h.messages.ListConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		log.Printf("list conversation failed request_id=%s user_id=%s peer_id=%s: %v", requestIDFromContext(c), userID, peerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a message on behalf of the caller through the relay.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID := userIDFromContext(c)

	var req struct {
		To              string `json:"to" binding:"required"`
		Content         string `json:"content" binding:"required"`
		ClientMessageID string `json:"clientMessageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	msg, err := h.hub.SendMessage(c.Request.Context(), userID, models.SendMessagePayload{
		From:            userID,
		To:              req.To,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	entry := telemetry.AuditPayload{Action: "message_post", Target: req.To}
	switch {
	case err == nil:
		entry.Outcome = "sent"
		entry.Detail = msg.ID
		c.JSON(http.StatusCreated, msg)
	case errors.Is(err, ws.ErrInvalidMessage), errors.Is(err, ws.ErrSenderMismatch):
		entry.Outcome = "rejected"
		entry.Detail = err.Error()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		entry.Outcome = "failed"
		log.Printf("send message failed request_id=%s user_id=%s: %v", requestIDFromContext(c), userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
	}
	h.audit.Emit(c.Request.Context(), requestIDFromContext(c), userID, entry)
}
