package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence-service/internal/models"
	"presence-service/internal/presence"
	"presence-service/internal/repositories"
	"presence-service/internal/telemetry"
)

// PresenceLookup reports whether a user holds a live connection on this node.
type PresenceLookup interface {
	IsOnline(userID string) bool
}

// FriendHandler serves the friend list and presence queries.
type FriendHandler struct {
	friends repositories.FriendStore
	local   PresenceLookup
	mirror  presence.Mirror
	audit   *telemetry.AuditEmitter
}

// NewFriendHandler builds a FriendHandler. mirror and audit may be nil.
func NewFriendHandler(friends repositories.FriendStore, local PresenceLookup, mirror presence.Mirror, audit *telemetry.AuditEmitter) *FriendHandler {
	return &FriendHandler{friends: friends, local: local, mirror: mirror, audit: audit}
}

// ListFriends returns the caller's friends with their online flags.
func (h *FriendHandler) ListFriends(c *gin.Context) {
	userID := userIDFromContext(c)

	friends, err := h.friends.ListFriends(c.Request.Context(), userID)
	if err != nil {
		log.Printf("list friends failed request_id=%s user_id=%s: %v", requestIDFromContext(c), userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load friends"})
		return
	}
	if friends == nil {
		friends = []models.Friend{}
	}

	for i := range friends {
		friends[i].IsOnline = h.online(c, friends[i].ID, friends[i].IsOnline)
	}

	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// GetPresence reports whether :user_id is online. Only the user and their
// friends may ask.
func (h *FriendHandler) GetPresence(c *gin.Context) {
	userID := userIDFromContext(c)
	targetID := c.Param("user_id")

	if targetID != userID {
		ok, err := h.friends.AreFriends(c.Request.Context(), userID, targetID)
		if err != nil {
			log.Printf("friend check failed request_id=%s user_id=%s target_id=%s: %v", requestIDFromContext(c), userID, targetID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check friendship"})
			return
		}
		if !ok {
			h.audit.Emit(c.Request.Context(), requestIDFromContext(c), userID, telemetry.AuditPayload{
				Action:  "presence_lookup",
				Outcome: "forbidden",
				Target:  targetID,
			})
			c.JSON(http.StatusForbidden, gin.H{"error": "not friends"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "online": h.online(c, targetID, false)})
}

// online prefers the local registry, then the shared mirror, then the stored flag.
func (h *FriendHandler) online(c *gin.Context, userID string, stored bool) bool {
	if h.local != nil && h.local.IsOnline(userID) {
		return true
	}
	if h.mirror == nil {
		return stored
	}
	ok, err := h.mirror.IsOnline(c.Request.Context(), userID)
	if err != nil {
		log.Printf("presence mirror lookup failed user_id=%s: %v", userID, err)
		return stored
	}
	return ok
}
