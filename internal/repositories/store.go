package repositories

import (
	"context"
	"time"

	"presence-service/internal/models"
)

// MessageStore persists direct messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error)
}

// PresenceStore records the durable online flag and last-seen time of a user.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error
}

// FriendStore answers friend list queries.
type FriendStore interface {
	ListFriends(ctx context.Context, userID string) ([]models.Friend, error)
	AreFriends(ctx context.Context, userID, friendID string) (bool, error)
}
