package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"presence-service/internal/models"
)

// MessageRepo is a sqlx-backed MessageStore.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with status sent and a server-assigned id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	msg := models.Message{
		ID:              uuid.NewString(),
		From:            in.From,
		To:              in.To,
		Content:         in.Content,
		Status:          models.StatusSent,
		Timestamp:       time.Now().UTC(),
		ClientMessageID: in.ClientMessageID,
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO messages (id, from_user, to_user, content, status, created_at, client_message_id)
        VALUES (:id, :from_user, :to_user, :content, :status, :created_at, :client_message_id)`, msg)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

// ListConversation returns messages exchanged between two users, oldest first.
func (r *MessageRepo) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	query := `SELECT id, from_user, to_user, content, status, created_at, client_message_id
        FROM messages
        WHERE (from_user=$1 AND to_user=$2) OR (from_user=$2 AND to_user=$1)
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, userA, userB); err != nil {
		return nil, errors.Wrap(err, "querying conversation")
	}
	return msgs, nil
}
