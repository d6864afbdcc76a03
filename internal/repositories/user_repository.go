package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"presence-service/internal/models"
)

// UserRepo is a sqlx implementation of PresenceStore and FriendStore.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// SetOnline updates the durable presence columns, creating the user row when missing.
func (r *UserRepo) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, is_online, last_seen) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET is_online = EXCLUDED.is_online, last_seen = COALESCE(EXCLUDED.last_seen, users.last_seen)`,
		userID, online, lastSeen)
	return errors.Wrap(err, "updating presence")
}

// ListFriends returns the friends of a user with their presence flags.
func (r *UserRepo) ListFriends(ctx context.Context, userID string) ([]models.Friend, error) {
	query := `SELECT u.id, u.full_name, u.avatar, u.is_online, u.last_seen
        FROM friendships f
        JOIN users u ON u.id = f.friend_id
        WHERE f.user_id=$1
        ORDER BY u.full_name ASC`
	friends := []models.Friend{}
	if err := r.db.SelectContext(ctx, &friends, query, userID); err != nil {
		return nil, errors.Wrap(err, "querying friends")
	}
	return friends, nil
}

// AreFriends checks whether friendID is in userID's friend list.
func (r *UserRepo) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id=$1 AND friend_id=$2)`, userID, friendID)
	return exists, errors.Wrap(err, "checking friendship")
}
