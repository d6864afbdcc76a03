package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror keeps a short-lived copy of who is online, so a node that dies
// without running its disconnect handlers stops reporting its users after the TTL.
type Mirror interface {
	Online(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// RedisMirror stores im:presence:<user> = <node id> with a TTL.
type RedisMirror struct {
	rdb    redis.Cmdable
	nodeID string
	ttl    time.Duration
}

// NewRedisMirror constructs a RedisMirror.
func NewRedisMirror(rdb redis.Cmdable, nodeID string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

func presenceKey(userID string) string { return "im:presence:" + userID }

// Online marks the user online on this node and starts the TTL.
func (m *RedisMirror) Online(ctx context.Context, userID string) error {
	return m.rdb.Set(ctx, presenceKey(userID), m.nodeID, m.ttl).Err()
}

// Refresh renews the TTL; called on every heartbeat.
func (m *RedisMirror) Refresh(ctx context.Context, userID string) error {
	ok, err := m.rdb.Expire(ctx, presenceKey(userID), m.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return m.Online(ctx, userID)
	}
	return nil
}

// Offline deletes the key only if this node still owns it.
func (m *RedisMirror) Offline(ctx context.Context, userID string) error {
	owner, err := m.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != m.nodeID {
		return nil
	}
	return m.rdb.Del(ctx, presenceKey(userID)).Err()
}

// IsOnline reports whether an unexpired key exists for the user.
func (m *RedisMirror) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := m.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
