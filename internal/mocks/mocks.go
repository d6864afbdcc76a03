package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"presence-service/internal/models"
	"presence-service/internal/presence"
	"presence-service/internal/repositories"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageStoreMock) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type PresenceStoreMock struct {
	mock.Mock
}

func (m *PresenceStoreMock) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	args := m.Called(ctx, userID, online, lastSeen)
	return args.Error(0)
}

type FriendStoreMock struct {
	mock.Mock
}

func (m *FriendStoreMock) ListFriends(ctx context.Context, userID string) ([]models.Friend, error) {
	args := m.Called(ctx, userID)
	var friends []models.Friend
	if val := args.Get(0); val != nil {
		friends = val.([]models.Friend)
	}
	return friends, args.Error(1)
}

func (m *FriendStoreMock) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	args := m.Called(ctx, userID, friendID)
	return args.Bool(0), args.Error(1)
}

type MirrorMock struct {
	mock.Mock
}

func (m *MirrorMock) Online(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MirrorMock) Refresh(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MirrorMock) Offline(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MirrorMock) IsOnline(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

var _ repositories.MessageStore = (*MessageStoreMock)(nil)
var _ repositories.PresenceStore = (*PresenceStoreMock)(nil)
var _ repositories.FriendStore = (*FriendStoreMock)(nil)
var _ presence.Mirror = (*MirrorMock)(nil)
