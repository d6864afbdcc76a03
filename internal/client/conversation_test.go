package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-service/internal/client"
	"presence-service/internal/models"
)

func TestConversationReplacesOptimisticCopy(t *testing.T) {
	conv := client.NewConversation("alice", "bob")
	conv.AddOptimistic("abc123", "hi")

	entries := conv.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, client.EntryPending, entries[0].State)

	applied := conv.Apply(models.Message{ID: "m1", From: "alice", To: "bob", Content: "hi", Status: models.StatusSent, ClientMessageID: "abc123", Timestamp: time.Now()})
	assert.True(t, applied)

	entries = conv.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, client.EntryConfirmed, entries[0].State)
}

func TestConversationDeduplicatesByID(t *testing.T) {
	conv := client.NewConversation("alice", "bob")
	msg := models.Message{ID: "m1", From: "bob", To: "alice", Content: "hey"}

	assert.True(t, conv.Apply(msg))
	assert.False(t, conv.Apply(msg))
	conv.Load([]models.Message{msg, {ID: "m2", From: "alice", To: "bob", Content: "yo"}})

	entries := conv.Messages()
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, "m2", entries[1].Message.ID)
}

func TestConversationIgnoresOtherPeers(t *testing.T) {
	conv := client.NewConversation("alice", "bob")
	assert.False(t, conv.Apply(models.Message{ID: "m1", From: "carol", To: "alice", Content: "psst"}))
	assert.Empty(t, conv.Messages())
}

func TestConversationMarkFailed(t *testing.T) {
	conv := client.NewConversation("alice", "bob")
	conv.AddOptimistic("c1", "first")
	conv.AddOptimistic("c2", "second")

	assert.True(t, conv.MarkFailed("c2"))
	assert.False(t, conv.MarkFailed("missing"))

	entries := conv.Messages()
	assert.Equal(t, client.EntryPending, entries[0].State)
	assert.Equal(t, client.EntryFailed, entries[1].State)
}
