package client

import (
	"sync"
	"time"

	"presence-service/internal/models"
)

// EntryState tracks an entry of the local conversation view.
type EntryState string

const (
	EntryPending   EntryState = "pending"
	EntryConfirmed EntryState = "confirmed"
	EntryFailed    EntryState = "failed"
)

// Entry is one message as shown locally.
type Entry struct {
	Message models.Message
	State   EntryState
}

// Conversation reconciles optimistic local copies with the server's records
// for a single peer. Server records are deduplicated by id; an optimistic copy
// is replaced by the record carrying the same clientMessageId.
type Conversation struct {
	mu      sync.Mutex
	self    string
	peer    string
	entries []Entry
	now     func() time.Time
}

// NewConversation creates the view of self's conversation with peer.
func NewConversation(self, peer string) *Conversation {
	return &Conversation{self: self, peer: peer, now: time.Now}
}

// AddOptimistic appends a pending copy of an outgoing message.
func (c *Conversation) AddOptimistic(clientMessageID, content string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		Message: models.Message{
			From:            c.self,
			To:              c.peer,
			Content:         content,
			Timestamp:       c.now().UTC(),
			ClientMessageID: clientMessageID,
		},
		State: EntryPending,
	}
	c.entries = append(c.entries, entry)
	return entry
}

// Apply merges a server record. It reports false when the record belongs to
// another conversation or was already applied.
func (c *Conversation) Apply(msg models.Message) bool {
	if !c.belongs(msg) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if msg.ID != "" && e.Message.ID == msg.ID {
			return false
		}
	}
	if msg.ClientMessageID != "" {
		for i, e := range c.entries {
			if e.Message.ID == "" && e.Message.ClientMessageID == msg.ClientMessageID {
				c.entries[i] = Entry{Message: msg, State: EntryConfirmed}
				return true
			}
		}
	}
	c.entries = append(c.entries, Entry{Message: msg, State: EntryConfirmed})
	return true
}

// Load applies a fetched history page.
func (c *Conversation) Load(history []models.Message) {
	for _, msg := range history {
		c.Apply(msg)
	}
}

// MarkFailed flags the pending copy with clientMessageID as failed.
func (c *Conversation) MarkFailed(clientMessageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.State == EntryPending && e.Message.ClientMessageID == clientMessageID {
			c.entries[i].State = EntryFailed
			return true
		}
	}
	return false
}

// Messages returns a copy of the entries in display order.
func (c *Conversation) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

func (c *Conversation) belongs(msg models.Message) bool {
	return (msg.From == c.self && msg.To == c.peer) || (msg.From == c.peer && msg.To == c.self)
}
