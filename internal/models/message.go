package models

import "time"

// MessageStatus is the delivery state of a direct message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Message represents a persisted direct message between two users.
type Message struct {
	ID              string        `db:"id" bson:"_id" json:"id"`
	From            string        `db:"from_user" bson:"from" json:"from"`
	To              string        `db:"to_user" bson:"to" json:"to"`
	Content         string        `db:"content" bson:"content" json:"content"`
	Status          MessageStatus `db:"status" bson:"status" json:"status"`
	Timestamp       time.Time     `db:"created_at" bson:"timestamp" json:"timestamp"`
	ClientMessageID string        `db:"client_message_id" bson:"clientMessageId,omitempty" json:"clientMessageId,omitempty"`
}

// NewMessage carries the fields a sender controls when creating a message.
type NewMessage struct {
	From            string
	To              string
	Content         string
	ClientMessageID string
}
