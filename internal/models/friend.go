package models

import "time"

// Friend is an entry of a user's friend list with its presence flags.
type Friend struct {
	ID       string     `db:"id" bson:"_id" json:"id"`
	FullName string     `db:"full_name" bson:"fullName" json:"fullName"`
	Avatar   string     `db:"avatar" bson:"avatar,omitempty" json:"avatar,omitempty"`
	IsOnline bool       `db:"is_online" bson:"isOnline" json:"isOnline"`
	LastSeen *time.Time `db:"last_seen" bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`
}
