package models

import (
	"time"
)

// Message is one persisted chat message. Sequence is assigned at insert and
// is unique and gap-free within ChatID.
type Message struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chat_id"`
	SenderID        int64     `json:"sender_id"`
	ParentMessageID *string   `json:"parent_message_id"`
	Sequence        int64     `json:"chat_sequence"`
	Body            string    `json:"message"`
	Seen            bool      `json:"seen"`
	IsFile          bool      `json:"is_file"`
	Timestamp       time.Time `json:"timestamp"`
	CreatedAt       time.Time `json:"created_at"`
	LastModifiedAt  time.Time `json:"last_modified_at"`
}
