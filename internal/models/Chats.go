package models

import (
	"time"
)

// Chat is identified by its name. Direct chats use a composed pair of user
// ids as the name; group chats use any string.
type Chat struct {
	ChatName       string    `json:"chat_name"`
	ImageURL       *string   `json:"image_url"`
	IsGroup        bool      `json:"is_group"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}
