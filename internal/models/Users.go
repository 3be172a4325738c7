package models

import (
	"time"
)

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	RoleName       string    `json:"role_name"`
	Disabled       bool      `json:"disabled"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

type ReplyShortcut struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Shortcut string `json:"shortcut"`
	Reply    string `json:"reply"`
}
