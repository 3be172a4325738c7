package repository

import (
	"context"
	"errors"

	"chat-fanout/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateMessage is returned when a message id is already taken.
	// Existing rows are never overwritten.
	ErrDuplicateMessage = errors.New("message id already exists")
)

// MessageRepo persists chat messages. Create assigns Message.Sequence
// atomically with the insert.
type MessageRepo interface {
	Create(ctx context.Context, message *models.Message) error
	ListByChat(ctx context.Context, chatID string, afterSequence int64, limit int) ([]*models.Message, error)
}

type ChatRepo interface {
	GetChat(ctx context.Context, chatName string) (*models.Chat, error)
	CreateChat(ctx context.Context, chat *models.Chat, memberIDs []int64) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type ShortcutRepo interface {
	UsersWithoutShortcuts(ctx context.Context) ([]int64, error)
	CreateShortcuts(ctx context.Context, userID int64, shortcuts []models.ReplyShortcut) error
}
