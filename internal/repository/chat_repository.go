package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-fanout/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *PostgresChatRepo {
	return &PostgresChatRepo{
		pool: pool,
	}
}

func (r *PostgresChatRepo) GetChat(ctx context.Context, chatName string) (*models.Chat, error) {
	const query = `
		SELECT chat_name, image_url, is_group, created_at, last_modified_at
		FROM chats
		WHERE chat_name = $1`

	chat := &models.Chat{}
	err := r.pool.QueryRow(ctx, query, chatName).Scan(
		&chat.ChatName,
		&chat.ImageURL,
		&chat.IsGroup,
		&chat.CreatedAt,
		&chat.LastModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", chatName, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load chat %s: %w", chatName, err)
	}
	return chat, nil
}

// CreateChat inserts the chat and, for group chats, its members in one
// transaction.
func (r *PostgresChatRepo) CreateChat(ctx context.Context, chat *models.Chat, memberIDs []int64) error {
	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.LastModifiedAt = now

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insertChat = `
			INSERT INTO chats (chat_name, image_url, is_group, created_at, last_modified_at)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.Exec(ctx, insertChat, chat.ChatName, chat.ImageURL, chat.IsGroup, chat.CreatedAt, chat.LastModifiedAt); err != nil {
			return fmt.Errorf("failed to insert chat %s: %w", chat.ChatName, err)
		}
		if !chat.IsGroup {
			return nil
		}

		const insertMember = `
			INSERT INTO chat_members (chat_id, user_id, joined_at, last_modified_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (chat_id, user_id) DO NOTHING`
		for _, userID := range memberIDs {
			if _, err := tx.Exec(ctx, insertMember, chat.ChatName, userID, now); err != nil {
				return fmt.Errorf("failed to add member %d to chat %s: %w", userID, chat.ChatName, err)
			}
		}
		return nil
	})
}

var _ ChatRepo = (*PostgresChatRepo)(nil)
