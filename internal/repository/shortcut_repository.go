package repository

import (
	"context"
	"fmt"

	"chat-fanout/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresShortcutRepo struct {
	pool *pgxpool.Pool
}

func NewShortcutRepo(pool *pgxpool.Pool) *PostgresShortcutRepo {
	return &PostgresShortcutRepo{
		pool: pool,
	}
}

func (r *PostgresShortcutRepo) UsersWithoutShortcuts(ctx context.Context) ([]int64, error) {
	const query = `
		SELECT u.id
		FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM reply_shortcuts s WHERE s.user_id = u.id)
		ORDER BY u.id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users without shortcuts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// CreateShortcuts inserts shortcuts for userID, skipping any the user already
// has.
func (r *PostgresShortcutRepo) CreateShortcuts(ctx context.Context, userID int64, shortcuts []models.ReplyShortcut) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO reply_shortcuts (user_id, shortcut, reply)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, shortcut) DO NOTHING`
		for _, s := range shortcuts {
			if _, err := tx.Exec(ctx, query, userID, s.Shortcut, s.Reply); err != nil {
				return fmt.Errorf("failed to insert shortcut %s for user %d: %w", s.Shortcut, userID, err)
			}
		}
		return nil
	})
}

var _ ShortcutRepo = (*PostgresShortcutRepo)(nil)
