// Package sqlite is the single-file message store used for local runs and
// tests. It implements the same repository interfaces as the Postgres repos.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"chat-fanout/internal/db"
	"chat-fanout/internal/models"
	"chat-fanout/internal/repository"
	"chat-fanout/internal/sequence"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

type Store struct {
	sqlDB *sql.DB
	seq   *sequence.Assigner
	log   *zap.Logger
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open migrates the database file at path and opens a store on it.
func Open(path string, seq *sequence.Assigner, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)

	if err := db.MigrateSQLite(cleanPath, log); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; sqlite would otherwise answer SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{sqlDB: sqlDB, seq: seq, log: log.Named("sqlite")}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping reports whether the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Create inserts m with the next sequence of its chat.
func (s *Store) Create(ctx context.Context, m *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.CreatedAt = now
	m.LastModifiedAt = now

	return s.seq.Do(ctx, m.ChatID, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			next, err := sequence.Next(ctx, txSequenceReader{tx: tx}, m.ChatID)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO messages (id, chat_id, sender_id, parent_message_id, chat_sequence, message, seen, is_file, timestamp, created_at, last_modified_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID,
				m.ChatID,
				m.SenderID,
				m.ParentMessageID,
				next,
				m.Body,
				m.Seen,
				m.IsFile,
				toMillis(m.Timestamp),
				toMillis(m.CreatedAt),
				toMillis(m.LastModifiedAt),
			)
			if err != nil {
				s.log.Warn("failed to save message", zap.String("id", m.ID), zap.String("chat", m.ChatID), zap.Error(err))
				return mapInsertError(m.ID, err)
			}
			m.Sequence = next
			return nil
		})
	})
}

func (s *Store) ListByChat(ctx context.Context, chatID string, afterSequence int64, limit int) ([]*models.Message, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, parent_message_id, chat_sequence, message, seen, is_file, timestamp, created_at, last_modified_at
		FROM messages
		WHERE chat_id = ? AND chat_sequence > ?
		ORDER BY chat_sequence ASC
		LIMIT ?`, chatID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		var (
			m                         models.Message
			parent                    sql.NullString
			ts, createdAt, modifiedAt int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &parent, &m.Sequence, &m.Body, &m.Seen, &m.IsFile, &ts, &createdAt, &modifiedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if parent.Valid {
			p := parent.String
			m.ParentMessageID = &p
		}
		m.Timestamp = fromMillis(ts)
		m.CreatedAt = fromMillis(createdAt)
		m.LastModifiedAt = fromMillis(modifiedAt)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) GetChat(ctx context.Context, chatName string) (*models.Chat, error) {
	var (
		chat                  models.Chat
		image                 sql.NullString
		createdAt, modifiedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT chat_name, image_url, is_group, created_at, last_modified_at FROM chats WHERE chat_name = ?`,
		chatName,
	).Scan(&chat.ChatName, &image, &chat.IsGroup, &createdAt, &modifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if image.Valid {
		v := image.String
		chat.ImageURL = &v
	}
	chat.CreatedAt = fromMillis(createdAt)
	chat.LastModifiedAt = fromMillis(modifiedAt)
	return &chat, nil
}

// CreateChat inserts chat and, for group chats, its members.
func (s *Store) CreateChat(ctx context.Context, chat *models.Chat, memberIDs []int64) error {
	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.LastModifiedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chats (chat_name, image_url, is_group, created_at, last_modified_at) VALUES (?, ?, ?, ?, ?)`,
			chat.ChatName, chat.ImageURL, chat.IsGroup, toMillis(now), toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("insert chat %s: %w", chat.ChatName, err)
		}
		if !chat.IsGroup {
			return nil
		}
		for _, userID := range memberIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO chat_members (chat_id, user_id, joined_at, last_modified_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT (chat_id, user_id) DO NOTHING`,
				chat.ChatName, userID, toMillis(now), toMillis(now),
			)
			if err != nil {
				return fmt.Errorf("add member %d to %s: %w", userID, chat.ChatName, err)
			}
		}
		return nil
	})
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (email, name, role_name, disabled, created_at, last_modified_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.Email, user.Name, user.RoleName, user.Disabled, toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	user.CreatedAt = fromMillis(toMillis(now))
	user.LastModifiedAt = user.CreatedAt
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var (
		user                  models.User
		createdAt, modifiedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, email, name, role_name, disabled, created_at, last_modified_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.RoleName, &user.Disabled, &createdAt, &modifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.LastModifiedAt = fromMillis(modifiedAt)
	return &user, nil
}

func (s *Store) UsersWithoutShortcuts(ctx context.Context) ([]int64, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT u.id FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM reply_shortcuts r WHERE r.user_id = u.id)
		ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("list users without shortcuts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CreateShortcuts(ctx context.Context, userID int64, shortcuts []models.ReplyShortcut) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sc := range shortcuts {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO reply_shortcuts (user_id, shortcut, reply) VALUES (?, ?, ?)
				 ON CONFLICT (user_id, shortcut) DO NOTHING`,
				userID, sc.Shortcut, sc.Reply,
			)
			if err != nil {
				return fmt.Errorf("insert shortcut %s for user %d: %w", sc.Shortcut, userID, err)
			}
		}
		return nil
	})
}

type txSequenceReader struct {
	tx *sql.Tx
}

func (r txSequenceReader) LatestSequence(ctx context.Context, chatID string) (int64, bool, error) {
	var latest int64
	err := r.tx.QueryRowContext(ctx,
		`SELECT chat_sequence FROM messages WHERE chat_id = ? ORDER BY chat_sequence DESC LIMIT 1`, chatID,
	).Scan(&latest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return latest, true, nil
}

func mapInsertError(id string, err error) error {
	if isDuplicateID(err) {
		return fmt.Errorf("message %s: %w", id, repository.ErrDuplicateMessage)
	}
	return fmt.Errorf("insert message %s: %w", id, err)
}

func isDuplicateID(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed: messages.id")
}

var (
	_ repository.MessageRepo    = (*Store)(nil)
	_ repository.ChatRepo       = (*Store)(nil)
	_ repository.UserRepository = (*Store)(nil)
	_ repository.ShortcutRepo   = (*Store)(nil)
)
