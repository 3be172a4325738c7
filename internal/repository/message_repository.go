package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-fanout/internal/models"
	"chat-fanout/internal/sequence"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	messagesPrimaryKey    = "messages_pkey"
)

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
	seq  *sequence.Assigner
	log  *zap.Logger
}

func NewMessagesRepo(pool *pgxpool.Pool, seq *sequence.Assigner, log *zap.Logger) *PostgresMessagesRepo {
	return &PostgresMessagesRepo{
		pool: pool,
		seq:  seq,
		log:  log.Named("repo"),
	}
}

// Create inserts m with the next sequence of its chat. The in-process
// assigner orders writers of this instance; the advisory lock orders writers
// across instances sharing the database.
func (r *PostgresMessagesRepo) Create(ctx context.Context, m *models.Message) error {
	now := time.Now().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.CreatedAt = now
	m.LastModifiedAt = now

	return r.seq.Do(ctx, m.ChatID, func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, m.ChatID); err != nil {
				return fmt.Errorf("lock chat %s: %w", m.ChatID, err)
			}

			seq, err := sequence.Next(ctx, pgSequenceReader{tx: tx}, m.ChatID)
			if err != nil {
				return err
			}
			m.Sequence = seq

			const query = `
				INSERT INTO messages (id, chat_id, sender_id, parent_message_id, chat_sequence, message, seen, is_file, timestamp, created_at, last_modified_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

			_, err = tx.Exec(ctx, query,
				m.ID,
				m.ChatID,
				m.SenderID,
				m.ParentMessageID,
				m.Sequence,
				m.Body,
				m.Seen,
				m.IsFile,
				m.Timestamp,
				m.CreatedAt,
				m.LastModifiedAt,
			)
			if err != nil {
				r.log.Warn("failed to save message", zap.String("id", m.ID), zap.String("chat", m.ChatID), zap.Error(err))
				return mapInsertError(m.ID, err)
			}
			return nil
		})
	})
}

func (r *PostgresMessagesRepo) ListByChat(ctx context.Context, chatID string, afterSequence int64, limit int) ([]*models.Message, error) {
	query := `
        SELECT id, chat_id, sender_id, parent_message_id, chat_sequence, message, seen, is_file, timestamp, created_at, last_modified_at
        FROM messages
        WHERE chat_id = $1
          AND chat_sequence > $2
        ORDER BY chat_sequence ASC
        LIMIT $3
    `

	rows, err := r.pool.Query(ctx, query, chatID, afterSequence, limit)
	if err != nil {
		r.log.Error("history query failed", zap.String("chat", chatID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		m := &models.Message{}
		err := rows.Scan(
			&m.ID,
			&m.ChatID,
			&m.SenderID,
			&m.ParentMessageID,
			&m.Sequence,
			&m.Body,
			&m.Seen,
			&m.IsFile,
			&m.Timestamp,
			&m.CreatedAt,
			&m.LastModifiedAt,
		)
		if err != nil {
			r.log.Error("history scan failed", zap.Error(err))
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

type pgSequenceReader struct {
	tx pgx.Tx
}

func (r pgSequenceReader) LatestSequence(ctx context.Context, chatID string) (int64, bool, error) {
	const query = `SELECT chat_sequence FROM messages WHERE chat_id = $1 ORDER BY chat_sequence DESC LIMIT 1`

	var latest int64
	err := r.tx.QueryRow(ctx, query, chatID).Scan(&latest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return latest, true, nil
}

func mapInsertError(id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == messagesPrimaryKey:
			return fmt.Errorf("message %s: %w", id, ErrDuplicateMessage)
		case pgErr.Code == pgForeignKeyViolation:
			return fmt.Errorf("message %s references a missing row (%s): %w", id, pgErr.ConstraintName, err)
		}
	}
	return fmt.Errorf("insert message %s: %w", id, err)
}

var _ MessageRepo = (*PostgresMessagesRepo)(nil)
