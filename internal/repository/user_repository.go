package repository

import (
	"context"
	"errors"
	"fmt"

	"chat-fanout/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{
		pool: pool,
	}
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, user *models.User) error {
	const query = `
		INSERT INTO users (email, name, role_name, disabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, last_modified_at`

	err := r.pool.QueryRow(ctx, query,
		user.Email,
		user.Name,
		user.RoleName,
		user.Disabled,
	).Scan(&user.ID, &user.CreatedAt, &user.LastModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, email, name, role_name, disabled, created_at, last_modified_at
		FROM users
		WHERE id = $1`

	user := &models.User{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.RoleName,
		&user.Disabled,
		&user.CreatedAt,
		&user.LastModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

var _ UserRepository = (*PostgresUserRepo)(nil)
