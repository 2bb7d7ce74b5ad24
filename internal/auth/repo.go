package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindUser(ctx context.Context, id int64) (User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindUser fetches a user by id.
func (r *PGRepository) FindUser(ctx context.Context, id int64) (User, error) {
	var u User
	var role string
	err := r.pool.QueryRow(ctx, `SELECT id, username, role, is_active FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &role, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Role = shared.Role(role)
	return u, nil
}

var _ Repository = (*PGRepository)(nil)
