package transfer

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository resolves warehouses on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1 AND is_active)`, id).Scan(&ok)
	return ok, err
}
