package stockcount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/db"
)

// Repository implements RepositoryPort on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const countColumns = `id, name, warehouse_id, status, COALESCE(note, ''), created_by, created_at, completed_at`

func scanCount(row pgx.Row) (StockCount, error) {
	var c StockCount
	var status string
	err := row.Scan(&c.ID, &c.Name, &c.WarehouseID, &status, &c.Note, &c.CreatedBy, &c.CreatedAt, &c.CompletedAt)
	c.Status = Status(status)
	return c, err
}

const itemColumns = `id, count_id, product_id, expected_stock, counted_stock, defective_quantity, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.CountID, &i.ProductID, &i.ExpectedStock, &i.CountedStock, &i.DefectiveQuantity, &i.UpdatedAt)
	return i, err
}

func (r *Repository) Create(ctx context.Context, c StockCount) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_counts (name, warehouse_id, status, note, created_by, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6) RETURNING id`,
		c.Name, c.WarehouseID, string(c.Status), c.Note, c.CreatedBy, c.CreatedAt).Scan(&id)
	return id, err
}

func (r *Repository) Get(ctx context.Context, id int64) (StockCount, error) {
	c, err := scanCount(r.pool.QueryRow(ctx, `SELECT `+countColumns+` FROM stock_counts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockCount{}, ErrCountNotFound
	}
	return c, err
}

func (r *Repository) List(ctx context.Context, limit int) ([]StockCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+countColumns+` FROM stock_counts ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockCount
	for rows.Next() {
		c, err := scanCount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) Items(ctx context.Context, countID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_count_items WHERE count_id = $1 ORDER BY id`, countID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *Repository) GetItem(ctx context.Context, itemID int64) (Item, error) {
	i, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_count_items WHERE id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return i, err
}

func (r *Repository) ActiveProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE is_active AND deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
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

// InsertItems locks the count row so two populate calls cannot both see zero items.
func (r *Repository) InsertItems(ctx context.Context, countID int64, items []Item) (bool, error) {
	inserted := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM stock_counts WHERE id = $1 FOR UPDATE`, countID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCountNotFound
			}
			return err
		}
		if Status(status) != StatusOpen {
			return nil
		}
		var existing int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM stock_count_items WHERE count_id = $1`, countID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		rows := make([][]any, 0, len(items))
		for _, it := range items {
			rows = append(rows, []any{countID, it.ProductID, it.ExpectedStock, it.CountedStock, it.DefectiveQuantity, it.UpdatedAt})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"stock_count_items"},
			[]string{"count_id", "product_id", "expected_stock", "counted_stock", "defective_quantity", "updated_at"},
			pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy items: %w", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *Repository) UpdateItem(ctx context.Context, item Item, status Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_count_items i
SET counted_stock = $2, defective_quantity = $3, updated_at = $4
FROM stock_counts c
WHERE i.id = $1 AND c.id = i.count_id AND c.status = $5`,
		item.ID, item.CountedStock, item.DefectiveQuantity, item.UpdatedAt, string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) Transition(ctx context.Context, id int64, from []Status, to Status, completedAt *time.Time) (bool, error) {
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stock_counts SET status = $2, completed_at = COALESCE($3, completed_at)
WHERE id = $1 AND status = ANY($4)`, id, string(to), completedAt, states)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete relies on ON DELETE CASCADE for the items.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stock_counts WHERE id = $1 AND status = 'CANCELLED'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
