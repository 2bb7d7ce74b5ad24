package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/db"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Repository implements RepositoryPort on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const movementColumns = `id, product_id, warehouse_id, quantity, movement_type, to_warehouse_id, session_id,
transaction_id, COALESCE(document_ref, ''), COALESCE(reason, ''), user_id, created_at`

func (t *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, warehouse_id, quantity, movement_type, to_warehouse_id, session_id, transaction_id, document_ref, reason, user_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
RETURNING id`,
		m.ProductID, m.WarehouseID, m.Quantity, string(m.Kind), m.CounterpartWarehouseID, m.SessionID,
		m.TransactionID, m.DocumentRef, m.Reason, nullInt(m.ActorID), m.CreatedAt).Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) && UniqueDocument(m.DocumentRef) {
			return 0, ErrDuplicateDocument
		}
		return 0, fmt.Errorf("insert movement: %w", err)
	}
	return id, nil
}

// AddProductStock moves the materialized product counter; it never reads the old value.
func (t *txRepository) AddProductStock(ctx context.Context, productID, delta int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE products SET current_stock = current_stock + $2, updated_at = NOW() WHERE id = $1`, productID, delta)
	return err
}

func (t *txRepository) AddWarehouseStock(ctx context.Context, productID, warehouseID, delta int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO product_stocks (product_id, warehouse_id, quantity, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET quantity = product_stocks.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		productID, warehouseID, delta)
	return err
}

// SumStock is the authoritative stock read.
func (r *Repository) SumStock(ctx context.Context, productID int64, warehouseID *int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0)::bigint FROM stock_movements
WHERE product_id = $1 AND deleted_at IS NULL AND ($2::bigint IS NULL OR warehouse_id = $2)`, productID, warehouseID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// History lists movements newest first.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE product_id = $1 AND deleted_at IS NULL
  AND ($2::bigint IS NULL OR warehouse_id = $2)
  AND ($3::timestamptz IS NULL OR created_at >= $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`, filter.ProductID, filter.WarehouseID, filter.Since, filter.Limit)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

func (r *Repository) HasDocument(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE document_ref = $1 AND deleted_at IS NULL)`, ref).Scan(&exists)
	return exists, err
}

func (r *Repository) MovementsByDocument(ctx context.Context, ref string) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE document_ref = $1 AND deleted_at IS NULL ORDER BY id`, ref)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

// UnbalancedTransfers groups transfer movements by document and keeps mismatched ones.
func (r *Repository) UnbalancedTransfers(ctx context.Context, since time.Time) ([]DocumentIntegrity, error) {
	rows, err := r.pool.Query(ctx, `SELECT document_ref,
  COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'TRANSFER_OUT'), 0)::bigint AS out_total,
  COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'TRANSFER_IN'), 0)::bigint AS in_total,
  COUNT(*)::int AS lines
FROM stock_movements
WHERE movement_type IN ('TRANSFER_OUT', 'TRANSFER_IN') AND deleted_at IS NULL
  AND document_ref IS NOT NULL AND created_at >= $1
GROUP BY document_ref
HAVING COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'TRANSFER_OUT'), 0)
     <> -COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'TRANSFER_IN'), 0)
ORDER BY document_ref`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []DocumentIntegrity
	for rows.Next() {
		var d DocumentIntegrity
		if err := rows.Scan(&d.DocumentRef, &d.OutTotal, &d.InTotal, &d.Lines); err != nil {
			return nil, err
		}
		d.Evaluate()
		result = append(result, d)
	}
	return result, rows.Err()
}

// RefreshMaterializedStock rewrites products.current_stock and product_stocks from movement sums.
func (r *Repository) RefreshMaterializedStock(ctx context.Context) (int64, error) {
	var changed int64
	err := r.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		tx := repo.(*txRepository).tx
		tag, err := tx.Exec(ctx, `WITH sums AS (
  SELECT product_id, SUM(quantity)::bigint AS total FROM stock_movements WHERE deleted_at IS NULL GROUP BY product_id
)
UPDATE products p SET current_stock = COALESCE(s.total, 0), updated_at = NOW()
FROM products p2 LEFT JOIN sums s ON s.product_id = p2.id
WHERE p.id = p2.id AND p.current_stock <> COALESCE(s.total, 0)`)
		if err != nil {
			return fmt.Errorf("refresh products: %w", err)
		}
		changed = tag.RowsAffected()
		_, err = tx.Exec(ctx, `INSERT INTO product_stocks (product_id, warehouse_id, quantity, updated_at)
SELECT product_id, warehouse_id, SUM(quantity)::bigint, NOW() FROM stock_movements
WHERE deleted_at IS NULL GROUP BY product_id, warehouse_id
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
WHERE product_stocks.quantity <> EXCLUDED.quantity`)
		if err != nil {
			return fmt.Errorf("refresh product stocks: %w", err)
		}
		return nil
	})
	return changed, err
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var result []Movement
	for rows.Next() {
		var m Movement
		var kind string
		var actor *int64
		if err := rows.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &m.Quantity, &kind, &m.CounterpartWarehouseID,
			&m.SessionID, &m.TransactionID, &m.DocumentRef, &m.Reason, &actor, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = MovementKind(kind)
		if actor != nil {
			m.ActorID = *actor
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
