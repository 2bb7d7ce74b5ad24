package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const transactionColumns = `id, session_id, user_id, customer_id, warehouse_id, amount, payment_method, items,
document_ref, stock_status, COALESCE(notes, ''), created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var method, status string
	var items []byte
	if err := row.Scan(&t.ID, &t.SessionID, &t.ActorID, &t.CustomerID, &t.WarehouseID, &t.Amount, &method, &items,
		&t.DocumentRef, &status, &t.Notes, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.PaymentMethod = PaymentMethod(method)
	t.StockStatus = StockStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &t.Items); err != nil {
			return Transaction{}, fmt.Errorf("decode items of transaction %d: %w", t.ID, err)
		}
	}
	return t, nil
}

func (t *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	items, err := json.Marshal(txn.Items)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO transactions
(session_id, user_id, customer_id, warehouse_id, amount, payment_method, items, document_ref, stock_status, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
RETURNING id`,
		txn.SessionID, txn.ActorID, txn.CustomerID, txn.WarehouseID, txn.Amount, string(txn.PaymentMethod), items,
		txn.DocumentRef, string(txn.StockStatus), txn.Notes, txn.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (t *txRepository) AddCustomerBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE customers SET balance = balance + $2, updated_at = NOW() WHERE id = $1`, customerID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (t *txRepository) AddLoyaltyPoints(ctx context.Context, customerID, points int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE customers SET loyalty_points = loyalty_points + $2, updated_at = NOW() WHERE id = $1`, customerID, points)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (t *txRepository) InsertLoyaltyTransaction(ctx context.Context, lt LoyaltyTransaction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO loyalty_transactions
(customer_id, transaction_id, type, points, amount_equivalent, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		lt.CustomerID, lt.TransactionID, string(lt.Type), lt.Points, lt.AmountEquivalent, lt.Description, lt.CreatedAt).Scan(&id)
	return id, err
}

func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func (r *Repository) FindTransactionByDocument(ctx context.Context, ref string) (Transaction, bool, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE document_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

// ListUnposted returns sales whose ledger writes never reached POSTED, oldest first.
func (r *Repository) ListUnposted(ctx context.Context, before time.Time, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
WHERE stock_status IN ('PENDING', 'PARTIAL') AND created_at < $1
ORDER BY created_at, id
LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) TotalsByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT payment_method, COUNT(*), COALESCE(SUM(amount), 0) FROM transactions
WHERE created_at >= $1 AND created_at < $2
GROUP BY payment_method
ORDER BY payment_method`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MethodTotal
	for rows.Next() {
		var t MethodTotal
		var method string
		if err := rows.Scan(&method, &t.Count, &t.Amount); err != nil {
			return nil, err
		}
		t.Method = PaymentMethod(method)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) SetStockStatus(ctx context.Context, transactionID int64, status StockStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions SET stock_status = $2 WHERE id = $1`, transactionID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `SELECT id, name, COALESCE(phone, ''), balance, loyalty_points FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Balance, &c.LoyaltyPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

// GetLoyaltySettings falls back to DefaultLoyaltySettings when nothing is stored.
func (r *Repository) GetLoyaltySettings(ctx context.Context) (LoyaltySettings, error) {
	var s LoyaltySettings
	err := r.pool.QueryRow(ctx, `SELECT money_to_point_ratio, point_value, min_spending, is_active
FROM loyalty_settings ORDER BY id LIMIT 1`).Scan(&s.MoneyToPointRatio, &s.PointValue, &s.MinSpending, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultLoyaltySettings(), nil
	}
	return s, err
}

func (r *Repository) SaveLoyaltySettings(ctx context.Context, s LoyaltySettings) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO loyalty_settings (id, money_to_point_ratio, point_value, min_spending, is_active, updated_at)
VALUES (1, $1, $2, $3, $4, NOW())
ON CONFLICT (id) DO UPDATE SET money_to_point_ratio = EXCLUDED.money_to_point_ratio, point_value = EXCLUDED.point_value,
  min_spending = EXCLUDED.min_spending, is_active = EXCLUDED.is_active, updated_at = NOW()`,
		s.MoneyToPointRatio, s.PointValue, s.MinSpending, s.Active)
	return err
}
