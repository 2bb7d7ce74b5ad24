package register

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

const sessionColumns = `id, register_id, user_id, warehouse_id, opening_amount, closing_amount, expected_amount,
variance, status, opened_at, closed_at, COALESCE(notes, '')`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var status string
	err := row.Scan(&s.ID, &s.RegisterID, &s.OperatorID, &s.WarehouseID, &s.OpeningAmount, &s.ClosingAmount,
		&s.ExpectedAmount, &s.Variance, &status, &s.OpenedAt, &s.ClosedAt, &s.Notes)
	s.Status = SessionStatus(status)
	return s, err
}

func (r *Repository) GetRegister(ctx context.Context, id int64) (Register, error) {
	var reg Register
	err := r.pool.QueryRow(ctx, `SELECT id, warehouse_id, name, COALESCE(code, '') FROM registers WHERE id = $1`, id).
		Scan(&reg.ID, &reg.WarehouseID, &reg.Name, &reg.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return Register{}, ErrRegisterNotFound
	}
	return reg, err
}

func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM register_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

func (r *Repository) FindOpenSession(ctx context.Context, operatorID int64) (Session, bool, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM register_sessions
WHERE user_id = $1 AND status = 'OPEN' LIMIT 1`, operatorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// InsertSession relies on the partial unique index on (user_id) WHERE status = 'OPEN'.
func (r *Repository) InsertSession(ctx context.Context, s Session) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO register_sessions (register_id, user_id, warehouse_id, opening_amount, status, opened_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		s.RegisterID, s.OperatorID, s.WarehouseID, s.OpeningAmount, string(s.Status), s.OpenedAt).Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return 0, ErrOpenSessionExists
		}
		return 0, err
	}
	return id, nil
}

func (r *Repository) CloseSession(ctx context.Context, s Session) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE register_sessions
SET status = 'CLOSED', closing_amount = $2, expected_amount = $3, variance = $4, closed_at = $5, notes = NULLIF($6, '')
WHERE id = $1 AND status = 'OPEN'`,
		s.ID, s.ClosingAmount, s.ExpectedAmount, s.Variance, s.ClosedAt, s.Notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) InsertExpense(ctx context.Context, e Expense) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO expenses (session_id, user_id, warehouse_id, category, amount, description, created_at)
SELECT $1, $2, $3, $4, $5, NULLIF($6, ''), $7
WHERE EXISTS (SELECT 1 FROM register_sessions WHERE id = $1 AND status = 'OPEN')
RETURNING id`,
		e.SessionID, e.OperatorID, e.WarehouseID, e.Category, e.Amount, e.Description, e.CreatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("session %d closed before expense was written: %w", e.SessionID, shared.ErrConflict)
	}
	return id, err
}

func (r *Repository) SumExpenses(ctx context.Context, sessionID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM expenses WHERE session_id = $1`, sessionID).Scan(&total)
	return total, err
}

func (r *Repository) SumSales(ctx context.Context, sessionID int64) (SalesTotals, error) {
	var totals SalesTotals
	err := r.pool.QueryRow(ctx, `SELECT
  COALESCE(SUM(amount) FILTER (WHERE payment_method = 'CASH'), 0),
  COALESCE(SUM(amount) FILTER (WHERE payment_method = 'CARD'), 0)
FROM transactions WHERE session_id = $1`, sessionID).Scan(&totals.Cash, &totals.Card)
	return totals, err
}
