package register

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// SessionStatus enumerates register session states. CLOSED is terminal.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "OPEN"
	SessionClosed SessionStatus = "CLOSED"
)

// Register is a cash drawer bound to a warehouse.
type Register struct {
	ID          int64  `json:"id"`
	WarehouseID int64  `json:"warehouse_id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
}

// Session is one operator's trading period on a register.
type Session struct {
	ID             int64               `json:"id"`
	RegisterID     int64               `json:"register_id"`
	OperatorID     int64               `json:"user_id"`
	WarehouseID    int64               `json:"warehouse_id"`
	OpeningAmount  decimal.Decimal     `json:"opening_amount"`
	ClosingAmount  decimal.NullDecimal `json:"closing_amount"`
	ExpectedAmount decimal.NullDecimal `json:"expected_amount"`
	Variance       decimal.NullDecimal `json:"variance"`
	Status         SessionStatus       `json:"status"`
	OpenedAt       time.Time           `json:"opened_at"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"`
	Notes          string              `json:"notes,omitempty"`
}

// IsOpen reports whether the session still accepts sales and expenses.
func (s Session) IsOpen() bool {
	return s.Status == SessionOpen
}

// Expense is cash taken out of the drawer during a session.
type Expense struct {
	ID          int64           `json:"id"`
	SessionID   int64           `json:"session_id"`
	OperatorID  int64           `json:"user_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OpenInput opens a session.
type OpenInput struct {
	RegisterID    int64
	OpeningAmount decimal.Decimal
}

// ExpenseInput records an expense against an open session.
type ExpenseInput struct {
	SessionID   int64
	Category    string
	Amount      decimal.Decimal
	Description string
}

// CloseInput closes a session with the counted drawer cash.
type CloseInput struct {
	SessionID   int64
	CountedCash decimal.Decimal
	Notes       string
}

// SalesTotals sums session transactions by payment method.
type SalesTotals struct {
	Cash decimal.Decimal
	Card decimal.Decimal
}

// Summary is the read-only pre-close projection of a session.
type Summary struct {
	SessionID      int64           `json:"session_id"`
	OpeningAmount  decimal.Decimal `json:"opening_amount"`
	ExpenseTotal   decimal.Decimal `json:"expense_total"`
	CashSales      decimal.Decimal `json:"cash_sales"`
	CardSales      decimal.Decimal `json:"card_sales"`
	SalesTotal     decimal.Decimal `json:"sales_total"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
}

// VarianceLevel grades the absolute cash variance at close.
type VarianceLevel string

const (
	VarianceNormal   VarianceLevel = "normal"
	VarianceWarning  VarianceLevel = "warning"
	VarianceCritical VarianceLevel = "critical"
)

// CloseResult is returned by Close.
type CloseResult struct {
	Session  Session         `json:"session"`
	Summary  Summary         `json:"summary"`
	Variance decimal.Decimal `json:"variance"`
	Level    VarianceLevel   `json:"level"`
}

var (
	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = fmt.Errorf("register: session %w", shared.ErrNotFound)
	// ErrRegisterNotFound indicates the register does not exist.
	ErrRegisterNotFound = fmt.Errorf("register: register %w", shared.ErrNotFound)
	// ErrOpenSessionExists is returned by repositories when the one-open-session index rejects an insert.
	ErrOpenSessionExists = errors.New("register: operator already has an open session")
)
