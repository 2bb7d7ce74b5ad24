package pos

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// PaymentMethod classifies a financial transaction.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "CASH"
	PaymentCard       PaymentMethod = "CARD"
	PaymentOnCredit   PaymentMethod = "ON_CREDIT"
	PaymentCollection PaymentMethod = "COLLECTION"
)

// IsSale reports whether the method settles a cart.
func (p PaymentMethod) IsSale() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentOnCredit:
		return true
	}
	return false
}

// StockStatus is the persisted step status of a sale's ledger writes.
type StockStatus string

const (
	StockPending StockStatus = "PENDING"
	StockPosted  StockStatus = "POSTED"
	StockPartial StockStatus = "PARTIAL"
	// StockNone marks transactions without stock effect, such as collections.
	StockNone StockStatus = "NONE"
)

// CartLine is one product in the cart with the price agreed at checkout.
type CartLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SaleInput is the complete checkout request.
type SaleInput struct {
	SessionID     int64
	CustomerID    *int64
	PaymentMethod PaymentMethod
	Lines         []CartLine
	// DocumentRef is an optional client key; a retry with the same key replays the first result.
	DocumentRef string
	Note        string
}

// TransactionItem is the frozen line snapshot stored with a transaction.
type TransactionItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Transaction is an immutable financial record.
type Transaction struct {
	ID            int64             `json:"id"`
	SessionID     *int64            `json:"session_id,omitempty"`
	ActorID       int64             `json:"user_id"`
	CustomerID    *int64            `json:"customer_id,omitempty"`
	WarehouseID   int64             `json:"warehouse_id"`
	Amount        decimal.Decimal   `json:"amount"`
	PaymentMethod PaymentMethod     `json:"payment_method"`
	Items         []TransactionItem `json:"items"`
	DocumentRef   string            `json:"document_ref"`
	StockStatus   StockStatus       `json:"stock_status"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Customer carries the owed balance and loyalty points.
type Customer struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	LoyaltyPoints int64           `json:"loyalty_points"`
}

// LoyaltySettings configures point accrual.
type LoyaltySettings struct {
	MoneyToPointRatio decimal.Decimal `json:"money_to_point_ratio"`
	PointValue        decimal.Decimal `json:"point_value"`
	MinSpending       decimal.Decimal `json:"min_spending"`
	Active            bool            `json:"is_active"`
}

// DefaultLoyaltySettings applies when no program has been configured.
func DefaultLoyaltySettings() LoyaltySettings {
	return LoyaltySettings{
		MoneyToPointRatio: decimal.NewFromInt(100),
		PointValue:        decimal.NewFromInt(1),
		MinSpending:       decimal.Zero,
	}
}

// EarnedPoints returns floor(amount / ratio) when the program applies, else zero.
func (s LoyaltySettings) EarnedPoints(amount decimal.Decimal) int64 {
	if !s.Active || !s.MoneyToPointRatio.IsPositive() || amount.LessThan(s.MinSpending) || !amount.IsPositive() {
		return 0
	}
	return amount.Div(s.MoneyToPointRatio).Floor().IntPart()
}

// LoyaltyEntryType classifies a loyalty log entry.
type LoyaltyEntryType string

const (
	LoyaltyEarn       LoyaltyEntryType = "EARN"
	LoyaltyRedeem     LoyaltyEntryType = "REDEEM"
	LoyaltyAdjustment LoyaltyEntryType = "ADJUSTMENT"
)

// LoyaltyTransaction is an append-only accrual entry.
type LoyaltyTransaction struct {
	ID               int64            `json:"id"`
	CustomerID       int64            `json:"customer_id"`
	TransactionID    *int64           `json:"transaction_id,omitempty"`
	Type             LoyaltyEntryType `json:"type"`
	Points           int64            `json:"points"`
	AmountEquivalent decimal.Decimal  `json:"amount_equivalent"`
	Description      string           `json:"description"`
	CreatedAt        time.Time        `json:"created_at"`
}

// SaleResult reports a completed sale. Partial is set when secondary writes failed.
type SaleResult struct {
	TransactionID int64                             `json:"transaction_id"`
	DocumentRef   string                            `json:"document_ref"`
	Amount        decimal.Decimal                   `json:"amount"`
	EarnedPoints  int64                             `json:"earned_points"`
	Warnings      []shared.InsufficientStockWarning `json:"warnings,omitempty"`
	Partial       *shared.PartialFailure            `json:"partial_failure,omitempty"`
	Replayed      bool                              `json:"replayed"`
}

// CollectionInput records a payment that reduces a customer's owed balance.
type CollectionInput struct {
	CustomerID  int64
	Amount      decimal.Decimal
	SessionID   *int64
	WarehouseID int64
	Note        string
}

// ReconcileResult summarises a reconcile pass over unposted sales.
type ReconcileResult struct {
	Checked  int `json:"checked"`
	Reposted int `json:"reposted"`
	Failed   int `json:"failed"`
}

// MethodTotal aggregates transactions of one payment method over a period.
type MethodTotal struct {
	Method PaymentMethod   `json:"payment_method"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

var (
	// ErrCustomerNotFound indicates the customer does not exist.
	ErrCustomerNotFound = fmt.Errorf("pos: customer %w", shared.ErrNotFound)
	// ErrTransactionNotFound indicates the transaction does not exist.
	ErrTransactionNotFound = fmt.Errorf("pos: transaction %w", shared.ErrNotFound)
)
