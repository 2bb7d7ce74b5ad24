package stockcount

import (
	"fmt"
	"time"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Status tracks the count workflow.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal reports whether no further transition or edit is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// StockCount is a physical inventory audit of one warehouse.
type StockCount struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	WarehouseID int64      `json:"warehouse_id"`
	Status      Status     `json:"status"`
	Note        string     `json:"note,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Items       []Item     `json:"items,omitempty"`
}

// Item holds the frozen expected stock next to the counted values.
type Item struct {
	ID                int64     `json:"id"`
	CountID           int64     `json:"count_id"`
	ProductID         int64     `json:"product_id"`
	ExpectedStock     int64     `json:"expected_stock"`
	CountedStock      int64     `json:"counted_stock"`
	DefectiveQuantity int64     `json:"defective_quantity"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Variance is the net ledger adjustment for the item. Defective units are not ledgered separately.
func (i Item) Variance() int64 {
	return i.CountedStock - i.ExpectedStock
}

// CreateInput opens a new count.
type CreateInput struct {
	Name        string
	WarehouseID int64
	Note        string
}

// RecordInput captures counted values for one item.
type RecordInput struct {
	ItemID    int64
	Counted   int64
	Defective int64
}

// ApprovalResult reports the ledger adjustments emitted on approval.
type ApprovalResult struct {
	CountID  int64                  `json:"count_id"`
	Adjusted int                    `json:"adjusted"`
	Errors   int                    `json:"errors"`
	Skipped  int                    `json:"skipped"`
	Partial  *shared.PartialFailure `json:"partial_failure,omitempty"`
}

// adjustmentRef is the document reference of an approval adjustment. The ledger
// accepts one movement per reference, so reposting never doubles an adjustment.
func adjustmentRef(countID, itemID int64) string {
	return fmt.Sprintf("%s%d-%d", ledger.CountAdjustmentPrefix, countID, itemID)
}

var (
	// ErrCountNotFound indicates the count does not exist.
	ErrCountNotFound = fmt.Errorf("stockcount: count %w", shared.ErrNotFound)
	// ErrItemNotFound indicates the count item does not exist.
	ErrItemNotFound = fmt.Errorf("stockcount: item %w", shared.ErrNotFound)
)
