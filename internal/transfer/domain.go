package transfer

import (
	"fmt"
	"strings"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Line moves a quantity of one product.
type Line struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// Input is a whole transfer batch; it is validated before any movement is written.
type Input struct {
	SourceWarehouseID      int64
	DestinationWarehouseID int64
	Lines                  []Line
	Note                   string
}

// Result reports the posted document and its integrity check.
type Result struct {
	DocumentRef string                   `json:"document_ref"`
	Posted      int                      `json:"posted"`
	Integrity   ledger.DocumentIntegrity `json:"integrity"`
	Partial     *shared.PartialFailure   `json:"partial_failure,omitempty"`
}

// ShortageError rejects a batch in which some line exceeds source stock.
type ShortageError struct {
	Shortages []shared.InsufficientStockWarning
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, s.String())
	}
	return "transfer: insufficient stock: " + strings.Join(parts, "; ")
}

// Is makes shortages match shared.ErrValidation.
func (e *ShortageError) Is(target error) bool {
	return target == shared.ErrValidation
}

// ErrWarehouseNotFound indicates an unknown or inactive warehouse.
var ErrWarehouseNotFound = fmt.Errorf("transfer: warehouse %w", shared.ErrNotFound)
