package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// MovementKind classifies a ledger entry.
type MovementKind string

const (
	KindPurchase    MovementKind = "PURCHASE"
	KindSale        MovementKind = "SALE"
	KindTransferOut MovementKind = "TRANSFER_OUT"
	KindTransferIn  MovementKind = "TRANSFER_IN"
	KindOther       MovementKind = "OTHER"
)

// Valid reports whether k is a known kind.
func (k MovementKind) Valid() bool {
	switch k {
	case KindPurchase, KindSale, KindTransferOut, KindTransferIn, KindOther:
		return true
	}
	return false
}

// Movement is an immutable, signed stock change. Positive quantities increase stock.
type Movement struct {
	ID                     int64        `json:"id"`
	ProductID              int64        `json:"product_id"`
	WarehouseID            int64        `json:"warehouse_id"`
	Quantity               int64        `json:"quantity"`
	Kind                   MovementKind `json:"movement_type"`
	CounterpartWarehouseID *int64       `json:"to_warehouse_id,omitempty"`
	SessionID              *int64       `json:"session_id,omitempty"`
	TransactionID          *int64       `json:"transaction_id,omitempty"`
	DocumentRef            string       `json:"document_ref,omitempty"`
	Reason                 string       `json:"reason,omitempty"`
	ActorID                int64        `json:"user_id"`
	CreatedAt              time.Time    `json:"created_at"`
}

// HistoryFilter narrows History. Limit defaults to DefaultHistoryLimit.
type HistoryFilter struct {
	ProductID   int64
	WarehouseID *int64
	Limit       int
	Since       *time.Time
}

const (
	// DefaultHistoryLimit is the number of newest movements returned when no limit is set.
	DefaultHistoryLimit = 10
	// MaxHistoryLimit caps a single history read.
	MaxHistoryLimit = 500
)

// Direction is the sign of a manual movement.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ManualInput describes an operator-entered stock movement.
type ManualInput struct {
	ProductID   int64
	WarehouseID int64
	Direction   Direction
	Quantity    int64
	Kind        MovementKind
	Reason      string
}

// DocumentIntegrity compares both sides of a transfer document.
type DocumentIntegrity struct {
	DocumentRef string `json:"document_ref"`
	OutTotal    int64  `json:"out_total"`
	InTotal     int64  `json:"in_total"`
	Lines       int    `json:"lines"`
	Balanced    bool   `json:"balanced"`
}

// Evaluate fills Balanced. An empty document is never balanced.
func (d *DocumentIntegrity) Evaluate() {
	d.Balanced = d.Lines > 0 && d.OutTotal == -d.InTotal
}

// ErrDocumentNotFound indicates no movement carries the document reference.
var ErrDocumentNotFound = fmt.Errorf("ledger: document %w", shared.ErrNotFound)

// ErrDuplicateDocument indicates a single-use document reference is already on the ledger.
var ErrDuplicateDocument = errors.New("ledger: document already posted")

// CountAdjustmentPrefix marks stock count adjustments, which post at most once per reference.
const CountAdjustmentPrefix = "COUNT-"

// UniqueDocument reports whether ref may carry at most one movement.
func UniqueDocument(ref string) bool {
	return strings.HasPrefix(ref, CountAdjustmentPrefix)
}
