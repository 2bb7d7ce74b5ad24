// Package ledgertest provides an in-memory ledger repository for tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
)

type stockKey struct {
	productID   int64
	warehouseID int64
}

// Memory implements ledger.RepositoryPort. It is safe for concurrent use.
type Memory struct {
	mu             sync.Mutex
	movements      []ledger.Movement
	productStock   map[int64]int64
	warehouseStock map[stockKey]int64
	nextID         int64

	// FailInsert, when set, is consulted before each movement insert.
	FailInsert func(m ledger.Movement) error
}

// New returns an empty repository.
func New() *Memory {
	return &Memory{productStock: make(map[int64]int64), warehouseStock: make(map[stockKey]int64)}
}

type memoryTx struct {
	repo   *Memory
	staged []ledger.Movement
	prod   map[int64]int64
	wh     map[stockKey]int64
}

// WithTx stages writes and applies them only when fn succeeds. Like the
// partial unique index, a commit that repeats a single-use document fails.
func (r *Memory) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	tx := &memoryTx{repo: r, prod: make(map[int64]int64), wh: make(map[stockKey]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range tx.staged {
		if !ledger.UniqueDocument(m.DocumentRef) {
			continue
		}
		for _, existing := range r.movements {
			if existing.DocumentRef == m.DocumentRef {
				return ledger.ErrDuplicateDocument
			}
		}
	}
	r.movements = append(r.movements, tx.staged...)
	for k, v := range tx.prod {
		r.productStock[k] += v
	}
	for k, v := range tx.wh {
		r.warehouseStock[k] += v
	}
	return nil
}

func (t *memoryTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	if t.repo.FailInsert != nil {
		if err := t.repo.FailInsert(m); err != nil {
			return 0, err
		}
	}
	t.repo.mu.Lock()
	t.repo.nextID++
	m.ID = t.repo.nextID
	t.repo.mu.Unlock()
	t.staged = append(t.staged, m)
	return m.ID, nil
}

func (t *memoryTx) AddProductStock(ctx context.Context, productID, delta int64) error {
	t.prod[productID] += delta
	return nil
}

func (t *memoryTx) AddWarehouseStock(ctx context.Context, productID, warehouseID, delta int64) error {
	t.wh[stockKey{productID, warehouseID}] += delta
	return nil
}

func (r *Memory) SumStock(ctx context.Context, productID int64, warehouseID *int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, m := range r.movements {
		if m.ProductID != productID {
			continue
		}
		if warehouseID != nil && m.WarehouseID != *warehouseID {
			continue
		}
		total += m.Quantity
	}
	return total, nil
}

func (r *Memory) History(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []ledger.Movement
	for _, m := range r.movements {
		if m.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != nil && m.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.Since != nil && m.CreatedAt.Before(*filter.Since) {
			continue
		}
		result = append(result, m)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *Memory) HasDocument(ctx context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.movements {
		if m.DocumentRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r *Memory) MovementsByDocument(ctx context.Context, ref string) ([]ledger.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []ledger.Movement
	for _, m := range r.movements {
		if m.DocumentRef == ref {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *Memory) UnbalancedTransfers(ctx context.Context, since time.Time) ([]ledger.DocumentIntegrity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := make(map[string]*ledger.DocumentIntegrity)
	var order []string
	for _, m := range r.movements {
		if m.DocumentRef == "" || m.CreatedAt.Before(since) {
			continue
		}
		if m.Kind != ledger.KindTransferOut && m.Kind != ledger.KindTransferIn {
			continue
		}
		d, ok := docs[m.DocumentRef]
		if !ok {
			d = &ledger.DocumentIntegrity{DocumentRef: m.DocumentRef}
			docs[m.DocumentRef] = d
			order = append(order, m.DocumentRef)
		}
		if m.Kind == ledger.KindTransferOut {
			d.OutTotal += m.Quantity
		} else {
			d.InTotal += m.Quantity
		}
		d.Lines++
	}
	sort.Strings(order)
	var result []ledger.DocumentIntegrity
	for _, ref := range order {
		d := docs[ref]
		d.Evaluate()
		if !d.Balanced {
			result = append(result, *d)
		}
	}
	return result, nil
}

func (r *Memory) RefreshMaterializedStock(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := make(map[int64]int64)
	whSums := make(map[stockKey]int64)
	for _, m := range r.movements {
		sums[m.ProductID] += m.Quantity
		whSums[stockKey{m.ProductID, m.WarehouseID}] += m.Quantity
	}
	var changed int64
	for id := range r.productStock {
		if _, ok := sums[id]; !ok {
			sums[id] = 0
		}
	}
	for id, total := range sums {
		if r.productStock[id] != total {
			r.productStock[id] = total
			changed++
		}
	}
	r.warehouseStock = whSums
	return changed, nil
}

// ProductCounter returns the materialized product counter.
func (r *Memory) ProductCounter(productID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.productStock[productID]
}

// WarehouseCounter returns the materialized per-warehouse counter.
func (r *Memory) WarehouseCounter(productID, warehouseID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warehouseStock[stockKey{productID, warehouseID}]
}

// SetProductCounter corrupts the materialized counter, for refresh tests.
func (r *Memory) SetProductCounter(productID, qty int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.productStock[productID] = qty
}

// Movements returns a copy of every stored movement in insertion order.
func (r *Memory) Movements() []ledger.Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.Movement, len(r.movements))
	copy(out, r.movements)
	return out
}

// Seed appends a movement directly, bypassing the service.
func (r *Memory) Seed(m ledger.Movement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m.ID = r.nextID
	r.movements = append(r.movements, m)
	r.productStock[m.ProductID] += m.Quantity
	r.warehouseStock[stockKey{m.ProductID, m.WarehouseID}] += m.Quantity
}
