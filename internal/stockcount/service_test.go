package stockcount

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/ledger/ledgertest"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	counts   map[int64]StockCount
	items    map[int64]Item
	products []int64
	nextID   int64
}

func newMemoryRepo(products ...int64) *memoryRepo {
	return &memoryRepo{counts: make(map[int64]StockCount), items: make(map[int64]Item), products: products}
}

func (r *memoryRepo) Create(ctx context.Context, c StockCount) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	r.counts[c.ID] = c
	return c.ID, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (StockCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[id]
	if !ok {
		return StockCount{}, ErrCountNotFound
	}
	return c, nil
}

func (r *memoryRepo) List(ctx context.Context, limit int) ([]StockCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockCount
	for _, c := range r.counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) Items(ctx context.Context, countID int64) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Item
	for _, it := range r.items {
		if it.CountID == countID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetItem(ctx context.Context, itemID int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (r *memoryRepo) ActiveProductIDs(ctx context.Context) ([]int64, error) {
	return append([]int64(nil), r.products...), nil
}

func (r *memoryRepo) InsertItems(ctx context.Context, countID int64, items []Item) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[countID].Status != StatusOpen {
		return false, nil
	}
	for _, it := range r.items {
		if it.CountID == countID {
			return false, nil
		}
	}
	for _, it := range items {
		r.nextID++
		it.ID = r.nextID
		r.items[it.ID] = it
	}
	return true, nil
}

func (r *memoryRepo) UpdateItem(ctx context.Context, item Item, status Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[item.CountID].Status != status {
		return false, nil
	}
	r.items[item.ID] = item
	return true, nil
}

func (r *memoryRepo) Transition(ctx context.Context, id int64, from []Status, to Status, completedAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			if completedAt != nil {
				c.CompletedAt = completedAt
			}
			r.counts[id] = c
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[id].Status != StatusCancelled {
		return false, nil
	}
	delete(r.counts, id)
	for itemID, it := range r.items {
		if it.CountID == id {
			delete(r.items, itemID)
		}
	}
	return true, nil
}

type memoryApprovals struct {
	logs []shared.ApprovalLog
}

func (a *memoryApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryApprovals) List(ctx context.Context, module string, ref int64) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range a.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

const warehouseID int64 = 10

var (
	cashier = shared.Actor{ID: 7, Role: shared.RoleCashier}
	manager = shared.Actor{ID: 9, Role: shared.RoleStoreManager}
	clock   = time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo      *memoryRepo
	stock     *ledgertest.Memory
	ledger    *ledger.Service
	approvals *memoryApprovals
	svc       *Service
}

func newFixture(products ...int64) *fixture {
	f := &fixture{repo: newMemoryRepo(products...), stock: ledgertest.New(), approvals: &memoryApprovals{}}
	f.ledger = ledger.NewService(f.stock, nil, nil, nil).WithNow(func() time.Time { return clock })
	f.svc = NewService(f.repo, f.ledger, f.approvals, nil, nil).WithNow(func() time.Time { return clock })
	return f
}

func (f *fixture) seed(productID, qty int64) {
	f.stock.Seed(ledger.Movement{ProductID: productID, WarehouseID: warehouseID, Quantity: qty, Kind: ledger.KindPurchase, CreatedAt: clock.Add(-time.Hour)})
}

func (f *fixture) stockOf(t *testing.T, productID int64) int64 {
	t.Helper()
	wh := warehouseID
	qty, err := f.ledger.CurrentStock(context.Background(), productID, &wh)
	require.NoError(t, err)
	return qty
}

func itemFor(t *testing.T, items []Item, productID int64) Item {
	t.Helper()
	for _, it := range items {
		if it.ProductID == productID {
			return it
		}
	}
	t.Fatalf("no item for product %d", productID)
	return Item{}
}

func (f *fixture) populated(t *testing.T) StockCount {
	t.Helper()
	ctx := context.Background()
	count, err := f.svc.Create(ctx, cashier, CreateInput{Name: "Haziran sayımı", WarehouseID: warehouseID})
	require.NoError(t, err)
	_, err = f.svc.Populate(ctx, cashier, count.ID)
	require.NoError(t, err)
	count, err = f.svc.Get(ctx, count.ID)
	require.NoError(t, err)
	return count
}

func TestCountWorkflowApprovesNetVariance(t *testing.T) {
	f := newFixture(1, 2, 3)
	f.seed(1, 50)
	f.seed(2, 20)
	ctx := context.Background()

	count := f.populated(t)
	require.Len(t, count.Items, 3)
	require.Equal(t, int64(50), itemFor(t, count.Items, 1).ExpectedStock)
	require.Equal(t, int64(0), itemFor(t, count.Items, 3).ExpectedStock)
	require.Zero(t, itemFor(t, count.Items, 1).CountedStock)

	_, err := f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: itemFor(t, count.Items, 1).ID, Counted: 47, Defective: 1})
	require.NoError(t, err)
	_, err = f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: itemFor(t, count.Items, 2).ID, Counted: 20})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, cashier, count.ID, "")
	require.NoError(t, err)

	_, err = f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: itemFor(t, count.Items, 3).ID, Counted: 2})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.RecordCount(ctx, manager, RecordInput{ItemID: itemFor(t, count.Items, 3).ID, Counted: 2})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, cashier, count.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	result, err := f.svc.Approve(ctx, manager, count.ID, "ok")
	require.NoError(t, err)
	require.Equal(t, 2, result.Adjusted)
	require.Zero(t, result.Errors)
	require.Nil(t, result.Partial)

	require.Equal(t, int64(47), f.stockOf(t, 1))
	require.Equal(t, int64(20), f.stockOf(t, 2))
	require.Equal(t, int64(2), f.stockOf(t, 3))

	movements, err := f.ledger.MovementsByDocument(ctx, adjustmentRef(count.ID, itemFor(t, count.Items, 1).ID))
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, int64(-3), movements[0].Quantity)
	require.Equal(t, ledger.KindOther, movements[0].Kind)

	stored, err := f.svc.Get(ctx, count.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	_, err = f.svc.RecordCount(ctx, manager, RecordInput{ItemID: itemFor(t, count.Items, 1).ID, Counted: 1})
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.svc.Approve(ctx, manager, count.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	logs, err := f.svc.Approvals(ctx, count.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, shared.ApprovalSubmit, logs[0].Action)
	require.Equal(t, shared.ApprovalApprove, logs[1].Action)
}

func TestApproveUsesFrozenSnapshot(t *testing.T) {
	f := newFixture(1)
	f.seed(1, 50)
	ctx := context.Background()

	count := f.populated(t)
	item := itemFor(t, count.Items, 1)
	// A sale after populate does not move the expectation.
	_, err := f.ledger.Append(ctx, ledger.Movement{ProductID: 1, WarehouseID: warehouseID, Quantity: -5, Kind: ledger.KindSale})
	require.NoError(t, err)

	_, err = f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: item.ID, Counted: 48})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, cashier, count.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, manager, count.ID, "")
	require.NoError(t, err)

	require.Equal(t, int64(43), f.stockOf(t, 1))
}

func TestPopulateIsOneShot(t *testing.T) {
	f := newFixture(1, 2)
	ctx := context.Background()
	count := f.populated(t)

	_, err := f.svc.Populate(ctx, cashier, count.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	items, err := f.repo.Items(ctx, count.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestSubmitRequiresItems(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	count, err := f.svc.Create(ctx, cashier, CreateInput{Name: "Boş", WarehouseID: warehouseID})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, cashier, count.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Create(ctx, cashier, CreateInput{Name: " ", WarehouseID: warehouseID})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApproveReportsPartialFailureAndSkipsPosted(t *testing.T) {
	f := newFixture(1, 2, 3)
	ctx := context.Background()
	count := f.populated(t)
	for _, it := range count.Items {
		_, err := f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: it.ID, Counted: 5})
		require.NoError(t, err)
	}
	_, err := f.svc.Submit(ctx, cashier, count.ID, "")
	require.NoError(t, err)

	first := itemFor(t, count.Items, 1)
	f.stock.Seed(ledger.Movement{ProductID: 1, WarehouseID: warehouseID, Quantity: 5, Kind: ledger.KindOther, DocumentRef: adjustmentRef(count.ID, first.ID)})
	f.stock.FailInsert = func(m ledger.Movement) error {
		if m.ProductID == 2 {
			return errors.New("insert failed")
		}
		return nil
	}

	result, err := f.svc.Approve(ctx, manager, count.ID, "")
	require.NoError(t, err)
	require.Equal(t, 1, result.Adjusted)
	require.Equal(t, 1, result.Errors)
	require.Equal(t, 1, result.Skipped)
	require.NotNil(t, result.Partial)
	require.Equal(t, 3, result.Partial.Total)

	require.Equal(t, int64(5), f.stockOf(t, 1))
	require.Equal(t, int64(0), f.stockOf(t, 2))
	require.Equal(t, int64(5), f.stockOf(t, 3))

	stored, err := f.svc.Get(ctx, count.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)

	_, err = f.svc.Approve(ctx, manager, count.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	f.stock.FailInsert = nil
	_, err = f.svc.Repost(ctx, cashier, count.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	reposted, err := f.svc.Repost(ctx, manager, count.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reposted.Adjusted)
	require.Equal(t, 2, reposted.Skipped)
	require.Nil(t, reposted.Partial)
	require.Equal(t, int64(5), f.stockOf(t, 2))
	require.Equal(t, int64(5), f.stockOf(t, 3))
}

func TestRepostRequiresCompletedCount(t *testing.T) {
	f := newFixture(1)
	count := f.populated(t)
	_, err := f.svc.Repost(context.Background(), manager, count.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

// lockstepRepo holds the first two Get calls until both have read the count.
type lockstepRepo struct {
	*memoryRepo
	arrivals atomic.Int32
	both     chan struct{}
}

func (r *lockstepRepo) Get(ctx context.Context, id int64) (StockCount, error) {
	c, err := r.memoryRepo.Get(ctx, id)
	n := r.arrivals.Add(1)
	if n == 2 {
		close(r.both)
	}
	if n <= 2 {
		select {
		case <-r.both:
		case <-time.After(2 * time.Second):
		}
	}
	return c, err
}

func TestConcurrentApproveAdjustsOnce(t *testing.T) {
	f := newFixture(1)
	f.seed(1, 50)
	ctx := context.Background()
	count := f.populated(t)
	item := itemFor(t, count.Items, 1)
	_, err := f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: item.ID, Counted: 47})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, cashier, count.ID, "")
	require.NoError(t, err)

	racing := NewService(&lockstepRepo{memoryRepo: f.repo, both: make(chan struct{})}, f.ledger, f.approvals, nil, nil).
		WithNow(func() time.Time { return clock })

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = racing.Approve(ctx, manager, count.ID, "")
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, shared.ErrConflict):
			lost++
		default:
			t.Fatalf("unexpected approve error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)

	require.Equal(t, int64(47), f.stockOf(t, 1))
	movements, err := f.ledger.MovementsByDocument(ctx, adjustmentRef(count.ID, item.ID))
	require.NoError(t, err)
	require.Len(t, movements, 1)

	logs, err := f.svc.Approvals(ctx, count.ID)
	require.NoError(t, err)
	var approvals int
	for _, l := range logs {
		if l.Action == shared.ApprovalApprove {
			approvals++
		}
	}
	require.Equal(t, 1, approvals)
}

func TestLedgerRejectsSecondAdjustmentForSameItem(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	ref := adjustmentRef(4, 9)
	_, err := f.ledger.Append(ctx, ledger.Movement{ProductID: 1, WarehouseID: warehouseID, Quantity: -3, Kind: ledger.KindOther, DocumentRef: ref})
	require.NoError(t, err)
	_, err = f.ledger.Append(ctx, ledger.Movement{ProductID: 1, WarehouseID: warehouseID, Quantity: -3, Kind: ledger.KindOther, DocumentRef: ref})
	require.ErrorIs(t, err, ledger.ErrDuplicateDocument)
	require.Equal(t, int64(-3), f.stockOf(t, 1))
}

func TestCancelRejectAndDelete(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	count := f.populated(t)

	require.ErrorIs(t, f.svc.Delete(ctx, manager, count.ID), shared.ErrConflict)
	require.ErrorIs(t, f.svc.Cancel(ctx, cashier, count.ID), shared.ErrForbidden)
	require.ErrorIs(t, f.svc.Reject(ctx, manager, count.ID, ""), shared.ErrConflict)

	require.NoError(t, f.svc.Cancel(ctx, manager, count.ID))
	require.ErrorIs(t, f.svc.Cancel(ctx, manager, count.ID), shared.ErrConflict)
	_, err := f.svc.RecordCount(ctx, manager, RecordInput{ItemID: count.Items[0].ID, Counted: 1})
	require.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, f.svc.Delete(ctx, manager, count.ID))
	_, err = f.svc.Get(ctx, count.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.stock.Movements())

	second := f.populated(t)
	_, err = f.svc.Submit(ctx, cashier, second.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Reject(ctx, manager, second.ID, "yeniden say"))
	stored, err := f.svc.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
	logs, err := f.svc.Approvals(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, shared.ApprovalReject, logs[len(logs)-1].Action)
}

func TestRecordCountValidation(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	count := f.populated(t)

	_, err := f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: count.Items[0].ID, Counted: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: count.Items[0].ID, Defective: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.RecordCount(ctx, cashier, RecordInput{ItemID: 999, Counted: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
