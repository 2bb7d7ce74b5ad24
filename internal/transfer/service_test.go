package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/ledger/ledgertest"
	"github.com/HDurna/drn-satis-yazilimi/internal/rbac"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

type warehouseSet map[int64]bool

func (w warehouseSet) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	return w[id], nil
}

const (
	whA int64 = 1
	whB int64 = 2
)

var (
	cashier = shared.Actor{ID: 7, Role: shared.RoleCashier}
	manager = shared.Actor{ID: 9, Role: shared.RoleStoreManager}
	clock   = time.Date(2024, 7, 9, 11, 0, 0, 0, time.UTC)
)

type fixture struct {
	stock  *ledgertest.Memory
	ledger *ledger.Service
	svc    *Service
}

func newFixture() *fixture {
	f := &fixture{stock: ledgertest.New()}
	f.ledger = ledger.NewService(f.stock, nil, nil, nil).WithNow(func() time.Time { return clock })
	f.svc = NewService(warehouseSet{whA: true, whB: true}, f.ledger, nil, nil).WithNow(func() time.Time { return clock })
	return f
}

func (f *fixture) seed(productID, warehouseID, qty int64) {
	f.stock.Seed(ledger.Movement{ProductID: productID, WarehouseID: warehouseID, Quantity: qty, Kind: ledger.KindPurchase, CreatedAt: clock.Add(-time.Hour)})
}

func (f *fixture) stockOf(t *testing.T, productID int64, warehouseID *int64) int64 {
	t.Helper()
	qty, err := f.ledger.CurrentStock(context.Background(), productID, warehouseID)
	require.NoError(t, err)
	return qty
}

func ptr(v int64) *int64 { return &v }

func TestTransferPostsBalancedPair(t *testing.T) {
	f := newFixture()
	f.seed(9, whA, 12)
	ctx := context.Background()

	result, err := f.svc.Transfer(ctx, manager, Input{
		SourceWarehouseID:      whA,
		DestinationWarehouseID: whB,
		Lines:                  []Line{{ProductID: 9, Quantity: 5}},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.DocumentRef, "TRF-"))
	require.Equal(t, 1, result.Posted)
	require.Nil(t, result.Partial)
	require.True(t, result.Integrity.Balanced)
	require.Equal(t, int64(-5), result.Integrity.OutTotal)
	require.Equal(t, int64(5), result.Integrity.InTotal)

	require.Equal(t, int64(7), f.stockOf(t, 9, ptr(whA)))
	require.Equal(t, int64(5), f.stockOf(t, 9, ptr(whB)))
	require.Equal(t, int64(12), f.stockOf(t, 9, nil))

	movements, err := f.ledger.MovementsByDocument(ctx, result.DocumentRef)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, ledger.KindTransferOut, movements[0].Kind)
	require.Equal(t, whB, *movements[0].CounterpartWarehouseID)
	require.Equal(t, ledger.KindTransferIn, movements[1].Kind)
	require.Equal(t, whA, *movements[1].CounterpartWarehouseID)
}

func TestTransferRejectsWholeBatchOnShortage(t *testing.T) {
	f := newFixture()
	f.seed(1, whA, 10)
	f.seed(2, whA, 3)

	_, err := f.svc.Transfer(context.Background(), manager, Input{
		SourceWarehouseID:      whA,
		DestinationWarehouseID: whB,
		Lines:                  []Line{{ProductID: 1, Quantity: 4}, {ProductID: 2, Quantity: 4}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	var shortage *ShortageError
	require.ErrorAs(t, err, &shortage)
	require.Len(t, shortage.Shortages, 1)
	require.Equal(t, int64(2), shortage.Shortages[0].ProductID)
	require.Equal(t, int64(3), shortage.Shortages[0].Available)

	require.Len(t, f.stock.Movements(), 2)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cases := []struct {
		name  string
		actor shared.Actor
		input Input
		want  error
	}{
		{"cashier", cashier, Input{SourceWarehouseID: whA, DestinationWarehouseID: whB, Lines: []Line{{ProductID: 1, Quantity: 1}}}, shared.ErrForbidden},
		{"same warehouse", manager, Input{SourceWarehouseID: whA, DestinationWarehouseID: whA, Lines: []Line{{ProductID: 1, Quantity: 1}}}, shared.ErrValidation},
		{"no lines", manager, Input{SourceWarehouseID: whA, DestinationWarehouseID: whB}, shared.ErrValidation},
		{"zero quantity", manager, Input{SourceWarehouseID: whA, DestinationWarehouseID: whB, Lines: []Line{{ProductID: 1}}}, shared.ErrValidation},
		{"duplicate product", manager, Input{SourceWarehouseID: whA, DestinationWarehouseID: whB, Lines: []Line{{ProductID: 1, Quantity: 1}, {ProductID: 1, Quantity: 1}}}, shared.ErrValidation},
		{"unknown warehouse", manager, Input{SourceWarehouseID: whA, DestinationWarehouseID: 99, Lines: []Line{{ProductID: 1, Quantity: 1}}}, shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Transfer(ctx, tc.actor, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, f.stock.Movements())
}

func TestTransferSurfacesUnbalancedDocument(t *testing.T) {
	f := newFixture()
	f.seed(1, whA, 10)
	f.seed(2, whA, 10)
	f.stock.FailInsert = func(m ledger.Movement) error {
		if m.ProductID == 2 && m.Kind == ledger.KindTransferIn {
			return errors.New("connection reset")
		}
		return nil
	}

	result, err := f.svc.Transfer(context.Background(), manager, Input{
		SourceWarehouseID:      whA,
		DestinationWarehouseID: whB,
		Lines:                  []Line{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Posted)
	require.NotNil(t, result.Partial)
	require.Equal(t, "transfer_in", result.Partial.Failures[0].Step)
	require.False(t, result.Integrity.Balanced)
	require.Equal(t, int64(-5), result.Integrity.OutTotal)
	require.Equal(t, int64(2), result.Integrity.InTotal)

	unbalanced, err := f.ledger.UnbalancedTransfers(context.Background(), clock.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, unbalanced, 1)
	require.Equal(t, result.DocumentRef, unbalanced[0].DocumentRef)
}

func TestTransferFailsWhenNothingPosted(t *testing.T) {
	f := newFixture()
	f.seed(1, whA, 10)
	f.stock.FailInsert = func(m ledger.Movement) error {
		if m.Kind == ledger.KindTransferOut {
			return errors.New("read only")
		}
		return nil
	}
	_, err := f.svc.Transfer(context.Background(), manager, Input{
		SourceWarehouseID:      whA,
		DestinationWarehouseID: whB,
		Lines:                  []Line{{ProductID: 1, Quantity: 1}},
	})
	require.Error(t, err)
	var partial *shared.PartialFailure
	require.ErrorAs(t, err, &partial)
}

func newRouter(f *fixture, actor shared.Actor) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, validator.New(), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	r.Route("/transfers", h.MountRoutes)
	return r
}

func TestHandlerTransfer(t *testing.T) {
	f := newFixture()
	f.seed(9, whA, 12)

	body := `{"from_warehouse_id":1,"to_warehouse_id":2,"items":[{"product_id":9,"quantity":5}]}`
	rec := httptest.NewRecorder()
	newRouter(f, manager).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"balanced":true`)

	rec = httptest.NewRecorder()
	newRouter(f, cashier).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers/", strings.NewReader(body)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	short := `{"from_warehouse_id":1,"to_warehouse_id":2,"items":[{"product_id":9,"quantity":50}]}`
	rec = httptest.NewRecorder()
	newRouter(f, manager).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers/", strings.NewReader(short)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
