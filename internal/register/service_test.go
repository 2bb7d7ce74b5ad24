package register

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	registers map[int64]Register
	sessions  map[int64]Session
	expenses  []Expense
	sales     map[int64]SalesTotals
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		registers: map[int64]Register{1: {ID: 1, WarehouseID: 10, Name: "Kasa 1", Code: "K1"}, 2: {ID: 2, WarehouseID: 20, Name: "Kasa 2", Code: "K2"}},
		sessions:  make(map[int64]Session),
		sales:     make(map[int64]SalesTotals),
	}
}

func (r *memoryRepo) GetRegister(ctx context.Context, id int64) (Register, error) {
	reg, ok := r.registers[id]
	if !ok {
		return Register{}, ErrRegisterNotFound
	}
	return reg, nil
}

func (r *memoryRepo) GetSession(ctx context.Context, id int64) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *memoryRepo) FindOpenSession(ctx context.Context, operatorID int64) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.OperatorID == operatorID && s.Status == SessionOpen {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

func (r *memoryRepo) InsertSession(ctx context.Context, s Session) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.OperatorID == s.OperatorID && existing.Status == SessionOpen {
			return 0, ErrOpenSessionExists
		}
	}
	r.nextID++
	s.ID = r.nextID
	r.sessions[s.ID] = s
	return s.ID, nil
}

func (r *memoryRepo) CloseSession(ctx context.Context, s Session) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[s.ID]
	if !ok || current.Status != SessionOpen {
		return false, nil
	}
	r.sessions[s.ID] = s
	return true, nil
}

func (r *memoryRepo) InsertExpense(ctx context.Context, e Expense) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	r.expenses = append(r.expenses, e)
	return e.ID, nil
}

func (r *memoryRepo) SumExpenses(ctx context.Context, sessionID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, e := range r.expenses {
		if e.SessionID == sessionID {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

func (r *memoryRepo) SumSales(ctx context.Context, sessionID int64) (SalesTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals, ok := r.sales[sessionID]
	if !ok {
		return SalesTotals{Cash: decimal.Zero, Card: decimal.Zero}, nil
	}
	return totals, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

var (
	cashier = shared.Actor{ID: 7, Role: shared.RoleCashier}
	other   = shared.Actor{ID: 8, Role: shared.RoleCashier}
	manager = shared.Actor{ID: 9, Role: shared.RoleStoreManager}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(repo *memoryRepo, audit AuditPort) *Service {
	svc := NewService(repo, audit, ServiceConfig{VarianceWarn: dec("5"), VarianceCritical: dec("50")}, nil)
	return svc.WithNow(func() time.Time { return time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC) })
}

func TestOpenSessionSingleOpenPerOperator(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	session, err := svc.Open(ctx, cashier, OpenInput{RegisterID: 1, OpeningAmount: dec("100")})
	require.NoError(t, err)
	require.Equal(t, SessionOpen, session.Status)
	require.Equal(t, int64(10), session.WarehouseID)

	_, err = svc.Open(ctx, cashier, OpenInput{RegisterID: 2, OpeningAmount: dec("50")})
	require.ErrorIs(t, err, shared.ErrConflict)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, shared.ConflictSession, conflict.Kind)

	_, err = svc.Open(ctx, other, OpenInput{RegisterID: 2, OpeningAmount: dec("50")})
	require.NoError(t, err)
}

func TestOpenSessionRaceMapsIndexViolation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Open(ctx, cashier, OpenInput{RegisterID: 1, OpeningAmount: dec("10")})
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	var okCount int
	for err := range results {
		if err == nil {
			okCount++
			continue
		}
		require.ErrorIs(t, err, shared.ErrConflict)
	}
	require.Equal(t, 1, okCount)
}

func TestOpenSessionValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.Open(ctx, cashier, OpenInput{RegisterID: 1, OpeningAmount: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Open(ctx, cashier, OpenInput{RegisterID: 99, OpeningAmount: dec("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Open(ctx, shared.Actor{ID: 5, Role: "guest"}, OpenInput{RegisterID: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestPrecloseSummaryAndClose(t *testing.T) {
	repo := newMemoryRepo()
	audit := &recordingAudit{}
	svc := newTestService(repo, audit)
	ctx := context.Background()

	session, err := svc.Open(ctx, cashier, OpenInput{RegisterID: 1, OpeningAmount: dec("100")})
	require.NoError(t, err)
	_, err = svc.RecordExpense(ctx, cashier, ExpenseInput{SessionID: session.ID, Category: "Temizlik", Amount: dec("15.50")})
	require.NoError(t, err)
	repo.sales[session.ID] = SalesTotals{Cash: dec("200"), Card: dec("80")}

	summary, err := svc.PrecloseSummary(ctx, cashier, session.ID)
	require.NoError(t, err)
	require.True(t, summary.ExpenseTotal.Equal(dec("15.50")))
	require.True(t, summary.SalesTotal.Equal(dec("280")))
	require.True(t, summary.ExpectedAmount.Equal(dec("364.50")))

	result, err := svc.Close(ctx, cashier, CloseInput{SessionID: session.ID, CountedCash: dec("360"), Notes: "eksik"})
	require.NoError(t, err)
	require.True(t, result.Variance.Equal(dec("-4.50")))
	require.Equal(t, VarianceNormal, result.Level)
	require.Equal(t, SessionClosed, result.Session.Status)
	require.NotNil(t, result.Session.ClosedAt)

	stored, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, SessionClosed, stored.Status)
	require.True(t, stored.Variance.Decimal.Equal(dec("-4.50")))

	_, err = svc.Close(ctx, cashier, CloseInput{SessionID: session.ID, CountedCash: dec("360")})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.RecordExpense(ctx, cashier, ExpenseInput{SessionID: session.ID, Category: "Yemek", Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.RequireOpen(ctx, session.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	actions := make([]string, 0, len(audit.logs))
	for _, l := range audit.logs {
		actions = append(actions, l.Action)
	}
	require.Equal(t, []string{shared.AuditSessionOpened, shared.AuditExpenseRecorded, shared.AuditSessionClosed}, actions)

	// A new session may be opened once the previous one is closed.
	_, err = svc.Open(ctx, cashier, OpenInput{RegisterID: 1, OpeningAmount: dec("0")})
	require.NoError(t, err)
}

func TestSessionOwnership(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	session, err := svc.Open(ctx, cashier, OpenInput{RegisterID: 1, OpeningAmount: dec("20")})
	require.NoError(t, err)

	_, err = svc.Close(ctx, other, CloseInput{SessionID: session.ID, CountedCash: dec("20")})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.PrecloseSummary(ctx, other, session.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	result, err := svc.Close(ctx, manager, CloseInput{SessionID: session.ID, CountedCash: dec("120")})
	require.NoError(t, err)
	require.True(t, result.Variance.Equal(dec("100")))
	require.Equal(t, VarianceCritical, result.Level)
}

func TestRecordExpenseValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	session, err := svc.Open(ctx, cashier, OpenInput{RegisterID: 1, OpeningAmount: dec("20")})
	require.NoError(t, err)

	_, err = svc.RecordExpense(ctx, cashier, ExpenseInput{SessionID: session.ID, Category: " ", Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordExpense(ctx, cashier, ExpenseInput{SessionID: session.ID, Category: "Kargo", Amount: dec("0")})
	require.ErrorIs(t, err, shared.ErrValidation)

	expense, err := svc.RecordExpense(ctx, cashier, ExpenseInput{SessionID: session.ID, Category: "Kargo", Amount: dec("12")})
	require.NoError(t, err)
	require.Equal(t, int64(10), expense.WarehouseID)
	require.Equal(t, session.ID, expense.SessionID)
}

func TestClassifyVariance(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	require.Equal(t, VarianceNormal, svc.ClassifyVariance(dec("4.99")))
	require.Equal(t, VarianceWarning, svc.ClassifyVariance(dec("-5")))
	require.Equal(t, VarianceCritical, svc.ClassifyVariance(dec("50")))
}
