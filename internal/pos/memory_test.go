package pos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HDurna/drn-satis-yazilimi/internal/register"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

type memoryState struct {
	transactions map[int64]Transaction
	customers    map[int64]Customer
	loyalty      []LoyaltyTransaction
	nextID       int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		transactions: make(map[int64]Transaction, len(s.transactions)),
		customers:    make(map[int64]Customer, len(s.customers)),
		loyalty:      append([]LoyaltyTransaction(nil), s.loyalty...),
		nextID:       s.nextID,
	}
	for k, v := range s.transactions {
		out.transactions[k] = v
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	return out
}

type memoryRepo struct {
	mu       sync.Mutex
	state    memoryState
	settings *LoyaltySettings

	failBalance  error
	failSettings error
	failLoyalty  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		transactions: make(map[int64]Transaction),
		customers:    make(map[int64]Customer),
	}}
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	for _, existing := range t.state.transactions {
		if existing.DocumentRef == txn.DocumentRef {
			return 0, shared.ErrConflict
		}
	}
	t.state.nextID++
	txn.ID = t.state.nextID
	t.state.transactions[txn.ID] = txn
	return txn.ID, nil
}

func (t *memoryTx) AddCustomerBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error {
	if t.repo.failBalance != nil {
		return t.repo.failBalance
	}
	c, ok := t.state.customers[customerID]
	if !ok {
		return ErrCustomerNotFound
	}
	c.Balance = c.Balance.Add(delta)
	t.state.customers[customerID] = c
	return nil
}

func (t *memoryTx) AddLoyaltyPoints(ctx context.Context, customerID, points int64) error {
	if t.repo.failLoyalty != nil {
		return t.repo.failLoyalty
	}
	c, ok := t.state.customers[customerID]
	if !ok {
		return ErrCustomerNotFound
	}
	c.LoyaltyPoints += points
	t.state.customers[customerID] = c
	return nil
}

func (t *memoryTx) InsertLoyaltyTransaction(ctx context.Context, lt LoyaltyTransaction) (int64, error) {
	t.state.nextID++
	lt.ID = t.state.nextID
	t.state.loyalty = append(t.state.loyalty, lt)
	return lt.ID, nil
}

func (r *memoryRepo) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.state.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (r *memoryRepo) FindTransactionByDocument(ctx context.Context, ref string) (Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.state.transactions {
		if t.DocumentRef == ref {
			return t, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (r *memoryRepo) ListUnposted(ctx context.Context, before time.Time, limit int) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transaction
	for _, t := range r.state.transactions {
		if (t.StockStatus == StockPending || t.StockStatus == StockPartial) && t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) TotalsByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byMethod := make(map[PaymentMethod]*MethodTotal)
	for _, t := range r.state.transactions {
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		total, ok := byMethod[t.PaymentMethod]
		if !ok {
			total = &MethodTotal{Method: t.PaymentMethod, Amount: decimal.Zero}
			byMethod[t.PaymentMethod] = total
		}
		total.Count++
		total.Amount = total.Amount.Add(t.Amount)
	}
	out := make([]MethodTotal, 0, len(byMethod))
	for _, total := range byMethod {
		out = append(out, *total)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (r *memoryRepo) SetStockStatus(ctx context.Context, transactionID int64, status StockStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.state.transactions[transactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	t.StockStatus = status
	r.state.transactions[transactionID] = t
	return nil
}

func (r *memoryRepo) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.customers[id]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

func (r *memoryRepo) GetLoyaltySettings(ctx context.Context) (LoyaltySettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSettings != nil {
		return LoyaltySettings{}, r.failSettings
	}
	if r.settings == nil {
		return DefaultLoyaltySettings(), nil
	}
	return *r.settings, nil
}

func (r *memoryRepo) SaveLoyaltySettings(ctx context.Context, s LoyaltySettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = &s
	return nil
}

func (r *memoryRepo) addCustomer(c Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.customers[c.ID] = c
}

func (r *memoryRepo) loyaltyEntries() []LoyaltyTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LoyaltyTransaction(nil), r.state.loyalty...)
}

type sessionStub struct {
	sessions map[int64]register.Session
}

func (s sessionStub) RequireOpen(ctx context.Context, sessionID int64) (register.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return register.Session{}, register.ErrSessionNotFound
	}
	if !session.IsOpen() {
		return register.Session{}, shared.NewConflictError(shared.ConflictState, "session %d is %s", sessionID, session.Status)
	}
	return session, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]time.Time), now: time.Now}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = m.now()
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memoryIdempotency) Reclaim(ctx context.Context, key string, olderThan time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.keys[key]
	if !ok || !at.Before(m.now().Add(-olderThan)) {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

type countingMetrics struct {
	sales    map[string]int
	partial  int
	warnings int
}

func (m *countingMetrics) RecordSale(method string) {
	if m.sales == nil {
		m.sales = make(map[string]int)
	}
	m.sales[method]++
}

func (m *countingMetrics) RecordPartialFailure(operation string, failed int) { m.partial += failed }

func (m *countingMetrics) RecordStockWarning(count int) { m.warnings += count }
