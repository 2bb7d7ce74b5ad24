package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/register"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

const idempotencyModule = "pos"

// DefaultClaimTTL is how long a sale claim without a transaction blocks retries.
const DefaultClaimTTL = 2 * time.Minute

// RepositoryPort exposes persistence operations required by the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	FindTransactionByDocument(ctx context.Context, ref string) (Transaction, bool, error)
	ListUnposted(ctx context.Context, before time.Time, limit int) ([]Transaction, error)
	SetStockStatus(ctx context.Context, transactionID int64, status StockStatus) error
	TotalsByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	GetLoyaltySettings(ctx context.Context) (LoyaltySettings, error)
	SaveLoyaltySettings(ctx context.Context, settings LoyaltySettings) error
}

// TxRepository performs writes that commit or roll back together.
type TxRepository interface {
	InsertTransaction(ctx context.Context, t Transaction) (int64, error)
	// AddCustomerBalance fails with ErrCustomerNotFound when no row matched.
	AddCustomerBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error
	AddLoyaltyPoints(ctx context.Context, customerID, points int64) error
	InsertLoyaltyTransaction(ctx context.Context, lt LoyaltyTransaction) (int64, error)
}

// Ledger is the subset of the ledger service the orchestrator writes through.
type Ledger interface {
	Append(ctx context.Context, m ledger.Movement) (int64, error)
	CurrentStock(ctx context.Context, productID int64, warehouseID *int64) (int64, error)
	MovementsByDocument(ctx context.Context, ref string) ([]ledger.Movement, error)
}

// Sessions resolves the register session a sale belongs to.
type Sessions interface {
	RequireOpen(ctx context.Context, sessionID int64) (register.Session, error)
}

// Idempotency claims client document references.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
	Reclaim(ctx context.Context, key string, olderThan time.Duration) (bool, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives sale counters.
type Metrics interface {
	RecordSale(method string)
	RecordPartialFailure(operation string, failed int)
	RecordStockWarning(count int)
}

// Service orchestrates checkout, collections and loyalty accrual.
type Service struct {
	repo     RepositoryPort
	ledger   Ledger
	sessions Sessions
	idem     Idempotency
	audit    AuditPort
	metrics  Metrics
	logger   *slog.Logger
	claimTTL time.Duration
	now      func() time.Time
}

// NewService constructs the orchestrator. idem, audit and logger may be nil.
func NewService(repo RepositoryPort, stock Ledger, sessions Sessions, idem Idempotency, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: stock, sessions: sessions, idem: idem, audit: audit, logger: logger, claimTTL: DefaultClaimTTL, now: time.Now}
}

// WithClaimTTL sets how old an unfinished sale claim must be before a retry may take it over.
func (s *Service) WithClaimTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.claimTTL = ttl
	}
	return s
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func validateLines(lines []CartLine) error {
	if len(lines) == 0 {
		return shared.NewValidationError("items", "cart is empty")
	}
	for i, line := range lines {
		field := "items[" + strconv.Itoa(i) + "]"
		switch {
		case line.ProductID <= 0:
			return shared.NewValidationError(field+".product_id", "required")
		case line.Quantity <= 0:
			return shared.NewValidationError(field+".quantity", "must be positive")
		case line.UnitPrice.IsNegative():
			return shared.NewValidationError(field+".unit_price", "must not be negative")
		}
	}
	return nil
}

func validateSale(in SaleInput) error {
	if err := validateLines(in.Lines); err != nil {
		return err
	}
	if !in.PaymentMethod.IsSale() {
		return shared.NewValidationError("payment_method", fmt.Sprintf("%q cannot settle a sale", in.PaymentMethod))
	}
	if in.PaymentMethod == PaymentOnCredit && (in.CustomerID == nil || *in.CustomerID <= 0) {
		return shared.NewValidationError("customer_id", "required for ON_CREDIT")
	}
	return nil
}

// CheckStock returns a warning for every line whose quantity exceeds warehouse stock.
// Warnings never block a sale.
func (s *Service) CheckStock(ctx context.Context, warehouseID int64, lines []CartLine) ([]shared.InsufficientStockWarning, error) {
	if warehouseID <= 0 {
		return nil, shared.NewValidationError("warehouse_id", "required")
	}
	if err := validateLines(lines); err != nil {
		return nil, err
	}
	requested := make(map[int64]int64, len(lines))
	order := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := requested[line.ProductID]; !ok {
			order = append(order, line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}
	var warnings []shared.InsufficientStockWarning
	for _, productID := range order {
		available, err := s.ledger.CurrentStock(ctx, productID, &warehouseID)
		if err != nil {
			return nil, fmt.Errorf("pos: check stock: %w", err)
		}
		if available < requested[productID] {
			warnings = append(warnings, shared.InsufficientStockWarning{
				ProductID:   productID,
				WarehouseID: warehouseID,
				Available:   available,
				Requested:   requested[productID],
			})
		}
	}
	return warnings, nil
}

// CompleteSale records the financial transaction, then the stock movements, then loyalty points.
// Only the transaction write is atomic; later failures are reported in SaleResult.Partial.
func (s *Service) CompleteSale(ctx context.Context, actor shared.Actor, in SaleInput) (SaleResult, error) {
	if err := shared.Authorize(actor, shared.CapSell); err != nil {
		return SaleResult{}, err
	}
	if err := validateSale(in); err != nil {
		return SaleResult{}, err
	}
	session, err := s.sessions.RequireOpen(ctx, in.SessionID)
	if err != nil {
		return SaleResult{}, err
	}
	if session.OperatorID != actor.ID {
		return SaleResult{}, shared.NewConflictError(shared.ConflictPermission, "session %d belongs to another operator", session.ID)
	}
	if in.CustomerID != nil {
		if _, err := s.repo.GetCustomer(ctx, *in.CustomerID); err != nil {
			return SaleResult{}, err
		}
	}

	ref := strings.TrimSpace(in.DocumentRef)
	if ref != "" {
		replay, done, err := s.claim(ctx, ref)
		if err != nil || done {
			return replay, err
		}
	} else {
		ref = "POS-" + uuid.NewString()
	}

	warnings, err := s.CheckStock(ctx, session.WarehouseID, in.Lines)
	if err != nil {
		s.logger.Warn("pos stock check failed", slog.String("document_ref", ref), slog.Any("error", err))
		warnings = nil
	}

	items := make([]TransactionItem, 0, len(in.Lines))
	amount := decimal.Zero
	for _, line := range in.Lines {
		total := line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity))
		amount = amount.Add(total)
		items = append(items, TransactionItem{ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: line.UnitPrice, LineTotal: total})
	}
	sessionID := session.ID
	txn := Transaction{
		SessionID:     &sessionID,
		ActorID:       actor.ID,
		CustomerID:    in.CustomerID,
		WarehouseID:   session.WarehouseID,
		Amount:        amount,
		PaymentMethod: in.PaymentMethod,
		Items:         items,
		DocumentRef:   ref,
		StockStatus:   StockPending,
		Notes:         in.Note,
		CreatedAt:     s.now().UTC(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return err
		}
		txn.ID = id
		if in.PaymentMethod == PaymentOnCredit {
			return tx.AddCustomerBalance(ctx, *in.CustomerID, amount)
		}
		return nil
	})
	if err != nil {
		s.release(ctx, in.DocumentRef)
		return SaleResult{}, fmt.Errorf("pos: record transaction: %w", err)
	}

	partial := &shared.PartialFailure{Operation: "sale " + ref, Total: len(items)}
	s.postMovements(ctx, txn, items, partial)
	status := StockPosted
	if partial.Failed() > 0 {
		status = StockPartial
	}
	if err := s.repo.SetStockStatus(ctx, txn.ID, status); err != nil {
		s.logger.Warn("pos stock status update failed", slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
	}

	earned := s.accrueLoyalty(ctx, txn, partial)

	result := SaleResult{
		TransactionID: txn.ID,
		DocumentRef:   ref,
		Amount:        amount,
		EarnedPoints:  earned,
		Warnings:      warnings,
		Partial:       partial.OrNil(),
	}
	if s.metrics != nil {
		s.metrics.RecordSale(string(in.PaymentMethod))
		if len(warnings) > 0 {
			s.metrics.RecordStockWarning(len(warnings))
		}
		if result.Partial != nil {
			s.metrics.RecordPartialFailure("sale", result.Partial.Failed())
		}
	}
	s.logger.Info("sale completed",
		slog.Int64("transaction_id", txn.ID),
		slog.String("document_ref", ref),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("payment_method", string(in.PaymentMethod)),
		slog.Int("warnings", len(warnings)),
	)
	return result, nil
}

// claim reserves the client reference. done is true when the sale already exists.
func (s *Service) claim(ctx context.Context, ref string) (SaleResult, bool, error) {
	if existing, ok, err := s.repo.FindTransactionByDocument(ctx, ref); err != nil {
		return SaleResult{}, true, err
	} else if ok {
		return replayResult(existing), true, nil
	}
	if s.idem == nil {
		return SaleResult{}, false, nil
	}
	err := s.idem.CheckAndInsert(ctx, "sale:"+ref, idempotencyModule)
	if err == nil {
		return SaleResult{}, false, nil
	}
	if !errors.Is(err, shared.ErrIdempotencyConflict) {
		return SaleResult{}, true, fmt.Errorf("pos: claim document ref: %w", err)
	}
	existing, ok, err := s.repo.FindTransactionByDocument(ctx, ref)
	if err != nil {
		return SaleResult{}, true, err
	}
	if ok {
		return replayResult(existing), true, nil
	}
	if s.reclaim(ctx, ref) {
		return SaleResult{}, false, nil
	}
	return SaleResult{}, true, shared.NewConflictError(shared.ConflictState, "sale %s is already in progress", ref)
}

// reclaim takes over a claim whose holder never wrote the transaction, such as a
// process that died between claiming and committing.
func (s *Service) reclaim(ctx context.Context, ref string) bool {
	key := "sale:" + ref
	dropped, err := s.idem.Reclaim(ctx, key, s.claimTTL)
	if err != nil {
		s.logger.Warn("pos stale claim check failed", slog.String("document_ref", ref), slog.Any("error", err))
		return false
	}
	if !dropped {
		return false
	}
	if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		return false
	}
	s.logger.Warn("pos reclaimed stale sale claim", slog.String("document_ref", ref))
	return true
}

func replayResult(t Transaction) SaleResult {
	return SaleResult{TransactionID: t.ID, DocumentRef: t.DocumentRef, Amount: t.Amount, Replayed: true}
}

func (s *Service) release(ctx context.Context, clientRef string) {
	ref := strings.TrimSpace(clientRef)
	if ref == "" || s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, "sale:"+ref); err != nil {
		s.logger.Warn("pos idempotency release failed", slog.String("document_ref", ref), slog.Any("error", err))
	}
}

func (s *Service) postMovements(ctx context.Context, txn Transaction, items []TransactionItem, partial *shared.PartialFailure) {
	for _, item := range items {
		if err := s.appendSale(ctx, txn, item); err != nil {
			s.logger.Error("pos sale movement failed",
				slog.Int64("transaction_id", txn.ID),
				slog.Int64("product_id", item.ProductID),
				slog.Any("error", err),
			)
			partial.Add("stock_movement", "product:"+strconv.FormatInt(item.ProductID, 10), err)
		}
	}
}

func (s *Service) appendSale(ctx context.Context, txn Transaction, item TransactionItem) error {
	txID := txn.ID
	_, err := s.ledger.Append(ctx, ledger.Movement{
		ProductID:     item.ProductID,
		WarehouseID:   txn.WarehouseID,
		Quantity:      -item.Quantity,
		Kind:          ledger.KindSale,
		SessionID:     txn.SessionID,
		TransactionID: &txID,
		DocumentRef:   txn.DocumentRef,
		Reason:        "Satış - " + string(txn.PaymentMethod),
		ActorID:       txn.ActorID,
	})
	return err
}

func (s *Service) accrueLoyalty(ctx context.Context, txn Transaction, partial *shared.PartialFailure) int64 {
	if txn.CustomerID == nil {
		return 0
	}
	settings, err := s.repo.GetLoyaltySettings(ctx)
	if err != nil {
		s.logger.Warn("pos loyalty settings unavailable", slog.Any("error", err))
		partial.Add("loyalty", "customer:"+strconv.FormatInt(*txn.CustomerID, 10), err)
		return 0
	}
	points := settings.EarnedPoints(txn.Amount)
	if points <= 0 {
		return 0
	}
	txID := txn.ID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.AddLoyaltyPoints(ctx, *txn.CustomerID, points); err != nil {
			return err
		}
		_, err := tx.InsertLoyaltyTransaction(ctx, LoyaltyTransaction{
			CustomerID:       *txn.CustomerID,
			TransactionID:    &txID,
			Type:             LoyaltyEarn,
			Points:           points,
			AmountEquivalent: settings.PointValue.Mul(decimal.NewFromInt(points)),
			Description:      "Alışveriş puanı (" + txn.DocumentRef + ")",
			CreatedAt:        s.now().UTC(),
		})
		return err
	})
	if err != nil {
		s.logger.Warn("pos loyalty accrual failed", slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
		partial.Add("loyalty", "customer:"+strconv.FormatInt(*txn.CustomerID, 10), err)
		return 0
	}
	return points
}

// RecordCollection writes a COLLECTION transaction and lowers the customer's balance atomically.
func (s *Service) RecordCollection(ctx context.Context, actor shared.Actor, in CollectionInput) (Transaction, error) {
	if err := shared.Authorize(actor, shared.CapCollect); err != nil {
		return Transaction{}, err
	}
	if in.CustomerID <= 0 {
		return Transaction{}, shared.NewValidationError("customer_id", "required")
	}
	if !in.Amount.IsPositive() {
		return Transaction{}, shared.NewValidationError("amount", "must be positive")
	}
	warehouseID := in.WarehouseID
	if in.SessionID != nil {
		session, err := s.sessions.RequireOpen(ctx, *in.SessionID)
		if err != nil {
			return Transaction{}, err
		}
		warehouseID = session.WarehouseID
	}
	if warehouseID <= 0 {
		return Transaction{}, shared.NewValidationError("warehouse_id", "required without a session")
	}
	customerID := in.CustomerID
	txn := Transaction{
		SessionID:     in.SessionID,
		ActorID:       actor.ID,
		CustomerID:    &customerID,
		WarehouseID:   warehouseID,
		Amount:        in.Amount,
		PaymentMethod: PaymentCollection,
		DocumentRef:   "COL-" + uuid.NewString(),
		StockStatus:   StockNone,
		Notes:         in.Note,
		CreatedAt:     s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return err
		}
		txn.ID = id
		return tx.AddCustomerBalance(ctx, customerID, in.Amount.Neg())
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("pos: record collection: %w", err)
	}
	s.recordAudit(ctx, actor.ID, shared.AuditCollection, "customer", customerID, map[string]any{
		"transaction_id": txn.ID,
		"amount":         in.Amount.String(),
	})
	return txn, nil
}

// Transaction returns a stored transaction.
func (s *Service) Transaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// Customer returns a customer with balance and points.
func (s *Service) Customer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// LoyaltySettings returns the active program configuration.
func (s *Service) LoyaltySettings(ctx context.Context) (LoyaltySettings, error) {
	return s.repo.GetLoyaltySettings(ctx)
}

// UpdateLoyaltySettings replaces the program configuration.
func (s *Service) UpdateLoyaltySettings(ctx context.Context, actor shared.Actor, settings LoyaltySettings) (LoyaltySettings, error) {
	if err := shared.Authorize(actor, shared.CapLoyaltyManage); err != nil {
		return LoyaltySettings{}, err
	}
	switch {
	case !settings.MoneyToPointRatio.IsPositive():
		return LoyaltySettings{}, shared.NewValidationError("money_to_point_ratio", "must be positive")
	case settings.PointValue.IsNegative():
		return LoyaltySettings{}, shared.NewValidationError("point_value", "must not be negative")
	case settings.MinSpending.IsNegative():
		return LoyaltySettings{}, shared.NewValidationError("min_spending", "must not be negative")
	}
	if err := s.repo.SaveLoyaltySettings(ctx, settings); err != nil {
		return LoyaltySettings{}, fmt.Errorf("pos: save loyalty settings: %w", err)
	}
	s.recordAudit(ctx, actor.ID, shared.AuditLoyaltySettings, "loyalty_settings", 1, map[string]any{
		"money_to_point_ratio": settings.MoneyToPointRatio.String(),
		"point_value":          settings.PointValue.String(),
		"min_spending":         settings.MinSpending.String(),
		"is_active":            settings.Active,
	})
	return settings, nil
}

// TotalsBetween sums transactions per payment method in [from, to).
func (s *Service) TotalsBetween(ctx context.Context, from, to time.Time) ([]MethodTotal, error) {
	if !to.After(from) {
		return nil, shared.NewValidationError("to", "must be after from")
	}
	totals, err := s.repo.TotalsByMethod(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("pos: totals by method: %w", err)
	}
	return totals, nil
}

// ReconcilePending re-appends missing SALE movements for sales left PENDING or PARTIAL
// before the cutoff. Lines already present in the ledger are not written twice.
func (s *Service) ReconcilePending(ctx context.Context, before time.Time, limit int) (ReconcileResult, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.repo.ListUnposted(ctx, before, limit)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("pos: list unposted: %w", err)
	}
	var result ReconcileResult
	for _, txn := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		reposted, err := s.reconcileOne(ctx, txn)
		result.Reposted += reposted
		if err != nil {
			result.Failed++
			s.logger.Warn("pos reconcile failed", slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
			continue
		}
		if err := s.repo.SetStockStatus(ctx, txn.ID, StockPosted); err != nil {
			result.Failed++
			s.logger.Warn("pos reconcile status failed", slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
		}
	}
	return result, nil
}

func (s *Service) reconcileOne(ctx context.Context, txn Transaction) (int, error) {
	existing, err := s.ledger.MovementsByDocument(ctx, txn.DocumentRef)
	if err != nil {
		return 0, err
	}
	posted := make(map[int64]int)
	for _, m := range existing {
		if m.Kind == ledger.KindSale && m.TransactionID != nil && *m.TransactionID == txn.ID {
			posted[m.ProductID]++
		}
	}
	var reposted int
	var errs []error
	for _, item := range txn.Items {
		if posted[item.ProductID] > 0 {
			posted[item.ProductID]--
			continue
		}
		if err := s.appendSale(ctx, txn, item); err != nil {
			errs = append(errs, fmt.Errorf("product %d: %w", item.ProductID, err))
			continue
		}
		reposted++
	}
	return reposted, errors.Join(errs...)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("pos audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
