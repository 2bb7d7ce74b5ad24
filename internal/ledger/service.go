package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// RepositoryPort exposes persistence operations required by the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumStock(ctx context.Context, productID int64, warehouseID *int64) (int64, error)
	History(ctx context.Context, filter HistoryFilter) ([]Movement, error)
	HasDocument(ctx context.Context, ref string) (bool, error)
	MovementsByDocument(ctx context.Context, ref string) ([]Movement, error)
	UnbalancedTransfers(ctx context.Context, since time.Time) ([]DocumentIntegrity, error)
	RefreshMaterializedStock(ctx context.Context) (int64, error)
}

// TxRepository performs the writes of a single append.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	AddProductStock(ctx context.Context, productID, delta int64) error
	AddWarehouseStock(ctx context.Context, productID, warehouseID, delta int64) error
}

// CacheEntry is a cached stock read tagged with the product's cache version.
type CacheEntry struct {
	Quantity int64
	Version  int64
	Hit      bool
}

// StockCache caches summed stock. Bump invalidates every entry for a product.
type StockCache interface {
	Lookup(ctx context.Context, productID int64, warehouseID *int64) (CacheEntry, error)
	Store(ctx context.Context, productID int64, warehouseID *int64, version, quantity int64) error
	Bump(ctx context.Context, productID int64) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the single writer of stock movements.
type Service struct {
	repo    RepositoryPort
	cache   StockCache
	audit   AuditPort
	logger  *slog.Logger
	reads   singleflight.Group
	appends atomic.Int64 // committed Append calls; scopes read flights
	now     func() time.Time
}

// NewService constructs the ledger service. cache and audit may be nil.
func NewService(repo RepositoryPort, cache StockCache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Append writes a movement and moves the materialized counters by the same delta.
// Stock may go negative; only structurally invalid movements are rejected.
func (s *Service) Append(ctx context.Context, m Movement) (int64, error) {
	if err := validateMovement(m); err != nil {
		return 0, err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.InsertMovement(ctx, m)
		if err != nil {
			return err
		}
		if err := tx.AddProductStock(ctx, m.ProductID, m.Quantity); err != nil {
			return err
		}
		return tx.AddWarehouseStock(ctx, m.ProductID, m.WarehouseID, m.Quantity)
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: append: %w", err)
	}
	s.appends.Add(1)
	if s.cache != nil {
		if err := s.cache.Bump(ctx, m.ProductID); err != nil {
			s.logger.Warn("ledger cache bump failed", slog.Int64("product_id", m.ProductID), slog.Any("error", err))
		}
	}
	return id, nil
}

func validateMovement(m Movement) error {
	switch {
	case m.ProductID <= 0:
		return shared.NewValidationError("product_id", "required")
	case m.WarehouseID <= 0:
		return shared.NewValidationError("warehouse_id", "required")
	case m.Quantity == 0:
		return shared.NewValidationError("quantity", "must not be zero")
	case !m.Kind.Valid():
		return shared.NewValidationError("movement_type", fmt.Sprintf("unknown kind %q", m.Kind))
	case m.Kind == KindTransferOut && m.Quantity > 0:
		return shared.NewValidationError("quantity", "transfer out must be negative")
	case m.Kind == KindTransferIn && m.Quantity < 0:
		return shared.NewValidationError("quantity", "transfer in must be positive")
	}
	return nil
}

// CurrentStock returns the sum of movements for a product, optionally scoped to a warehouse.
func (s *Service) CurrentStock(ctx context.Context, productID int64, warehouseID *int64) (int64, error) {
	if productID <= 0 {
		return 0, shared.NewValidationError("product_id", "required")
	}
	var version int64
	if s.cache != nil {
		entry, err := s.cache.Lookup(ctx, productID, warehouseID)
		if err != nil {
			s.logger.Warn("ledger cache lookup failed", slog.Int64("product_id", productID), slog.Any("error", err))
		} else if entry.Hit {
			return entry.Quantity, nil
		} else {
			version = entry.Version
		}
	}
	// A read that starts after an append must not share a flight begun before it.
	flight := stockKey(productID, warehouseID) + ":v" + strconv.FormatInt(version, 10) +
		":g" + strconv.FormatInt(s.appends.Load(), 10)
	v, err, _ := s.reads.Do(flight, func() (any, error) {
		return s.repo.SumStock(ctx, productID, warehouseID)
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: current stock: %w", err)
	}
	qty := v.(int64)
	if s.cache != nil {
		if err := s.cache.Store(ctx, productID, warehouseID, version, qty); err != nil {
			s.logger.Warn("ledger cache store failed", slog.Int64("product_id", productID), slog.Any("error", err))
		}
	}
	return qty, nil
}

func stockKey(productID int64, warehouseID *int64) string {
	wh := "all"
	if warehouseID != nil {
		wh = strconv.FormatInt(*warehouseID, 10)
	}
	return strconv.FormatInt(productID, 10) + ":" + wh
}

// History returns movements for a product, newest first.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Movement, error) {
	if filter.ProductID <= 0 {
		return nil, shared.NewValidationError("product_id", "required")
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	return s.repo.History(ctx, filter)
}

// HasDocument reports whether any movement carries ref.
func (s *Service) HasDocument(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, shared.NewValidationError("document_ref", "required")
	}
	return s.repo.HasDocument(ctx, ref)
}

// MovementsByDocument returns every movement tagged with ref.
func (s *Service) MovementsByDocument(ctx context.Context, ref string) ([]Movement, error) {
	if ref == "" {
		return nil, shared.NewValidationError("document_ref", "required")
	}
	return s.repo.MovementsByDocument(ctx, ref)
}

// DocumentIntegrity sums both transfer sides under ref.
func (s *Service) DocumentIntegrity(ctx context.Context, ref string) (DocumentIntegrity, error) {
	movements, err := s.MovementsByDocument(ctx, ref)
	if err != nil {
		return DocumentIntegrity{}, err
	}
	if len(movements) == 0 {
		return DocumentIntegrity{}, ErrDocumentNotFound
	}
	result := DocumentIntegrity{DocumentRef: ref}
	for _, m := range movements {
		switch m.Kind {
		case KindTransferOut:
			result.OutTotal += m.Quantity
			result.Lines++
		case KindTransferIn:
			result.InTotal += m.Quantity
			result.Lines++
		}
	}
	result.Evaluate()
	return result, nil
}

// UnbalancedTransfers lists transfer documents since the given time whose sides differ.
func (s *Service) UnbalancedTransfers(ctx context.Context, since time.Time) ([]DocumentIntegrity, error) {
	return s.repo.UnbalancedTransfers(ctx, since)
}

// RefreshMaterializedStock recomputes cached counters from the movement sums.
func (s *Service) RefreshMaterializedStock(ctx context.Context) (int64, error) {
	return s.repo.RefreshMaterializedStock(ctx)
}

// PostManual appends an operator-entered movement.
func (s *Service) PostManual(ctx context.Context, actor shared.Actor, input ManualInput) (Movement, error) {
	if err := shared.Authorize(actor, shared.CapLedgerManual); err != nil {
		return Movement{}, err
	}
	if input.Quantity <= 0 {
		return Movement{}, shared.NewValidationError("quantity", "must be positive")
	}
	switch input.Kind {
	case KindPurchase, KindSale, KindOther:
	default:
		return Movement{}, shared.NewValidationError("movement_type", "manual movements accept PURCHASE, SALE or OTHER")
	}
	qty := input.Quantity
	switch input.Direction {
	case DirectionIn:
	case DirectionOut:
		qty = -qty
	default:
		return Movement{}, shared.NewValidationError("direction", "must be IN or OUT")
	}
	m := Movement{
		ProductID:   input.ProductID,
		WarehouseID: input.WarehouseID,
		Quantity:    qty,
		Kind:        input.Kind,
		DocumentRef: fmt.Sprintf("MAN-%d", s.now().UnixNano()),
		Reason:      input.Reason,
		ActorID:     actor.ID,
		CreatedAt:   s.now().UTC(),
	}
	id, err := s.Append(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	s.recordAudit(ctx, actor.ID, shared.AuditManualMovement, "stock_movement", strconv.FormatInt(id, 10), map[string]any{
		"product_id":   m.ProductID,
		"warehouse_id": m.WarehouseID,
		"quantity":     m.Quantity,
		"kind":         m.Kind,
	})
	return m, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("ledger audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
