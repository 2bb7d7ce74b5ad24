package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Warehouses checks that warehouses exist and are active.
type Warehouses interface {
	WarehouseExists(ctx context.Context, id int64) (bool, error)
}

// Ledger is the subset of the ledger service used by transfers.
type Ledger interface {
	Append(ctx context.Context, m ledger.Movement) (int64, error)
	CurrentStock(ctx context.Context, productID int64, warehouseID *int64) (int64, error)
	DocumentIntegrity(ctx context.Context, ref string) (ledger.DocumentIntegrity, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives partial failure counts.
type Metrics interface {
	RecordPartialFailure(operation string, failed int)
}

// Service moves stock between warehouses as paired ledger entries.
type Service struct {
	warehouses Warehouses
	ledger     Ledger
	audit      AuditPort
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs the transfer engine. audit and logger may be nil.
func NewService(warehouses Warehouses, stock Ledger, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{warehouses: warehouses, ledger: stock, audit: audit, logger: logger, now: time.Now}
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

func validate(in Input) error {
	switch {
	case in.SourceWarehouseID <= 0:
		return shared.NewValidationError("from_warehouse_id", "required")
	case in.DestinationWarehouseID <= 0:
		return shared.NewValidationError("to_warehouse_id", "required")
	case in.SourceWarehouseID == in.DestinationWarehouseID:
		return shared.NewValidationError("to_warehouse_id", "must differ from the source warehouse")
	case len(in.Lines) == 0:
		return shared.NewValidationError("items", "at least one line is required")
	}
	seen := make(map[int64]struct{}, len(in.Lines))
	for i, line := range in.Lines {
		field := "items[" + strconv.Itoa(i) + "]"
		if line.ProductID <= 0 {
			return shared.NewValidationError(field+".product_id", "required")
		}
		if line.Quantity <= 0 {
			return shared.NewValidationError(field+".quantity", "must be positive")
		}
		if _, dup := seen[line.ProductID]; dup {
			return shared.NewValidationError(field+".product_id", "product listed twice")
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// Transfer validates the whole batch against source stock, then appends a TRANSFER_OUT and a
// TRANSFER_IN per line under one document reference and verifies both sides balance.
func (s *Service) Transfer(ctx context.Context, actor shared.Actor, in Input) (Result, error) {
	if err := shared.Authorize(actor, shared.CapTransfer); err != nil {
		return Result{}, err
	}
	if err := validate(in); err != nil {
		return Result{}, err
	}
	for _, id := range []int64{in.SourceWarehouseID, in.DestinationWarehouseID} {
		ok, err := s.warehouses.WarehouseExists(ctx, id)
		if err != nil {
			return Result{}, fmt.Errorf("transfer: warehouse %d: %w", id, err)
		}
		if !ok {
			return Result{}, fmt.Errorf("%w: %d", ErrWarehouseNotFound, id)
		}
	}
	if err := s.checkSource(ctx, in); err != nil {
		return Result{}, err
	}

	ref := "TRF-" + uuid.NewString()
	src, dst := in.SourceWarehouseID, in.DestinationWarehouseID
	partial := &shared.PartialFailure{Operation: "transfer " + ref, Total: len(in.Lines)}
	reason := "Depo transferi"
	if in.Note != "" {
		reason += ": " + in.Note
	}
	createdAt := s.now().UTC()
	posted, written := 0, 0
	for _, line := range in.Lines {
		lineRef := "product:" + strconv.FormatInt(line.ProductID, 10)
		_, err := s.ledger.Append(ctx, ledger.Movement{
			ProductID:              line.ProductID,
			WarehouseID:            src,
			Quantity:               -line.Quantity,
			Kind:                   ledger.KindTransferOut,
			CounterpartWarehouseID: &dst,
			DocumentRef:            ref,
			Reason:                 reason,
			ActorID:                actor.ID,
			CreatedAt:              createdAt,
		})
		if err != nil {
			partial.Add("transfer_out", lineRef, err)
			continue
		}
		written++
		_, err = s.ledger.Append(ctx, ledger.Movement{
			ProductID:              line.ProductID,
			WarehouseID:            dst,
			Quantity:               line.Quantity,
			Kind:                   ledger.KindTransferIn,
			CounterpartWarehouseID: &src,
			DocumentRef:            ref,
			Reason:                 reason,
			ActorID:                actor.ID,
			CreatedAt:              createdAt,
		})
		if err != nil {
			partial.Add("transfer_in", lineRef, err)
			continue
		}
		posted++
	}
	if written == 0 {
		return Result{}, fmt.Errorf("transfer: nothing posted: %w", partial)
	}

	result := Result{DocumentRef: ref, Posted: posted}
	integrity, err := s.Verify(ctx, ref)
	if err != nil {
		partial.Add("verify", ref, err)
	} else {
		result.Integrity = integrity
		if !integrity.Balanced {
			s.logger.Error("transfer unbalanced",
				slog.String("document_ref", ref),
				slog.Int64("out_total", integrity.OutTotal),
				slog.Int64("in_total", integrity.InTotal),
			)
		}
	}
	result.Partial = partial.OrNil()
	if result.Partial != nil && s.metrics != nil {
		s.metrics.RecordPartialFailure("transfer", result.Partial.Failed())
	}
	s.recordAudit(ctx, actor.ID, ref, map[string]any{
		"from_warehouse_id": src,
		"to_warehouse_id":   dst,
		"lines":             len(in.Lines),
		"posted":            posted,
	})
	return result, nil
}

// checkSource reads source stock for every line concurrently and rejects the batch on any shortage.
func (s *Service) checkSource(ctx context.Context, in Input) error {
	src := in.SourceWarehouseID
	var mu sync.Mutex
	var shortages []shared.InsufficientStockWarning
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, line := range in.Lines {
		g.Go(func() error {
			available, err := s.ledger.CurrentStock(gctx, line.ProductID, &src)
			if err != nil {
				return fmt.Errorf("product %d: %w", line.ProductID, err)
			}
			if line.Quantity > available {
				mu.Lock()
				shortages = append(shortages, shared.InsufficientStockWarning{
					ProductID:   line.ProductID,
					WarehouseID: src,
					Available:   available,
					Requested:   line.Quantity,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("transfer: source stock: %w", err)
	}
	if len(shortages) > 0 {
		return &ShortageError{Shortages: shortages}
	}
	return nil
}

// Verify reports whether both sides of a transfer document balance.
func (s *Service) Verify(ctx context.Context, ref string) (ledger.DocumentIntegrity, error) {
	integrity, err := s.ledger.DocumentIntegrity(ctx, ref)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ledger.DocumentIntegrity{}, err
		}
		return ledger.DocumentIntegrity{}, fmt.Errorf("transfer: verify %s: %w", ref, err)
	}
	return integrity, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, ref string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditTransfer,
		Entity:   "transfer",
		EntityID: ref,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("transfer audit failed", slog.String("document_ref", ref), slog.Any("error", err))
	}
}
