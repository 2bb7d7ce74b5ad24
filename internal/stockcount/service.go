package stockcount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

const approvalModule = "stock_count"

// RepositoryPort exposes persistence operations required by the service.
type RepositoryPort interface {
	Create(ctx context.Context, c StockCount) (int64, error)
	Get(ctx context.Context, id int64) (StockCount, error)
	List(ctx context.Context, limit int) ([]StockCount, error)
	Items(ctx context.Context, countID int64) ([]Item, error)
	GetItem(ctx context.Context, itemID int64) (Item, error)
	ActiveProductIDs(ctx context.Context) ([]int64, error)
	// InsertItems writes the snapshot only while the count is OPEN and has no items; it reports false otherwise.
	InsertItems(ctx context.Context, countID int64, items []Item) (bool, error)
	// UpdateItem writes counted values only while the parent count is in status; it reports false otherwise.
	UpdateItem(ctx context.Context, item Item, status Status) (bool, error)
	// Transition moves a count from one of from to to; it reports false when the count was in another state.
	Transition(ctx context.Context, id int64, from []Status, to Status, completedAt *time.Time) (bool, error)
	// Delete removes a CANCELLED count and its items; it reports false otherwise.
	Delete(ctx context.Context, id int64) (bool, error)
}

// Ledger is the subset of the ledger service used for snapshots and adjustments.
type Ledger interface {
	Append(ctx context.Context, m ledger.Movement) (int64, error)
	CurrentStock(ctx context.Context, productID int64, warehouseID *int64) (int64, error)
	HasDocument(ctx context.Context, ref string) (bool, error)
}

// ApprovalPort persists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref int64) ([]shared.ApprovalLog, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the count workflow: open, populate, count, approve or cancel.
type Service struct {
	repo        RepositoryPort
	ledger      Ledger
	approvals   ApprovalPort
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// NewService constructs the workflow service. approvals, audit and logger may be nil.
func NewService(repo RepositoryPort, stock Ledger, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: stock, approvals: approvals, audit: audit, logger: logger, now: time.Now, concurrency: 8}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Create opens an empty count for a warehouse.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (StockCount, error) {
	if err := shared.Authorize(actor, shared.CapCountCreate); err != nil {
		return StockCount{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return StockCount{}, shared.NewValidationError("name", "required")
	}
	if input.WarehouseID <= 0 {
		return StockCount{}, shared.NewValidationError("warehouse_id", "required")
	}
	count := StockCount{
		Name:        name,
		WarehouseID: input.WarehouseID,
		Status:      StatusOpen,
		Note:        input.Note,
		CreatedBy:   actor.ID,
		CreatedAt:   s.now().UTC(),
	}
	id, err := s.repo.Create(ctx, count)
	if err != nil {
		return StockCount{}, fmt.Errorf("stockcount: create: %w", err)
	}
	count.ID = id
	return count, nil
}

// Get returns the count with its items.
func (s *Service) Get(ctx context.Context, id int64) (StockCount, error) {
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return StockCount{}, err
	}
	items, err := s.repo.Items(ctx, id)
	if err != nil {
		return StockCount{}, fmt.Errorf("stockcount: items: %w", err)
	}
	count.Items = items
	return count, nil
}

// List returns recent counts, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]StockCount, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit)
}

// Approvals returns the approval history of a count.
func (s *Service) Approvals(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, approvalModule, id)
}

// Populate snapshots the current warehouse stock of every active product. It runs once per count.
func (s *Service) Populate(ctx context.Context, actor shared.Actor, id int64) (int, error) {
	if err := shared.Authorize(actor, shared.CapCountEdit); err != nil {
		return 0, err
	}
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if count.Status != StatusOpen {
		return 0, shared.NewConflictError(shared.ConflictState, "count %d is %s", id, count.Status)
	}
	productIDs, err := s.repo.ActiveProductIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("stockcount: active products: %w", err)
	}
	items := make([]Item, len(productIDs))
	now := s.now().UTC()
	warehouseID := count.WarehouseID
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, productID := range productIDs {
		g.Go(func() error {
			qty, err := s.ledger.CurrentStock(gctx, productID, &warehouseID)
			if err != nil {
				return fmt.Errorf("product %d: %w", productID, err)
			}
			items[i] = Item{CountID: id, ProductID: productID, ExpectedStock: qty, UpdatedAt: now}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("stockcount: snapshot: %w", err)
	}
	inserted, err := s.repo.InsertItems(ctx, id, items)
	if err != nil {
		return 0, fmt.Errorf("stockcount: insert items: %w", err)
	}
	if !inserted {
		return 0, shared.NewConflictError(shared.ConflictState, "count %d is already populated", id)
	}
	s.recordAudit(ctx, actor.ID, shared.AuditCountPopulated, id, map[string]any{"items": len(items), "warehouse_id": warehouseID})
	return len(items), nil
}

// RecordCount stores counted values. OPEN counts accept any counter; PENDING_APPROVAL counts
// accept only roles allowed to edit pending counts.
func (s *Service) RecordCount(ctx context.Context, actor shared.Actor, input RecordInput) (Item, error) {
	if err := shared.Authorize(actor, shared.CapCountEdit); err != nil {
		return Item{}, err
	}
	if input.Counted < 0 {
		return Item{}, shared.NewValidationError("counted_stock", "must not be negative")
	}
	if input.Defective < 0 {
		return Item{}, shared.NewValidationError("defective_quantity", "must not be negative")
	}
	item, err := s.repo.GetItem(ctx, input.ItemID)
	if err != nil {
		return Item{}, err
	}
	count, err := s.repo.Get(ctx, item.CountID)
	if err != nil {
		return Item{}, err
	}
	switch count.Status {
	case StatusOpen:
	case StatusPendingApproval:
		if err := shared.Authorize(actor, shared.CapCountEditPending); err != nil {
			return Item{}, err
		}
	default:
		return Item{}, shared.NewConflictError(shared.ConflictState, "count %d is %s", count.ID, count.Status)
	}
	item.CountedStock = input.Counted
	item.DefectiveQuantity = input.Defective
	item.UpdatedAt = s.now().UTC()
	ok, err := s.repo.UpdateItem(ctx, item, count.Status)
	if err != nil {
		return Item{}, fmt.Errorf("stockcount: update item: %w", err)
	}
	if !ok {
		return Item{}, shared.NewConflictError(shared.ConflictState, "count %d changed state while editing", count.ID)
	}
	return item, nil
}

// Submit moves an OPEN count with items to PENDING_APPROVAL.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, id int64, note string) (StockCount, error) {
	if err := shared.Authorize(actor, shared.CapCountSubmit); err != nil {
		return StockCount{}, err
	}
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return StockCount{}, err
	}
	if count.Status != StatusOpen {
		return StockCount{}, shared.NewConflictError(shared.ConflictState, "count %d is %s", id, count.Status)
	}
	items, err := s.repo.Items(ctx, id)
	if err != nil {
		return StockCount{}, fmt.Errorf("stockcount: items: %w", err)
	}
	if len(items) == 0 {
		return StockCount{}, shared.NewConflictError(shared.ConflictState, "count %d has no items", id)
	}
	if err := s.transition(ctx, id, []Status{StatusOpen}, StatusPendingApproval, nil); err != nil {
		return StockCount{}, err
	}
	count.Status = StatusPendingApproval
	s.recordApproval(ctx, actor.ID, id, shared.ApprovalSubmit, note)
	s.recordAudit(ctx, actor.ID, shared.AuditCountSubmitted, id, map[string]any{"items": len(items)})
	return count, nil
}

// Approve completes a count awaiting approval, then appends one OTHER movement per
// item whose counted stock differs from the frozen expectation. The status move is
// the claim: a concurrent approver loses it and writes nothing. Per-item ledger
// failures are reported, not rolled back; Repost retries them.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64, note string) (ApprovalResult, error) {
	if err := shared.Authorize(actor, shared.CapCountApprove); err != nil {
		return ApprovalResult{}, err
	}
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return ApprovalResult{}, err
	}
	if count.Status != StatusPendingApproval {
		return ApprovalResult{}, shared.NewConflictError(shared.ConflictState, "count %d is %s", id, count.Status)
	}
	completedAt := s.now().UTC()
	if err := s.transition(ctx, id, []Status{StatusPendingApproval}, StatusCompleted, &completedAt); err != nil {
		return ApprovalResult{}, err
	}
	count.Status = StatusCompleted
	count.CompletedAt = &completedAt

	result, err := s.postAdjustments(ctx, actor, count)
	if err != nil {
		return result, err
	}
	s.recordApproval(ctx, actor.ID, id, shared.ApprovalApprove, note)
	s.recordAudit(ctx, actor.ID, shared.AuditCountApproved, id, map[string]any{
		"adjusted": result.Adjusted,
		"errors":   result.Errors,
		"skipped":  result.Skipped,
	})
	s.logger.Info("count approved", slog.Int64("count_id", id), slog.Int("adjusted", result.Adjusted), slog.Int("errors", result.Errors))
	return result, nil
}

// Repost appends the adjustments of a completed count that are not on the ledger yet.
func (s *Service) Repost(ctx context.Context, actor shared.Actor, id int64) (ApprovalResult, error) {
	if err := shared.Authorize(actor, shared.CapCountApprove); err != nil {
		return ApprovalResult{}, err
	}
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return ApprovalResult{}, err
	}
	if count.Status != StatusCompleted {
		return ApprovalResult{}, shared.NewConflictError(shared.ConflictState, "count %d is %s", id, count.Status)
	}
	result, err := s.postAdjustments(ctx, actor, count)
	if err != nil {
		return result, err
	}
	s.logger.Info("count adjustments reposted", slog.Int64("count_id", id), slog.Int("adjusted", result.Adjusted), slog.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) postAdjustments(ctx context.Context, actor shared.Actor, count StockCount) (ApprovalResult, error) {
	id := count.ID
	result := ApprovalResult{CountID: id}
	items, err := s.repo.Items(ctx, id)
	if err != nil {
		return result, fmt.Errorf("stockcount: items: %w", err)
	}
	partial := &shared.PartialFailure{Operation: "count approval " + strconv.FormatInt(id, 10)}
	for _, item := range items {
		delta := item.Variance()
		if delta == 0 {
			continue
		}
		partial.Total++
		ref := adjustmentRef(id, item.ID)
		exists, err := s.ledger.HasDocument(ctx, ref)
		if err != nil {
			result.Errors++
			partial.Add("adjustment", ref, err)
			continue
		}
		if exists {
			result.Skipped++
			continue
		}
		_, err = s.ledger.Append(ctx, ledger.Movement{
			ProductID:   item.ProductID,
			WarehouseID: count.WarehouseID,
			Quantity:    delta,
			Kind:        ledger.KindOther,
			DocumentRef: ref,
			Reason:      "Stok sayımı: " + count.Name,
			ActorID:     actor.ID,
		})
		if errors.Is(err, ledger.ErrDuplicateDocument) {
			result.Skipped++
			continue
		}
		if err != nil {
			s.logger.Error("count adjustment failed", slog.Int64("count_id", id), slog.Int64("item_id", item.ID), slog.Any("error", err))
			result.Errors++
			partial.Add("adjustment", ref, err)
			continue
		}
		result.Adjusted++
	}
	result.Partial = partial.OrNil()
	return result, nil
}

// Reject cancels a count awaiting approval.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id int64, note string) error {
	if err := shared.Authorize(actor, shared.CapCountApprove); err != nil {
		return err
	}
	if err := s.transition(ctx, id, []Status{StatusPendingApproval}, StatusCancelled, nil); err != nil {
		return err
	}
	s.recordApproval(ctx, actor.ID, id, shared.ApprovalReject, note)
	s.recordAudit(ctx, actor.ID, shared.AuditCountCancelled, id, map[string]any{"rejected": true, "note": note})
	return nil
}

// Cancel abandons an OPEN or PENDING_APPROVAL count without touching the ledger.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) error {
	if err := shared.Authorize(actor, shared.CapCountCancel); err != nil {
		return err
	}
	if err := s.transition(ctx, id, []Status{StatusOpen, StatusPendingApproval}, StatusCancelled, nil); err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, shared.AuditCountCancelled, id, nil)
	return nil
}

// Delete physically removes a CANCELLED count and its items.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	if err := shared.Authorize(actor, shared.CapCountDelete); err != nil {
		return err
	}
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if count.Status != StatusCancelled {
		return shared.NewConflictError(shared.ConflictState, "count %d is %s; only cancelled counts can be deleted", id, count.Status)
	}
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("stockcount: delete: %w", err)
	}
	if !ok {
		return shared.NewConflictError(shared.ConflictState, "count %d changed state before delete", id)
	}
	s.recordAudit(ctx, actor.ID, shared.AuditCountDeleted, id, map[string]any{"name": count.Name})
	return nil
}

func (s *Service) transition(ctx context.Context, id int64, from []Status, to Status, completedAt *time.Time) error {
	ok, err := s.repo.Transition(ctx, id, from, to, completedAt)
	if err != nil {
		return fmt.Errorf("stockcount: transition to %s: %w", to, err)
	}
	if ok {
		return nil
	}
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return shared.NewConflictError(shared.ConflictState, "count %d is %s, cannot move to %s", id, count.Status, to)
}

func (s *Service) recordApproval(ctx context.Context, actorID, id int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   id,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	})
	if err != nil {
		s.logger.Warn("count approval log failed", slog.Int64("count_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_count",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("count audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
