package register

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// RepositoryPort exposes persistence operations required by the service.
type RepositoryPort interface {
	GetRegister(ctx context.Context, id int64) (Register, error)
	GetSession(ctx context.Context, id int64) (Session, error)
	FindOpenSession(ctx context.Context, operatorID int64) (Session, bool, error)
	InsertSession(ctx context.Context, s Session) (int64, error)
	// CloseSession transitions an OPEN session; it reports false when the session was not OPEN.
	CloseSession(ctx context.Context, s Session) (bool, error)
	InsertExpense(ctx context.Context, e Expense) (int64, error)
	SumExpenses(ctx context.Context, sessionID int64) (decimal.Decimal, error)
	SumSales(ctx context.Context, sessionID int64) (SalesTotals, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig holds variance grading thresholds.
type ServiceConfig struct {
	VarianceWarn     decimal.Decimal
	VarianceCritical decimal.Decimal
}

// Service governs the register session lifecycle.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cfg    ServiceConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the session manager.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.VarianceWarn.IsZero() {
		cfg.VarianceWarn = decimal.NewFromInt(10)
	}
	if cfg.VarianceCritical.LessThan(cfg.VarianceWarn) {
		cfg.VarianceCritical = cfg.VarianceWarn.Mul(decimal.NewFromInt(10))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Open starts a session for the actor. An operator holds at most one open session.
func (s *Service) Open(ctx context.Context, actor shared.Actor, input OpenInput) (Session, error) {
	if err := shared.Authorize(actor, shared.CapRegisterOperate); err != nil {
		return Session{}, err
	}
	if input.RegisterID <= 0 {
		return Session{}, shared.NewValidationError("register_id", "required")
	}
	if input.OpeningAmount.IsNegative() {
		return Session{}, shared.NewValidationError("opening_amount", "must not be negative")
	}
	if existing, ok, err := s.repo.FindOpenSession(ctx, actor.ID); err != nil {
		return Session{}, err
	} else if ok {
		return Session{}, shared.NewConflictError(shared.ConflictSession, "operator %d already holds open session %d", actor.ID, existing.ID)
	}
	reg, err := s.repo.GetRegister(ctx, input.RegisterID)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		RegisterID:    reg.ID,
		OperatorID:    actor.ID,
		WarehouseID:   reg.WarehouseID,
		OpeningAmount: input.OpeningAmount,
		Status:        SessionOpen,
		OpenedAt:      s.now().UTC(),
	}
	id, err := s.repo.InsertSession(ctx, session)
	if err != nil {
		if errors.Is(err, ErrOpenSessionExists) {
			return Session{}, shared.NewConflictError(shared.ConflictSession, "operator %d already holds an open session", actor.ID)
		}
		return Session{}, fmt.Errorf("register: open session: %w", err)
	}
	session.ID = id
	s.recordAudit(ctx, actor.ID, shared.AuditSessionOpened, id, map[string]any{
		"register_id":    reg.ID,
		"opening_amount": input.OpeningAmount.String(),
	})
	return session, nil
}

// RequireOpen returns the session when it is open, and a state conflict otherwise.
func (s *Service) RequireOpen(ctx context.Context, sessionID int64) (Session, error) {
	if sessionID <= 0 {
		return Session{}, shared.NewValidationError("session_id", "required")
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !session.IsOpen() {
		return Session{}, shared.NewConflictError(shared.ConflictState, "session %d is %s", sessionID, session.Status)
	}
	return session, nil
}

// CurrentSession returns the actor's open session, if any.
func (s *Service) CurrentSession(ctx context.Context, actor shared.Actor) (Session, bool, error) {
	return s.repo.FindOpenSession(ctx, actor.ID)
}

func (s *Service) requireOwnedOpen(ctx context.Context, actor shared.Actor, sessionID int64) (Session, error) {
	session, err := s.RequireOpen(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if session.OperatorID != actor.ID && !shared.Can(actor.Role, shared.CapRegisterManage) {
		return Session{}, shared.NewConflictError(shared.ConflictPermission, "session %d belongs to another operator", sessionID)
	}
	return session, nil
}

// RecordExpense writes an expense tagged with the session and its warehouse.
func (s *Service) RecordExpense(ctx context.Context, actor shared.Actor, input ExpenseInput) (Expense, error) {
	if err := shared.Authorize(actor, shared.CapRegisterOperate); err != nil {
		return Expense{}, err
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return Expense{}, shared.NewValidationError("category", "required")
	}
	if !input.Amount.IsPositive() {
		return Expense{}, shared.NewValidationError("amount", "must be positive")
	}
	session, err := s.requireOwnedOpen(ctx, actor, input.SessionID)
	if err != nil {
		return Expense{}, err
	}
	expense := Expense{
		SessionID:   session.ID,
		OperatorID:  actor.ID,
		WarehouseID: session.WarehouseID,
		Category:    category,
		Amount:      input.Amount,
		Description: input.Description,
		CreatedAt:   s.now().UTC(),
	}
	id, err := s.repo.InsertExpense(ctx, expense)
	if err != nil {
		return Expense{}, fmt.Errorf("register: record expense: %w", err)
	}
	expense.ID = id
	s.recordAudit(ctx, actor.ID, shared.AuditExpenseRecorded, session.ID, map[string]any{
		"expense_id": id,
		"amount":     input.Amount.String(),
		"category":   category,
	})
	return expense, nil
}

// PrecloseSummary projects the expected drawer amount without writing anything.
func (s *Service) PrecloseSummary(ctx context.Context, actor shared.Actor, sessionID int64) (Summary, error) {
	if err := shared.Authorize(actor, shared.CapRegisterOperate); err != nil {
		return Summary{}, err
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	if session.OperatorID != actor.ID && !shared.Can(actor.Role, shared.CapRegisterManage) {
		return Summary{}, shared.NewConflictError(shared.ConflictPermission, "session %d belongs to another operator", sessionID)
	}
	return s.summarize(ctx, session)
}

func (s *Service) summarize(ctx context.Context, session Session) (Summary, error) {
	expenses, err := s.repo.SumExpenses(ctx, session.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("register: sum expenses: %w", err)
	}
	sales, err := s.repo.SumSales(ctx, session.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("register: sum sales: %w", err)
	}
	total := sales.Cash.Add(sales.Card)
	return Summary{
		SessionID:      session.ID,
		OpeningAmount:  session.OpeningAmount,
		ExpenseTotal:   expenses,
		CashSales:      sales.Cash,
		CardSales:      sales.Card,
		SalesTotal:     total,
		ExpectedAmount: session.OpeningAmount.Add(total).Sub(expenses),
	}, nil
}

// Close records the counted cash and variance and closes the session for good.
func (s *Service) Close(ctx context.Context, actor shared.Actor, input CloseInput) (CloseResult, error) {
	if err := shared.Authorize(actor, shared.CapRegisterOperate); err != nil {
		return CloseResult{}, err
	}
	if input.CountedCash.IsNegative() {
		return CloseResult{}, shared.NewValidationError("closing_amount", "must not be negative")
	}
	session, err := s.requireOwnedOpen(ctx, actor, input.SessionID)
	if err != nil {
		return CloseResult{}, err
	}
	summary, err := s.summarize(ctx, session)
	if err != nil {
		return CloseResult{}, err
	}
	variance := input.CountedCash.Sub(summary.ExpectedAmount)
	closedAt := s.now().UTC()
	session.Status = SessionClosed
	session.ClosingAmount = decimal.NewNullDecimal(input.CountedCash)
	session.ExpectedAmount = decimal.NewNullDecimal(summary.ExpectedAmount)
	session.Variance = decimal.NewNullDecimal(variance)
	session.ClosedAt = &closedAt
	session.Notes = input.Notes

	closed, err := s.repo.CloseSession(ctx, session)
	if err != nil {
		return CloseResult{}, fmt.Errorf("register: close session: %w", err)
	}
	if !closed {
		return CloseResult{}, shared.NewConflictError(shared.ConflictState, "session %d is already closed", session.ID)
	}
	level := s.ClassifyVariance(variance)
	if level != VarianceNormal {
		s.logger.Warn("register variance", slog.Int64("session_id", session.ID), slog.String("variance", variance.String()), slog.String("level", string(level)))
	}
	s.recordAudit(ctx, actor.ID, shared.AuditSessionClosed, session.ID, map[string]any{
		"closing_amount":  input.CountedCash.String(),
		"expected_amount": summary.ExpectedAmount.String(),
		"variance":        variance.String(),
		"level":           string(level),
	})
	return CloseResult{Session: session, Summary: summary, Variance: variance, Level: level}, nil
}

// ClassifyVariance grades the absolute variance against the configured thresholds.
func (s *Service) ClassifyVariance(variance decimal.Decimal) VarianceLevel {
	abs := variance.Abs()
	switch {
	case abs.GreaterThanOrEqual(s.cfg.VarianceCritical):
		return VarianceCritical
	case abs.GreaterThanOrEqual(s.cfg.VarianceWarn):
		return VarianceWarning
	}
	return VarianceNormal
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, sessionID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "register_session",
		EntityID: strconv.FormatInt(sessionID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("register audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
