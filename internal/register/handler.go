package register

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/httpx"
	"github.com/HDurna/drn-satis-yazilimi/internal/rbac"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Handler wires HTTP endpoints for register sessions.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs the register handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac}
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(shared.CapRegisterOperate))
	r.Get("/sessions/current", h.handleCurrent)
	r.Post("/sessions", h.handleOpen)
	r.Get("/sessions/{sessionID}/summary", h.handleSummary)
	r.Post("/sessions/{sessionID}/expenses", h.handleExpense)
	r.Post("/sessions/{sessionID}/close", h.handleClose)
}

type openRequest struct {
	RegisterID    int64           `json:"register_id" validate:"required,gt=0"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

type expenseRequest struct {
	Category    string          `json:"category" validate:"required,max=100"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

type closeRequest struct {
	ClosingAmount decimal.Decimal `json:"closing_amount"`
	Notes         string          `json:"notes" validate:"max=1000"`
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	session, found, err := h.service.CurrentSession(r.Context(), actor)
	if err != nil {
		h.logger.Error("current session failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !found {
		httpx.RespondError(w, ErrSessionNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, err := h.service.Open(r.Context(), actor, OpenInput{RegisterID: req.RegisterID, OpeningAmount: req.OpeningAmount})
	if err != nil {
		h.logger.Error("open session failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, session)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	sessionID, err := httpx.Int64Param(r, "sessionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.PrecloseSummary(r.Context(), actor, sessionID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	sessionID, err := httpx.Int64Param(r, "sessionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req expenseRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	expense, err := h.service.RecordExpense(r.Context(), actor, ExpenseInput{
		SessionID:   sessionID,
		Category:    req.Category,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		h.logger.Error("record expense failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, expense)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	sessionID, err := httpx.Int64Param(r, "sessionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req closeRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Close(r.Context(), actor, CloseInput{SessionID: sessionID, CountedCash: req.ClosingAmount, Notes: req.Notes})
	if err != nil {
		h.logger.Error("close session failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
