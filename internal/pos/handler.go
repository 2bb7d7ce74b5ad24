package pos

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/httpx"
	"github.com/HDurna/drn-satis-yazilimi/internal/rbac"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// ReconcileEnqueuer schedules a background pass over unposted sales.
type ReconcileEnqueuer interface {
	EnqueueSaleReconcile(ctx context.Context) error
}

// Handler wires HTTP endpoints for checkout.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	validate   *validator.Validate
	rbac       rbac.Middleware
	reconciler ReconcileEnqueuer
}

// NewHandler constructs the POS handler. reconciler may be nil.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware, reconciler ReconcileEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac, reconciler: reconciler}
}

// MountRoutes registers POS routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapSell))
		r.Post("/sales", h.handleSale)
		r.Post("/sales/check-stock", h.handleCheckStock)
		r.Get("/transactions/{transactionID}", h.handleTransaction)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapCollect))
		r.Post("/collections", h.handleCollection)
		r.Get("/customers/{customerID}", h.handleCustomer)
	})
	r.Get("/loyalty-settings", h.handleLoyaltySettings)
	r.With(h.rbac.RequireAll(shared.CapLoyaltyManage)).Put("/loyalty-settings", h.handleUpdateLoyalty)
}

type lineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type saleRequest struct {
	SessionID     int64         `json:"session_id" validate:"required,gt=0"`
	CustomerID    *int64        `json:"customer_id" validate:"omitempty,gt=0"`
	PaymentMethod string        `json:"payment_method" validate:"required,oneof=CASH CARD ON_CREDIT"`
	Items         []lineRequest `json:"items" validate:"required,min=1,dive"`
	DocumentRef   string        `json:"document_ref" validate:"max=100"`
	Note          string        `json:"note" validate:"max=500"`
}

type checkStockRequest struct {
	WarehouseID int64         `json:"warehouse_id" validate:"required,gt=0"`
	Items       []lineRequest `json:"items" validate:"required,min=1,dive"`
}

type collectionRequest struct {
	CustomerID  int64           `json:"customer_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	SessionID   *int64          `json:"session_id" validate:"omitempty,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"omitempty,gt=0"`
	Note        string          `json:"note" validate:"max=500"`
}

func toLines(items []lineRequest) []CartLine {
	lines := make([]CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, CartLine{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return lines
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	var req saleRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ref := req.DocumentRef
	if ref == "" {
		ref = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	result, err := h.service.CompleteSale(r.Context(), actor, SaleInput{
		SessionID:     req.SessionID,
		CustomerID:    req.CustomerID,
		PaymentMethod: PaymentMethod(req.PaymentMethod),
		Lines:         toLines(req.Items),
		DocumentRef:   ref,
		Note:          req.Note,
	})
	if err != nil {
		h.logger.Error("complete sale failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if result.Partial != nil && h.reconciler != nil {
		if err := h.reconciler.EnqueueSaleReconcile(r.Context()); err != nil {
			h.logger.Warn("enqueue sale reconcile failed", slog.Any("error", err))
		}
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleCheckStock(w http.ResponseWriter, r *http.Request) {
	var req checkStockRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	warnings, err := h.service.CheckStock(r.Context(), req.WarehouseID, toLines(req.Items))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if warnings == nil {
		warnings = []shared.InsufficientStockWarning{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (h *Handler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "transactionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	txn, err := h.service.Transaction(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	var req collectionRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	txn, err := h.service.RecordCollection(r.Context(), actor, CollectionInput{
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		SessionID:   req.SessionID,
		WarehouseID: req.WarehouseID,
		Note:        req.Note,
	})
	if err != nil {
		h.logger.Error("record collection failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) handleCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "customerID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	customer, err := h.service.Customer(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) handleLoyaltySettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.LoyaltySettings(r.Context())
	if err != nil {
		h.logger.Error("load loyalty settings failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) handleUpdateLoyalty(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	var req LoyaltySettings
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.service.UpdateLoyaltySettings(r.Context(), actor, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}
