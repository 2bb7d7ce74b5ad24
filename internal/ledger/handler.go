package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/httpx"
	"github.com/HDurna/drn-satis-yazilimi/internal/rbac"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapLedgerView))
		r.Get("/products/{productID}/stock", h.handleStock)
		r.Get("/products/{productID}/history", h.handleHistory)
		r.Get("/documents/{ref}", h.handleDocument)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapLedgerManual))
		r.Post("/movements", h.handleManual)
	})
}

type stockResponse struct {
	ProductID   int64  `json:"product_id"`
	WarehouseID *int64 `json:"warehouse_id,omitempty"`
	Quantity    int64  `json:"quantity"`
	Negative    bool   `json:"negative"`
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.Int64Param(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouseID, err := optionalInt64(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := h.service.CurrentStock(r.Context(), productID, warehouseID)
	if err != nil {
		h.logger.Error("ledger stock failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockResponse{ProductID: productID, WarehouseID: warehouseID, Quantity: qty, Negative: qty < 0})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.Int64Param(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := HistoryFilter{ProductID: productID}
	if filter.WarehouseID, err = optionalInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("limit", "must be a number"))
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("since", "must be RFC3339"))
			return
		}
		filter.Since = &since
	}
	movements, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("ledger history failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	integrity, err := h.service.DocumentIntegrity(r.Context(), ref)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, integrity)
}

type manualRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Direction   string `json:"direction" validate:"required,oneof=IN OUT"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Kind        string `json:"movement_type" validate:"required,oneof=PURCHASE SALE OTHER"`
	Reason      string `json:"reason" validate:"max=500"`
}

func (h *Handler) handleManual(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	var req manualRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := h.service.PostManual(r.Context(), actor, ManualInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Direction:   Direction(req.Direction),
		Quantity:    req.Quantity,
		Kind:        MovementKind(req.Kind),
		Reason:      req.Reason,
	})
	if err != nil {
		h.logger.Error("post manual movement failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func optionalInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, shared.NewValidationError(name, "must be a positive number")
	}
	return &v, nil
}
