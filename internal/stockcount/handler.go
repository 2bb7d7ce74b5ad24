package stockcount

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/httpx"
	"github.com/HDurna/drn-satis-yazilimi/internal/rbac"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Handler wires HTTP endpoints for stock counts.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs the stock count handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac}
}

// MountRoutes registers stock count routes. Fine-grained checks happen in the service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(shared.CapCountCreate, shared.CapCountEdit, shared.CapCountApprove))
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{countID}", h.handleGet)
	r.Get("/{countID}/approvals", h.handleApprovals)
	r.Post("/{countID}/populate", h.handlePopulate)
	r.Post("/{countID}/submit", h.handleSubmit)
	r.Post("/{countID}/approve", h.handleApprove)
	r.Post("/{countID}/repost", h.handleRepost)
	r.Post("/{countID}/reject", h.handleReject)
	r.Post("/{countID}/cancel", h.handleCancel)
	r.Delete("/{countID}", h.handleDelete)
	r.Put("/items/{itemID}", h.handleRecord)
}

type createRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Note        string `json:"note" validate:"max=1000"`
}

type recordRequest struct {
	CountedStock      int64 `json:"counted_stock" validate:"gte=0"`
	DefectiveQuantity int64 `json:"defective_quantity" validate:"gte=0"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	counts, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list stock counts failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	count, err := h.service.Create(r.Context(), actor, CreateInput{Name: req.Name, WarehouseID: req.WarehouseID, Note: req.Note})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, count)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "countID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	count, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "countID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.service.Approvals(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) handlePopulate(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	n, err := h.service.Populate(r.Context(), actor, id)
	if err != nil {
		h.logger.Error("populate stock count failed", slog.Int64("count_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"items": n})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	itemID, err := httpx.Int64Param(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recordRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.RecordCount(r.Context(), actor, RecordInput{ItemID: itemID, Counted: req.CountedStock, Defective: req.DefectiveQuantity})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	note, ok := h.decodeNote(w, r)
	if !ok {
		return
	}
	count, err := h.service.Submit(r.Context(), actor, id, note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	note, ok := h.decodeNote(w, r)
	if !ok {
		return
	}
	result, err := h.service.Approve(r.Context(), actor, id, note)
	if err != nil {
		h.logger.Error("approve stock count failed", slog.Int64("count_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleRepost(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Repost(r.Context(), actor, id)
	if err != nil {
		h.logger.Error("repost stock count failed", slog.Int64("count_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	note, ok := h.decodeNote(w, r)
	if !ok {
		return
	}
	if err := h.service.Reject(r.Context(), actor, id, note); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (shared.Actor, int64, bool) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return shared.Actor{}, 0, false
	}
	id, err := httpx.Int64Param(r, "countID")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}

// decodeNote accepts an empty body.
func (h *Handler) decodeNote(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.ContentLength == 0 {
		return "", true
	}
	var req noteRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return "", false
	}
	return req.Note, true
}
