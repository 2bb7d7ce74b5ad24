package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/httpx"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Handler resolves bearer tokens into actors.
type Handler struct {
	logger *slog.Logger
	tokens *TokenManager
	users  Repository
}

// NewHandler constructs the auth handler. users may be nil, in which case the token's role is trusted.
func NewHandler(logger *slog.Logger, tokens *TokenManager, users Repository) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, tokens: tokens, users: users}
}

// MountRoutes registers auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.handleMe)
}

// Middleware places the bearer token's actor in the request context. Requests without a
// token pass through anonymously; capability checks downstream answer 401 for them.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			httpx.RespondError(w, ErrInvalidToken)
			return
		}
		actor, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if h.users != nil {
			user, err := h.users.FindUser(r.Context(), actor.ID)
			switch {
			case errors.Is(err, shared.ErrNotFound):
				httpx.RespondError(w, ErrInactiveUser)
				return
			case err != nil:
				h.logger.Error("auth user lookup failed", slog.Int64("user_id", actor.ID), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			case !user.IsActive:
				httpx.RespondError(w, ErrInactiveUser)
				return
			}
			// The stored role wins so demotions apply before the token expires.
			if role, ok := shared.ParseRole(string(user.Role)); ok {
				actor.Role = role
			}
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

type meResponse struct {
	ID   int64       `json:"id"`
	Role shared.Role `json:"role"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.ActorOrFail(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{ID: actor.ID, Role: actor.Role})
}
