// Package rbac gates HTTP routes on the capabilities of the actor in context.
package rbac

import (
	"log/slog"
	"net/http"

	"github.com/HDurna/drn-satis-yazilimi/internal/platform/httpx"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// Middleware wires capability checks for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the actor holds at least one of caps.
func (m Middleware) RequireAny(caps ...shared.Capability) func(http.Handler) http.Handler {
	caps = normalizeCapabilities(caps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(caps) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if hasAny(actor.Role, caps) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, actor, caps)
		})
	}
}

// RequireAll ensures the actor holds every one of caps.
func (m Middleware) RequireAll(caps ...shared.Capability) func(http.Handler) http.Handler {
	caps = normalizeCapabilities(caps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if hasAll(actor.Role, caps) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, actor, caps)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, actor shared.Actor, caps []shared.Capability) {
	if m.Logger != nil {
		m.Logger.Warn("rbac denied", slog.Int64("actor_id", actor.ID), slog.String("role", string(actor.Role)),
			slog.String("path", r.URL.Path), slog.Any("required", caps))
	}
	httpx.RespondError(w, shared.ErrForbidden)
}

func normalizeCapabilities(caps []shared.Capability) []shared.Capability {
	unique := make(map[shared.Capability]struct{}, len(caps))
	normalized := make([]shared.Capability, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, ok := unique[c]; ok {
			continue
		}
		unique[c] = struct{}{}
		normalized = append(normalized, c)
	}
	return normalized
}

func hasAny(role shared.Role, caps []shared.Capability) bool {
	for _, c := range caps {
		if shared.Can(role, c) {
			return true
		}
	}
	return false
}

func hasAll(role shared.Role, caps []shared.Capability) bool {
	for _, c := range caps {
		if !shared.Can(role, c) {
			return false
		}
	}
	return true
}
