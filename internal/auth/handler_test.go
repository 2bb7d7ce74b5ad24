package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/HDurna/drn-satis-yazilimi/internal/auth"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

type stubRepo struct {
	users map[int64]auth.User
}

func (s stubRepo) FindUser(ctx context.Context, id int64) (auth.User, error) {
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, shared.ErrNotFound
	}
	return u, nil
}

var issuedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTokens(t *testing.T, now time.Time) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager("0123456789abcdef-test", time.Hour, "satis")
	require.NoError(t, err)
	return tm.WithNow(func() time.Time { return now })
}

func TestTokenRoundTrip(t *testing.T) {
	tm := newTokens(t, issuedAt)
	token, exp, err := tm.Issue(auth.User{ID: 42, Role: shared.RoleCashier})
	require.NoError(t, err)
	require.Equal(t, issuedAt.Add(time.Hour), exp)

	actor, err := tm.Parse(token)
	require.NoError(t, err)
	require.Equal(t, shared.Actor{ID: 42, Role: shared.RoleCashier}, actor)
}

func TestTokenRejections(t *testing.T) {
	tm := newTokens(t, issuedAt)
	token, _, err := tm.Issue(auth.User{ID: 42, Role: shared.RoleAdmin})
	require.NoError(t, err)

	_, err = newTokens(t, issuedAt.Add(2*time.Hour)).Parse(token)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	other, err := auth.NewTokenManager("another-secret-of-16", time.Hour, "satis")
	require.NoError(t, err)
	_, err = other.WithNow(func() time.Time { return issuedAt }).Parse(token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	_, _, err = tm.Issue(auth.User{ID: 1, Role: "root"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = auth.NewTokenManager("short", time.Hour, "")
	require.Error(t, err)
}

func newRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(h.Middleware)
	r.Route("/auth", h.MountRoutes)
	return r
}

func TestMiddlewareResolvesActor(t *testing.T) {
	tm := newTokens(t, issuedAt)
	repo := stubRepo{users: map[int64]auth.User{
		42: {ID: 42, Role: shared.RoleCashier, IsActive: true},
		43: {ID: 43, Role: shared.RoleAdmin, IsActive: false},
	}}
	router := newRouter(auth.NewHandler(nil, tm, repo))

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// The token claims admin but the stored role is cashier.
	token, _, err := tm.Issue(auth.User{ID: 42, Role: shared.RoleAdmin})
	require.NoError(t, err)
	rec := call("Bearer " + token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":42,"role":"cashier"}`, rec.Body.String())

	inactive, _, err := tm.Issue(auth.User{ID: 43, Role: shared.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call("Bearer "+inactive).Code)

	unknown, _, err := tm.Issue(auth.User{ID: 99, Role: shared.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call("Bearer "+unknown).Code)

	require.Equal(t, http.StatusUnauthorized, call("Basic abc").Code)
	require.Equal(t, http.StatusUnauthorized, call("").Code)
}
