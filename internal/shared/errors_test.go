package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorMatches(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewValidationError("amount", "must be positive"))
	require.ErrorIs(t, err, ErrValidation)
	require.NotErrorIs(t, err, ErrConflict)
	require.Equal(t, "wrap: validation: amount: must be positive", err.Error())
	require.Equal(t, "validation: empty cart", NewValidationError("", "empty cart").Error())
}

func TestConflictErrorKinds(t *testing.T) {
	state := NewConflictError(ConflictState, "count %d is %s", 4, "COMPLETED")
	require.ErrorIs(t, state, ErrConflict)
	require.NotErrorIs(t, state, ErrForbidden)
	require.Equal(t, "conflict (state): count 4 is COMPLETED", state.Error())

	perm := NewConflictError(ConflictPermission, "nope")
	require.ErrorIs(t, perm, ErrForbidden)
	require.ErrorIs(t, perm, ErrConflict)
}

func TestPartialFailure(t *testing.T) {
	var nilFailure *PartialFailure
	require.Zero(t, nilFailure.Failed())

	p := &PartialFailure{Operation: "transfer", Total: 3}
	require.Nil(t, p.OrNil())

	p.Add("out", "TRF-1", errors.New("db down"))
	require.Equal(t, 1, p.Failed())
	require.NotNil(t, p.OrNil())
	require.Equal(t, "db down", p.Failures[0].Message)
	require.Equal(t, "transfer: 1 of 3 steps failed: out TRF-1: db down", p.Error())
}

func TestInsufficientStockWarningString(t *testing.T) {
	w := InsufficientStockWarning{ProductID: 1, WarehouseID: 2, Available: 3, Requested: 5}
	require.Equal(t, "product 1 at warehouse 2: requested 5, available 3", w.String())
}
