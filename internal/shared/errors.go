package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks caller-correctable input problems.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks requests that violate a state or ownership invariant.
	ErrConflict = errors.New("conflict")
	// ErrForbidden marks requests the actor's role may not perform.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing or invalid actor identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports a rejected input before any write was attempted.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictKind classifies a ConflictError.
type ConflictKind string

const (
	// ConflictState means the target is not in a state that allows the transition.
	ConflictState ConflictKind = "state"
	// ConflictSession means the operator already holds an open register session.
	ConflictSession ConflictKind = "session"
	// ConflictPermission means the actor's role lacks the capability.
	ConflictPermission ConflictKind = "permission"
)

// ConflictError reports a violated single-open-session, state or role invariant.
type ConflictError struct {
	Kind    ConflictKind
	Message string
}

// NewConflictError builds a ConflictError.
func NewConflictError(kind ConflictKind, format string, args ...any) *ConflictError {
	return &ConflictError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%s): %s", e.Kind, e.Message)
}

// Is lets errors.Is match ErrConflict, and ErrForbidden for permission conflicts.
func (e *ConflictError) Is(target error) bool {
	if target == ErrConflict {
		return true
	}
	return target == ErrForbidden && e.Kind == ConflictPermission
}

// StepFailure is one secondary effect that did not complete.
type StepFailure struct {
	Step    string `json:"step"`
	Ref     string `json:"ref,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// PartialFailure summarises secondary effects of a multi-step operation that failed
// after the primary effect was committed. The primary effect is not rolled back.
type PartialFailure struct {
	Operation string        `json:"operation"`
	Total     int           `json:"total"`
	Failures  []StepFailure `json:"failures"`
}

// Add records a failed step.
func (p *PartialFailure) Add(step, ref string, err error) {
	f := StepFailure{Step: step, Ref: ref, Err: err}
	if err != nil {
		f.Message = err.Error()
	}
	p.Failures = append(p.Failures, f)
}

// Failed returns the number of failed steps.
func (p *PartialFailure) Failed() int {
	if p == nil {
		return 0
	}
	return len(p.Failures)
}

// OrNil returns nil when no step failed.
func (p *PartialFailure) OrNil() *PartialFailure {
	if p.Failed() == 0 {
		return nil
	}
	return p
}

func (p *PartialFailure) Error() string {
	msgs := make([]string, 0, len(p.Failures))
	for _, f := range p.Failures {
		msgs = append(msgs, fmt.Sprintf("%s %s: %v", f.Step, f.Ref, f.Err))
	}
	return fmt.Sprintf("%s: %d of %d steps failed: %s", p.Operation, len(p.Failures), p.Total, strings.Join(msgs, "; "))
}

// InsufficientStockWarning flags a line that will drive stock negative. It never blocks a write.
type InsufficientStockWarning struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
	Available   int64 `json:"available"`
	Requested   int64 `json:"requested"`
}

func (w InsufficientStockWarning) String() string {
	return fmt.Sprintf("product %d at warehouse %d: requested %d, available %d", w.ProductID, w.WarehouseID, w.Requested, w.Available)
}
