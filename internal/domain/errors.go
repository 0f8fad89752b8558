package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")

	ErrDuplicateID      = errors.New("domain: duplicate id")
	ErrInvalidMutation  = errors.New("domain: invalid mutation")
	ErrStaleUndoTarget  = errors.New("domain: stale undo target")
	ErrNothingToUndo    = errors.New("domain: nothing to undo")
	ErrNothingToRedo    = errors.New("domain: nothing to redo")
	ErrBoardClosed      = errors.New("domain: board closed")
	ErrEphemeralInLog   = errors.New("domain: ephemeral event cannot be logged")
	ErrInvalidInviteKey = errors.New("domain: invalid invite code")
)

// ConflictError is returned when a stale update overlaps fields that changed
// after the caller's expected version. Current is the authoritative element the
// client should rebase onto.
type ConflictError struct {
	Current  *Element
	Expected int64
	Fields   []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("domain: conflict on element %s: expected version %d, current %d (fields %v)",
		e.Current.ID, e.Expected, e.Current.Version, e.Fields)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StaleUndoError reports a history entry whose target moved on. Current is nil
// when the element no longer exists.
type StaleUndoError struct {
	ElementID uuid.UUID
	Current   *Element
	Cause     error
}

func (e *StaleUndoError) Error() string {
	return fmt.Sprintf("domain: stale undo target %s: %v", e.ElementID, e.Cause)
}

func (e *StaleUndoError) Unwrap() error { return ErrStaleUndoTarget }

// IsInformational reports errors that describe a no-op rather than a failure.
func IsInformational(err error) bool {
	return errors.Is(err, ErrNothingToUndo) || errors.Is(err, ErrNothingToRedo) || errors.Is(err, ErrStaleUndoTarget)
}
