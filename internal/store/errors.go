package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrOverlap             = errors.New("overlaps existing availability")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// OverlapError reports the active window that a new or updated window collides with.
type OverlapError struct {
	ConflictingWindowID uuid.UUID
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: window %s", ErrOverlap, e.ConflictingWindowID)
}

func (e *OverlapError) Is(target error) bool {
	return target == ErrOverlap
}
