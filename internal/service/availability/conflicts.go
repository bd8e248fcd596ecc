package availability

import (
	"context"
	"fmt"
	"time"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
)

type CheckInput struct {
	InstructorID    string
	Date            time.Time
	Time            string
	DurationMinutes *int
}

// ConflictChecker admits a proposed lesson when no occupying booking overlaps it. Declared working
// hours are not consulted; callers that need both compose it with Engine.Resolve or WindowsFor.
type ConflictChecker struct {
	ledger store.BookingLedger
}

func NewConflictChecker(ledger store.BookingLedger) *ConflictChecker {
	return &ConflictChecker{ledger: ledger}
}

func (c *ConflictChecker) IsAvailable(ctx context.Context, in CheckInput) (bool, error) {
	if in.InstructorID == "" {
		return false, validationError("instructor_id is required")
	}
	start, err := domain.ParseTime(in.Time)
	if err != nil {
		return false, err
	}
	duration, err := domain.ResolveDuration(in.DurationMinutes)
	if err != nil {
		return false, err
	}
	if duration > domain.MinutesPerDay-start {
		return false, fmt.Errorf("%w: lesson of %d minutes from %s runs past midnight", domain.ErrInvalidDuration, duration, domain.FormatTime(start))
	}

	booked, err := c.ledger.ActiveBookingsOn(ctx, in.InstructorID, domain.DateOf(in.Date))
	if err != nil {
		return false, fmt.Errorf("load bookings: %w", err)
	}
	_, conflict := domain.FirstConflict(start, start+duration, booked)
	return !conflict, nil
}
