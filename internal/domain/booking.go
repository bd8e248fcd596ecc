package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusScheduled  BookingStatus = "scheduled"
	BookingStatusInProgress BookingStatus = "in-progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

// OccupyingStatuses are the statuses that remove time from an instructor's availability.
var OccupyingStatuses = []BookingStatus{
	BookingStatusScheduled,
	BookingStatusInProgress,
	BookingStatusCompleted,
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusScheduled, BookingStatusInProgress, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// Occupies treats every status except cancelled as holding time, including unknown ones.
func (s BookingStatus) Occupies() bool {
	return s != BookingStatusCancelled
}

// CanTransitionTo allows scheduled -> in-progress -> completed, and cancellation of any lesson that
// has not completed yet.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusScheduled:
		return next == BookingStatusInProgress || next == BookingStatusCancelled
	case BookingStatusInProgress:
		return next == BookingStatusCompleted || next == BookingStatusCancelled
	}
	return false
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              uuid.UUID     `bun:"id,pk,type:uuid"`
	InstructorID    string        `bun:"instructor_id,notnull"`
	StudentID       string        `bun:"student_id,notnull"`
	Date            time.Time     `bun:"lesson_date,type:date,notnull"`
	StartMinute     int           `bun:"start_minute,notnull"`
	DurationMinutes *int          `bun:"duration_minutes"`
	Status          BookingStatus `bun:"status,notnull"`
	CreatedAt       time.Time     `bun:"created_at,notnull"`
	UpdatedAt       time.Time     `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// ResolveDuration applies DefaultDurationMinutes to an omitted duration and rejects non-positive ones.
func ResolveDuration(minutes *int) (int, error) {
	if minutes == nil {
		return DefaultDurationMinutes, nil
	}
	if *minutes <= 0 {
		return 0, fmt.Errorf("%w: duration must be a positive number of minutes, got %d", ErrInvalidDuration, *minutes)
	}
	return *minutes, nil
}

// Duration falls back to DefaultDurationMinutes when the record carries no duration.
func (b Booking) Duration() int {
	if b.DurationMinutes == nil || *b.DurationMinutes <= 0 {
		return DefaultDurationMinutes
	}
	return *b.DurationMinutes
}

// SameRequest reports whether o asks for the same lesson as b. Replays of an idempotent create must
// match on everything but ID, status and timestamps.
func (b Booking) SameRequest(o Booking) bool {
	return b.InstructorID == o.InstructorID &&
		b.StudentID == o.StudentID &&
		DateOf(b.Date).Equal(DateOf(o.Date)) &&
		b.StartMinute == o.StartMinute &&
		b.Duration() == o.Duration()
}

func (b Booking) Interval() BookedInterval {
	return BookedInterval{
		BookingID:       b.ID,
		InstructorID:    b.InstructorID,
		Date:            DateOf(b.Date),
		StartMinute:     b.StartMinute,
		DurationMinutes: b.Duration(),
		Status:          b.Status,
	}
}

// BookedInterval is the read view of a committed booking used for conflict tests.
type BookedInterval struct {
	BookingID       uuid.UUID
	InstructorID    string
	Date            time.Time
	StartMinute     int
	DurationMinutes int
	Status          BookingStatus
}

func (b BookedInterval) EndMinute() int {
	return b.StartMinute + b.DurationMinutes
}

// FirstConflict returns the first occupying interval that overlaps [start, end).
func FirstConflict(start, end int, booked []BookedInterval) (BookedInterval, bool) {
	for _, b := range booked {
		if !b.Status.Occupies() {
			continue
		}
		if Overlaps(start, end, b.StartMinute, b.EndMinute()) {
			return b, true
		}
	}
	return BookedInterval{}, false
}
