package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
)

// BookingLedger answers what is booked for an instructor on a date. Only occupying bookings are
// returned; a record without a duration counts as domain.DefaultDurationMinutes.
type BookingLedger interface {
	ActiveBookingsOn(ctx context.Context, instructorID string, date time.Time) ([]domain.BookedInterval, error)
}

// BookingRepository is the writable ledger. CreateBooking serializes writers per instructor and date,
// re-checks overlap against occupying bookings and fails with ErrConflict instead of inserting.
type BookingRepository interface {
	BookingLedger

	CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error)
}
