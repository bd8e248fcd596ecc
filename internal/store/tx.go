package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
)

// ScheduleTx is the view of an instructor's schedule inside a locked transaction.
type ScheduleTx interface {
	ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error)
	GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error)
	InsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	SaveWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, id uuid.UUID) error

	ActiveBookingsOn(ctx context.Context, instructorID string, date time.Time) ([]domain.BookedInterval, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	SaveBookingStatus(ctx context.Context, b domain.Booking) (domain.Booking, error)
}
