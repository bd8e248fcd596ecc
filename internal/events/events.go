package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
)

const (
	TopicWindowCreated        = "availability.window.created"
	TopicWindowUpdated        = "availability.window.updated"
	TopicWindowRemoved        = "availability.window.removed"
	TopicBookingCreated       = "booking.created"
	TopicBookingStatusChanged = "booking.status_changed"
)

// Publisher delivers domain events. Delivery is best effort: implementations log and count failures
// instead of returning them, so a broker outage never fails a committed write.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any)
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) {}

func (Noop) Close() error { return nil }

type WindowEvent struct {
	WindowID      uuid.UUID `json:"window_id"`
	InstructorID  string    `json:"instructor_id"`
	IsRecurring   bool      `json:"is_recurring"`
	DayOfWeek     *int      `json:"day_of_week,omitempty"`
	Date          string    `json:"date,omitempty"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	EffectiveFrom string    `json:"effective_from,omitempty"`
	EffectiveTo   string    `json:"effective_to,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewWindowEvent(w domain.AvailabilityWindow, at time.Time) WindowEvent {
	e := WindowEvent{
		WindowID:     w.ID,
		InstructorID: w.InstructorID,
		IsRecurring:  w.IsRecurring,
		StartTime:    domain.FormatTime(w.StartMinute),
		EndTime:      domain.FormatTime(w.EndMinute),
		OccurredAt:   at.UTC(),
	}
	s := w.Scope()
	if s.Kind == domain.ScopeDate {
		e.Date = domain.FormatDate(s.Date)
	} else {
		day := int(s.Day)
		e.DayOfWeek = &day
	}
	if w.EffectiveFrom != nil {
		e.EffectiveFrom = domain.FormatDate(*w.EffectiveFrom)
	}
	if w.EffectiveTo != nil {
		e.EffectiveTo = domain.FormatDate(*w.EffectiveTo)
	}
	return e
}

type BookingEvent struct {
	BookingID       uuid.UUID `json:"booking_id"`
	InstructorID    string    `json:"instructor_id"`
	StudentID       string    `json:"student_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func NewBookingEvent(b domain.Booking, previous domain.BookingStatus, at time.Time) BookingEvent {
	return BookingEvent{
		BookingID:       b.ID,
		InstructorID:    b.InstructorID,
		StudentID:       b.StudentID,
		Date:            domain.FormatDate(b.Date),
		Time:            domain.FormatTime(b.StartMinute),
		DurationMinutes: b.Duration(),
		Status:          string(b.Status),
		PreviousStatus:  string(previous),
		OccurredAt:      at.UTC(),
	}
}
