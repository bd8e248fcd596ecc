package grpc

import (
	"time"

	"drivesched/backend/internal/domain"
)

// Dates travel as YYYY-MM-DD, times of day as HH:MM and durations as whole minutes.

type Window struct {
	ID            string    `json:"id"`
	InstructorID  string    `json:"instructor_id"`
	IsRecurring   bool      `json:"is_recurring"`
	DayOfWeek     *int      `json:"day_of_week,omitempty"`
	Date          string    `json:"date,omitempty"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	EffectiveFrom string    `json:"effective_from,omitempty"`
	EffectiveTo   string    `json:"effective_to,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Slot struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type Booking struct {
	ID              string    `json:"id"`
	InstructorID    string    `json:"instructor_id"`
	StudentID       string    `json:"student_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type AddWindowRequest struct {
	InstructorID  string `json:"instructor_id"`
	DayOfWeek     *int   `json:"day_of_week,omitempty"`
	Date          string `json:"date,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	EffectiveFrom string `json:"effective_from,omitempty"`
	EffectiveTo   string `json:"effective_to,omitempty"`
}

type AddWindowResponse struct {
	Window Window `json:"window"`
}

type UpdateWindowRequest struct {
	WindowID       string  `json:"window_id"`
	DayOfWeek      *int    `json:"day_of_week,omitempty"`
	Date           *string `json:"date,omitempty"`
	StartTime      *string `json:"start_time,omitempty"`
	EndTime        *string `json:"end_time,omitempty"`
	EffectiveFrom  *string `json:"effective_from,omitempty"`
	EffectiveTo    *string `json:"effective_to,omitempty"`
	ClearEffective bool    `json:"clear_effective,omitempty"`
}

type UpdateWindowResponse struct {
	Window Window `json:"window"`
}

type RemoveWindowRequest struct {
	WindowID string `json:"window_id"`
}

type RemoveWindowResponse struct{}

type ListWindowsRequest struct {
	InstructorID string `json:"instructor_id"`
}

type ListWindowsResponse struct {
	Windows []Window `json:"windows"`
}

type CopyWeekRequest struct {
	InstructorID string `json:"instructor_id"`
	// WeekOf is any date inside the source week; empty means the current week.
	WeekOf string `json:"week_of,omitempty"`
}

type CopyWeekResponse struct {
	CreatedWindowIDs []string `json:"created_window_ids"`
}

type ResolveAvailabilityRequest struct {
	InstructorID string `json:"instructor_id"`
	Date         string `json:"date"`
}

type ResolveAvailabilityResponse struct {
	InstructorID string `json:"instructor_id"`
	Date         string `json:"date"`
	Available    bool   `json:"available"`
	FullyBooked  bool   `json:"fully_booked"`
	Slots        []Slot `json:"slots"`
}

type CheckAvailabilityRequest struct {
	InstructorID    string `json:"instructor_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

type CheckAvailabilityResponse struct {
	Available bool `json:"available"`
}

type CreateBookingRequest struct {
	InstructorID    string `json:"instructor_id"`
	StudentID       string `json:"student_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

type CreateBookingResponse struct {
	Booking Booking `json:"booking"`
}

type CancelBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type CancelBookingResponse struct {
	Booking Booking `json:"booking"`
}

type UpdateBookingStatusRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type UpdateBookingStatusResponse struct {
	Booking Booking `json:"booking"`
}

func toWireWindow(w domain.AvailabilityWindow) Window {
	out := Window{
		ID:           w.ID.String(),
		InstructorID: w.InstructorID,
		IsRecurring:  w.IsRecurring,
		StartTime:    domain.FormatTime(w.StartMinute),
		EndTime:      domain.FormatTime(w.EndMinute),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
	s := w.Scope()
	if s.Kind == domain.ScopeDate {
		out.Date = domain.FormatDate(s.Date)
	} else {
		day := int(s.Day)
		out.DayOfWeek = &day
	}
	if w.EffectiveFrom != nil {
		out.EffectiveFrom = domain.FormatDate(*w.EffectiveFrom)
	}
	if w.EffectiveTo != nil {
		out.EffectiveTo = domain.FormatDate(*w.EffectiveTo)
	}
	return out
}

func toWireBooking(b domain.Booking) Booking {
	return Booking{
		ID:              b.ID.String(),
		InstructorID:    b.InstructorID,
		StudentID:       b.StudentID,
		Date:            domain.FormatDate(b.Date),
		Time:            domain.FormatTime(b.StartMinute),
		DurationMinutes: b.Duration(),
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toWireSlots(slots []domain.BookableSlot) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, Slot{
			StartTime:       s.StartTime(),
			EndTime:         domain.FormatTime(s.EndMinute()),
			DurationMinutes: s.DurationMinutes,
		})
	}
	return out
}
