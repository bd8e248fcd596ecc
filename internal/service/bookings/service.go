package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/events"
	"drivesched/backend/internal/store"
	"drivesched/backend/internal/telemetry"
)

// ErrOutsideWorkingHours rejects a lesson that does not fit inside one of the instructor's windows.
var ErrOutsideWorkingHours = errors.New("outside working hours")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type WindowSource interface {
	WindowsFor(ctx context.Context, instructorID string, date time.Time) ([]domain.AvailabilityWindow, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context, instructorID string)
}

type Service struct {
	repo          store.BookingRepository
	windows       WindowSource
	requireWindow bool
	events        events.Publisher
	cache         Invalidator
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Service)

// WithWindowPolicy controls whether a booking must lie inside a declared window.
func WithWindowPolicy(require bool) Option {
	return func(s *Service) { s.requireWindow = require }
}

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithInvalidator(c Invalidator) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo store.BookingRepository, windows WindowSource, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		windows:       windows,
		requireWindow: true,
		events:        events.Noop{},
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "booking_service")
	return s
}

type CreateInput struct {
	InstructorID    string
	StudentID       string
	Date            time.Time
	Time            string
	DurationMinutes *int
	IdempotencyKey  string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	instructorID := strings.TrimSpace(in.InstructorID)
	if instructorID == "" {
		return domain.Booking{}, s.attempt(validationError("instructor_id is required"))
	}
	studentID := strings.TrimSpace(in.StudentID)
	if studentID == "" {
		return domain.Booking{}, s.attempt(validationError("student_id is required"))
	}
	if in.Date.IsZero() {
		return domain.Booking{}, s.attempt(validationError("date is required"))
	}
	start, err := domain.ParseTime(strings.TrimSpace(in.Time))
	if err != nil {
		return domain.Booking{}, s.attempt(err)
	}
	duration, err := domain.ResolveDuration(in.DurationMinutes)
	if err != nil {
		return domain.Booking{}, s.attempt(err)
	}
	if duration > domain.MinutesPerDay-start {
		return domain.Booking{}, s.attempt(validationError("lesson must end on the day it starts"))
	}

	b := domain.Booking{
		InstructorID:    instructorID,
		StudentID:       studentID,
		Date:            domain.DateOf(in.Date),
		StartMinute:     start,
		DurationMinutes: in.DurationMinutes,
		Status:          domain.BookingStatusScheduled,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Booking{}, s.attempt(validationError("idempotency_key too long"))
		}
		b.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("drivesched:create_booking:"+instructorID+":"+key))

		existing, ok, err := s.replay(ctx, b)
		if err != nil {
			return domain.Booking{}, s.attempt(err)
		}
		if ok {
			s.logger.InfoContext(ctx, "booking replayed",
				"booking_id", existing.ID,
				"instructor_id", existing.InstructorID,
			)
			return existing, nil
		}
	}

	if s.requireWindow {
		if err := s.withinWindow(ctx, b.Date, instructorID, start, start+duration); err != nil {
			return domain.Booking{}, s.attempt(err)
		}
	}

	created, err := s.repo.CreateBooking(ctx, b)
	if err != nil {
		return domain.Booking{}, s.attempt(err)
	}
	s.attempt(nil)
	s.logger.InfoContext(ctx, "booking created",
		"booking_id", created.ID,
		"instructor_id", created.InstructorID,
		"date", domain.FormatDate(created.Date),
		"time", domain.FormatTime(created.StartMinute),
	)
	s.changed(ctx, events.TopicBookingCreated, created, "")
	return created, nil
}

// replay returns the booking already stored under b's idempotent ID. Replays skip the working-hours
// policy and emit no events. Two replays racing the first create can still both reach CreateBooking,
// which returns the stored booking to the loser.
func (s *Service) replay(ctx context.Context, b domain.Booking) (domain.Booking, bool, error) {
	existing, err := s.repo.GetBooking(ctx, b.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, fmt.Errorf("load booking: %w", err)
	}
	if !existing.SameRequest(b) {
		return domain.Booking{}, false, store.ErrIdempotencyConflict
	}
	return existing, true, nil
}

// withinWindow checks the lesson against the resolved windows. It is not atomic with window writes:
// a window removed between this check and the insert does not void the booking.
func (s *Service) withinWindow(ctx context.Context, date time.Time, instructorID string, start, end int) error {
	windows, err := s.windows.WindowsFor(ctx, instructorID, date)
	if err != nil {
		return fmt.Errorf("load windows: %w", err)
	}
	for _, w := range windows {
		if start >= w.StartMinute && end <= w.EndMinute {
			return nil
		}
	}
	return ErrOutsideWorkingHours
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	return s.repo.GetBooking(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.UpdateStatus(ctx, id, domain.BookingStatusCancelled)
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	if !status.Valid() {
		return domain.Booking{}, validationError(fmt.Sprintf("unknown status %q", status))
	}

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if !current.Status.CanTransitionTo(status) {
		return domain.Booking{}, validationError(fmt.Sprintf("cannot move booking from %s to %s", current.Status, status))
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, id, status)
	if errors.Is(err, store.ErrInvalidTransition) {
		return domain.Booking{}, validationError(fmt.Sprintf("cannot move booking to %s: %v", status, err))
	}
	if err != nil {
		return domain.Booking{}, err
	}
	s.changed(ctx, events.TopicBookingStatusChanged, updated, current.Status)
	return updated, nil
}

func (s *Service) changed(ctx context.Context, topic string, b domain.Booking, previous domain.BookingStatus) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, b.InstructorID)
	}
	s.events.Publish(ctx, topic, b.InstructorID, events.NewBookingEvent(b, previous, s.now()))
}

// attempt counts a creation outcome and returns err unchanged.
func (s *Service) attempt(err error) error {
	var vErr *ValidationError
	outcome := "error"
	switch {
	case err == nil:
		outcome = "created"
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrIdempotencyConflict):
		outcome = "conflict"
	case errors.Is(err, ErrOutsideWorkingHours):
		outcome = "outside_hours"
	case errors.As(err, &vErr), errors.Is(err, domain.ErrInvalidFormat), errors.Is(err, domain.ErrInvalidDuration):
		outcome = "invalid"
	}
	telemetry.BookingAttempts.WithLabelValues(outcome).Inc()
	return err
}
