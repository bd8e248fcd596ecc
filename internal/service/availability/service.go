package availability

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/events"
	"drivesched/backend/internal/store"
	"drivesched/backend/internal/telemetry"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Invalidator drops cached availability after an instructor's schedule changes.
type Invalidator interface {
	Invalidate(ctx context.Context, instructorID string)
}

type Service struct {
	repo   store.AvailabilityRepository
	events events.Publisher
	cache  Invalidator
	logger *slog.Logger
	now    func() time.Time
}

type ServiceOption func(*Service)

func WithEvents(p events.Publisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

func WithInvalidator(c Invalidator) ServiceOption {
	return func(s *Service) { s.cache = c }
}

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(repo store.AvailabilityRepository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		events: events.Noop{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "availability_service")
	return s
}

// WindowInput describes a window. Exactly one of DayOfWeek (0=Sunday..6=Saturday) and Date is set.
type WindowInput struct {
	InstructorID  string
	DayOfWeek     *int
	Date          *time.Time
	StartTime     string
	EndTime       string
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
}

func parseScope(dayOfWeek *int, date *time.Time) (domain.Scope, error) {
	switch {
	case dayOfWeek != nil && date != nil:
		return domain.Scope{}, validationError("only one of day_of_week and date may be set")
	case dayOfWeek != nil:
		if *dayOfWeek < 0 || *dayOfWeek > 6 {
			return domain.Scope{}, validationError("day_of_week must be 0 (Sunday) through 6 (Saturday)")
		}
		return domain.RecurringScope(time.Weekday(*dayOfWeek)), nil
	case date != nil:
		return domain.DateScope(*date), nil
	}
	return domain.Scope{}, validationError("one of day_of_week and date is required")
}

func parseRange(startTime, endTime string) (int, int, error) {
	start, err := domain.ParseTime(strings.TrimSpace(startTime))
	if err != nil {
		return 0, 0, err
	}
	end, err := domain.ParseTime(strings.TrimSpace(endTime))
	if err != nil {
		return 0, 0, err
	}
	if start >= end {
		return 0, 0, validationError("start_time must be before end_time")
	}
	return start, end, nil
}

func validateEffective(w domain.AvailabilityWindow) error {
	if w.EffectiveFrom == nil && w.EffectiveTo == nil {
		return nil
	}
	if !w.IsRecurring {
		return validationError("effective_from and effective_to apply to recurring windows only")
	}
	if w.EffectiveFrom != nil && w.EffectiveTo != nil && domain.DateOf(*w.EffectiveTo).Before(domain.DateOf(*w.EffectiveFrom)) {
		return validationError("effective_to must not be before effective_from")
	}
	return nil
}

func truncDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := domain.DateOf(*t)
	return &d
}

func (s *Service) AddWindow(ctx context.Context, in WindowInput) (domain.AvailabilityWindow, error) {
	instructorID := strings.TrimSpace(in.InstructorID)
	if instructorID == "" {
		return domain.AvailabilityWindow{}, s.rejected("add", validationError("instructor_id is required"))
	}
	scope, err := parseScope(in.DayOfWeek, in.Date)
	if err != nil {
		return domain.AvailabilityWindow{}, s.rejected("add", err)
	}
	start, end, err := parseRange(in.StartTime, in.EndTime)
	if err != nil {
		return domain.AvailabilityWindow{}, s.rejected("add", err)
	}

	w := domain.NewWindow(instructorID, scope, start, end)
	w.EffectiveFrom = truncDate(in.EffectiveFrom)
	w.EffectiveTo = truncDate(in.EffectiveTo)
	if err := validateEffective(w); err != nil {
		return domain.AvailabilityWindow{}, s.rejected("add", err)
	}

	created, err := s.repo.AddWindow(ctx, w)
	if err != nil {
		return domain.AvailabilityWindow{}, s.rejected("add", err)
	}
	telemetry.WindowWrites.WithLabelValues("add", "ok").Inc()
	s.changed(ctx, events.TopicWindowCreated, created)
	return created, nil
}

// UpdateWindowInput carries the fields to change. Nil fields keep their value; setting either of
// DayOfWeek or Date moves the window to that scope.
type UpdateWindowInput struct {
	ID             uuid.UUID
	DayOfWeek      *int
	Date           *time.Time
	StartTime      *string
	EndTime        *string
	EffectiveFrom  *time.Time
	EffectiveTo    *time.Time
	ClearEffective bool
}

func (s *Service) UpdateWindow(ctx context.Context, in UpdateWindowInput) (domain.AvailabilityWindow, error) {
	if in.ID == uuid.Nil {
		return domain.AvailabilityWindow{}, s.rejected("update", validationError("window_id is required"))
	}

	current, err := s.repo.GetWindow(ctx, in.ID)
	if err != nil {
		return domain.AvailabilityWindow{}, s.rejected("update", err)
	}

	patch := store.WindowPatch{
		EffectiveFrom:  truncDate(in.EffectiveFrom),
		EffectiveTo:    truncDate(in.EffectiveTo),
		ClearEffective: in.ClearEffective,
	}
	if in.DayOfWeek != nil || in.Date != nil {
		scope, err := parseScope(in.DayOfWeek, in.Date)
		if err != nil {
			return domain.AvailabilityWindow{}, s.rejected("update", err)
		}
		patch.Scope = &scope
	}

	startTime := domain.FormatTime(current.StartMinute)
	if in.StartTime != nil {
		startTime = *in.StartTime
	}
	endTime := domain.FormatTime(current.EndMinute)
	if in.EndTime != nil {
		endTime = *in.EndTime
	}
	start, end, err := parseRange(startTime, endTime)
	if err != nil {
		return domain.AvailabilityWindow{}, s.rejected("update", err)
	}
	patch.StartMinute = &start
	patch.EndMinute = &end

	preview := patch.Apply(current)
	if (in.EffectiveFrom != nil || in.EffectiveTo != nil) && !preview.IsRecurring {
		return domain.AvailabilityWindow{}, s.rejected("update", validationError("effective_from and effective_to apply to recurring windows only"))
	}
	if err := validateEffective(preview); err != nil {
		return domain.AvailabilityWindow{}, s.rejected("update", err)
	}

	updated, err := s.repo.UpdateWindow(ctx, in.ID, patch)
	if err != nil {
		return domain.AvailabilityWindow{}, s.rejected("update", err)
	}
	telemetry.WindowWrites.WithLabelValues("update", "ok").Inc()
	s.changed(ctx, events.TopicWindowUpdated, updated)
	return updated, nil
}

func (s *Service) RemoveWindow(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return s.rejected("remove", validationError("window_id is required"))
	}
	removed, err := s.repo.RemoveWindow(ctx, id)
	if err != nil {
		return s.rejected("remove", err)
	}
	telemetry.WindowWrites.WithLabelValues("remove", "ok").Inc()
	s.changed(ctx, events.TopicWindowRemoved, removed)
	return nil
}

func (s *Service) ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return nil, validationError("instructor_id is required")
	}
	return s.repo.ListWindows(ctx, instructorID)
}

func (s *Service) WindowsFor(ctx context.Context, instructorID string, date time.Time) ([]domain.AvailabilityWindow, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return nil, validationError("instructor_id is required")
	}
	return s.repo.WindowsFor(ctx, instructorID, domain.DateOf(date))
}

// CopyWeek copies the windows of the week containing weekOf (the current week when nil) into the
// following week. Copies that would overlap are skipped; the IDs of the created windows are returned.
func (s *Service) CopyWeek(ctx context.Context, instructorID string, weekOf *time.Time) ([]uuid.UUID, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return nil, s.rejected("copy_week", validationError("instructor_id is required"))
	}
	week := domain.DateOf(s.now())
	if weekOf != nil {
		week = domain.DateOf(*weekOf)
	}

	created, err := s.repo.CopyWeek(ctx, instructorID, week)
	if err != nil {
		return nil, s.rejected("copy_week", err)
	}
	telemetry.WindowWrites.WithLabelValues("copy_week", "ok").Inc()
	s.logger.InfoContext(ctx, "week copied",
		"instructor_id", instructorID,
		"week_start", domain.FormatDate(domain.WeekStart(week)),
		"created", len(created),
	)

	if len(created) > 0 && s.cache != nil {
		s.cache.Invalidate(ctx, instructorID)
	}
	for _, id := range created {
		w, err := s.repo.GetWindow(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "copied window not readable for event", "window_id", id, "err", err)
			continue
		}
		s.events.Publish(ctx, events.TopicWindowCreated, instructorID, events.NewWindowEvent(w, s.now()))
	}
	return created, nil
}

func (s *Service) changed(ctx context.Context, topic string, w domain.AvailabilityWindow) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, w.InstructorID)
	}
	s.events.Publish(ctx, topic, w.InstructorID, events.NewWindowEvent(w, s.now()))
}

func (s *Service) rejected(op string, err error) error {
	var vErr *ValidationError
	switch {
	case errors.Is(err, store.ErrOverlap):
		telemetry.WindowWrites.WithLabelValues(op, "overlap").Inc()
	case errors.As(err, &vErr), errors.Is(err, domain.ErrInvalidFormat):
		telemetry.WindowWrites.WithLabelValues(op, "invalid").Inc()
	default:
		telemetry.WindowWrites.WithLabelValues(op, "error").Inc()
	}
	return err
}
