package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/service/availability"
	"drivesched/backend/internal/service/bookings"
	"drivesched/backend/internal/store"
)

type windowService interface {
	AddWindow(ctx context.Context, in availability.WindowInput) (domain.AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, in availability.UpdateWindowInput) (domain.AvailabilityWindow, error)
	RemoveWindow(ctx context.Context, id uuid.UUID) error
	ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error)
	CopyWeek(ctx context.Context, instructorID string, weekOf *time.Time) ([]uuid.UUID, error)
}

type availabilityResolver interface {
	Resolve(ctx context.Context, instructorID string, date time.Time) (domain.AvailabilityResult, error)
}

type conflictChecker interface {
	IsAvailable(ctx context.Context, in availability.CheckInput) (bool, error)
}

type bookingService interface {
	Create(ctx context.Context, in bookings.CreateInput) (domain.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error)
}

type AvailabilityServer struct {
	windows  windowService
	resolver availabilityResolver
	checker  conflictChecker
	bookings bookingService
	log      *slog.Logger
}

var _ AvailabilityServiceServer = (*AvailabilityServer)(nil)

func NewAvailabilityServer(windows windowService, resolver availabilityResolver, checker conflictChecker, bookings bookingService, log *slog.Logger) *AvailabilityServer {
	if log == nil {
		log = slog.Default()
	}
	return &AvailabilityServer{
		windows:  windows,
		resolver: resolver,
		checker:  checker,
		bookings: bookings,
		log:      log.With(slog.String("component", "grpc.availability")),
	}
}

func (s *AvailabilityServer) AddWindow(ctx context.Context, req *AddWindowRequest) (*AddWindowResponse, error) {
	log := s.log.With(slog.String("rpc", "AddWindow"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log = log.With(slog.String("instructor_id", req.InstructorID))

	date, err := optionalDate(req.Date)
	if err != nil {
		return nil, s.fail(log, "window add failed", err)
	}
	from, err := optionalDate(req.EffectiveFrom)
	if err != nil {
		return nil, s.fail(log, "window add failed", err)
	}
	to, err := optionalDate(req.EffectiveTo)
	if err != nil {
		return nil, s.fail(log, "window add failed", err)
	}

	w, err := s.windows.AddWindow(ctx, availability.WindowInput{
		InstructorID:  req.InstructorID,
		DayOfWeek:     req.DayOfWeek,
		Date:          date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		EffectiveFrom: from,
		EffectiveTo:   to,
	})
	if err != nil {
		return nil, s.fail(log, "window add failed", err)
	}

	log.Info("window added", slog.String("window_id", w.ID.String()))
	return &AddWindowResponse{Window: toWireWindow(w)}, nil
}

func (s *AvailabilityServer) UpdateWindow(ctx context.Context, req *UpdateWindowRequest) (*UpdateWindowResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateWindow"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.WindowID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "window_id must be a UUID")
	}
	log = log.With(slog.String("window_id", id.String()))

	in := availability.UpdateWindowInput{
		ID:             id,
		DayOfWeek:      req.DayOfWeek,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		ClearEffective: req.ClearEffective,
	}
	for _, f := range []struct {
		raw *string
		dst **time.Time
	}{
		{req.Date, &in.Date},
		{req.EffectiveFrom, &in.EffectiveFrom},
		{req.EffectiveTo, &in.EffectiveTo},
	} {
		if f.raw == nil {
			continue
		}
		d, err := domain.ParseDate(strings.TrimSpace(*f.raw))
		if err != nil {
			return nil, s.fail(log, "window update failed", err)
		}
		*f.dst = &d
	}

	w, err := s.windows.UpdateWindow(ctx, in)
	if err != nil {
		return nil, s.fail(log, "window update failed", err)
	}

	log.Info("window updated", slog.String("instructor_id", w.InstructorID))
	return &UpdateWindowResponse{Window: toWireWindow(w)}, nil
}

func (s *AvailabilityServer) RemoveWindow(ctx context.Context, req *RemoveWindowRequest) (*RemoveWindowResponse, error) {
	log := s.log.With(slog.String("rpc", "RemoveWindow"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.WindowID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "window_id must be a UUID")
	}
	log = log.With(slog.String("window_id", id.String()))

	if err := s.windows.RemoveWindow(ctx, id); err != nil {
		return nil, s.fail(log, "window remove failed", err)
	}

	log.Info("window removed")
	return &RemoveWindowResponse{}, nil
}

func (s *AvailabilityServer) ListWindows(ctx context.Context, req *ListWindowsRequest) (*ListWindowsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListWindows"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log = log.With(slog.String("instructor_id", req.InstructorID))

	ws, err := s.windows.ListWindows(ctx, req.InstructorID)
	if err != nil {
		return nil, s.fail(log, "windows list failed", err)
	}

	out := make([]Window, 0, len(ws))
	for _, w := range ws {
		out = append(out, toWireWindow(w))
	}

	log.Debug("windows listed", slog.Int("count", len(out)))
	return &ListWindowsResponse{Windows: out}, nil
}

func (s *AvailabilityServer) CopyWeek(ctx context.Context, req *CopyWeekRequest) (*CopyWeekResponse, error) {
	log := s.log.With(slog.String("rpc", "CopyWeek"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log = log.With(slog.String("instructor_id", req.InstructorID))

	weekOf, err := optionalDate(req.WeekOf)
	if err != nil {
		return nil, s.fail(log, "copy week failed", err)
	}

	ids, err := s.windows.CopyWeek(ctx, req.InstructorID, weekOf)
	if err != nil {
		return nil, s.fail(log, "copy week failed", err)
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}

	log.Info("week copied", slog.Int("created", len(out)))
	return &CopyWeekResponse{CreatedWindowIDs: out}, nil
}

func (s *AvailabilityServer) ResolveAvailability(ctx context.Context, req *ResolveAvailabilityRequest) (*ResolveAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "ResolveAvailability"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log = log.With(slog.String("instructor_id", req.InstructorID), slog.String("date", req.Date))

	date, err := domain.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return nil, s.fail(log, "availability resolve failed", err)
	}

	res, err := s.resolver.Resolve(ctx, req.InstructorID, date)
	if err != nil {
		return nil, s.fail(log, "availability resolve failed", err)
	}

	log.Debug("availability resolved", slog.Int("slots", len(res.Slots)), slog.Bool("fully_booked", res.FullyBooked))
	return &ResolveAvailabilityResponse{
		InstructorID: req.InstructorID,
		Date:         domain.FormatDate(date),
		Available:    res.Available,
		FullyBooked:  res.FullyBooked,
		Slots:        toWireSlots(res.Slots),
	}, nil
}

func (s *AvailabilityServer) CheckAvailability(ctx context.Context, req *CheckAvailabilityRequest) (*CheckAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "CheckAvailability"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log = log.With(slog.String("instructor_id", req.InstructorID), slog.String("date", req.Date), slog.String("time", req.Time))

	date, err := domain.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return nil, s.fail(log, "availability check failed", err)
	}

	ok, err := s.checker.IsAvailable(ctx, availability.CheckInput{
		InstructorID:    req.InstructorID,
		Date:            date,
		Time:            strings.TrimSpace(req.Time),
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return nil, s.fail(log, "availability check failed", err)
	}

	log.Debug("availability checked", slog.Bool("available", ok))
	return &CheckAvailabilityResponse{Available: ok}, nil
}

func (s *AvailabilityServer) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log = log.With(slog.String("instructor_id", req.InstructorID), slog.String("date", req.Date), slog.String("time", req.Time))

	date, err := domain.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return nil, s.fail(log, "booking create failed", err)
	}

	b, err := s.bookings.Create(ctx, bookings.CreateInput{
		InstructorID:    req.InstructorID,
		StudentID:       req.StudentID,
		Date:            date,
		Time:            req.Time,
		DurationMinutes: req.DurationMinutes,
		IdempotencyKey:  idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.fail(log, "booking create failed", err)
	}

	log.Info("booking created", slog.String("booking_id", b.ID.String()), slog.String("student_id", b.StudentID))
	return &CreateBookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *AvailabilityServer) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*CancelBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelBooking"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.BookingID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "booking_id must be a UUID")
	}
	log = log.With(slog.String("booking_id", id.String()))

	b, err := s.bookings.Cancel(ctx, id)
	if err != nil {
		return nil, s.fail(log, "booking cancel failed", err)
	}

	log.Info("booking cancelled", slog.String("instructor_id", b.InstructorID))
	return &CancelBookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *AvailabilityServer) UpdateBookingStatus(ctx context.Context, req *UpdateBookingStatusRequest) (*UpdateBookingStatusResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateBookingStatus"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.BookingID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "booking_id must be a UUID")
	}
	log = log.With(slog.String("booking_id", id.String()), slog.String("status", req.Status))

	b, err := s.bookings.UpdateStatus(ctx, id, domain.BookingStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		return nil, s.fail(log, "booking status update failed", err)
	}

	log.Info("booking status updated", slog.String("instructor_id", b.InstructorID))
	return &UpdateBookingStatusResponse{Booking: toWireBooking(b)}, nil
}

// fail logs err at a level matching its cause and converts it to a gRPC status.
func (s *AvailabilityServer) fail(log *slog.Logger, msg string, err error) error {
	var (
		avErr   *availability.ValidationError
		bkErr   *bookings.ValidationError
		overlap *store.OverlapError
	)
	switch {
	case errors.As(err, &avErr), errors.As(err, &bkErr),
		errors.Is(err, domain.ErrInvalidFormat), errors.Is(err, domain.ErrInvalidDuration):
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &overlap):
		log.Info(msg, slog.String("reason", "overlap"), slog.String("conflicting_window_id", overlap.ConflictingWindowID.String()))
		return status.Error(codes.FailedPrecondition, "That window overlaps an existing one ("+overlap.ConflictingWindowID.String()+"). Adjust the times.")
	case errors.Is(err, store.ErrOverlap):
		log.Info(msg, slog.String("reason", "overlap"))
		return status.Error(codes.FailedPrecondition, "That window overlaps an existing one. Adjust the times.")
	case errors.Is(err, store.ErrConflict):
		log.Info(msg, slog.String("reason", "conflict"))
		return status.Error(codes.FailedPrecondition, "The instructor already has a lesson during that time. Pick a different slot.")
	case errors.Is(err, bookings.ErrOutsideWorkingHours):
		log.Info(msg, slog.String("reason", "outside_working_hours"))
		return status.Error(codes.FailedPrecondition, "That time is outside the instructor's working hours.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info(msg, slog.String("reason", "idempotency_conflict"))
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different booking. Try again.")
	case errors.Is(err, store.ErrInvalidTransition):
		log.Info(msg, slog.String("reason", "invalid_transition"))
		return status.Error(codes.FailedPrecondition, "The booking cannot move to that status.")
	case errors.Is(err, store.ErrNotFound):
		log.Info(msg, slog.String("reason", "not_found"))
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, slog.Any("err", err))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		log.Info(msg, slog.String("reason", "canceled"))
		return status.Error(codes.Canceled, "request canceled")
	}
	log.Error(msg, slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}

func optionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
