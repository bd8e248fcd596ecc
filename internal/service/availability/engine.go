package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
	"drivesched/backend/internal/telemetry"
)

// WindowSource resolves the windows in effect for an instructor on a date.
type WindowSource interface {
	WindowsFor(ctx context.Context, instructorID string, date time.Time) ([]domain.AvailabilityWindow, error)
}

// ResultCache is a read-through cache in front of Resolve.
type ResultCache interface {
	GetOrLoad(ctx context.Context, instructorID string, date time.Time, granularity int, load func(ctx context.Context) (domain.AvailabilityResult, error)) (domain.AvailabilityResult, error)
	Invalidate(ctx context.Context, instructorID string)
}

type Engine struct {
	windows     WindowSource
	ledger      store.BookingLedger
	granularity int
	cache       ResultCache
	logger      *slog.Logger
}

type EngineOption func(*Engine)

func WithGranularity(minutes int) EngineOption {
	return func(e *Engine) { e.granularity = minutes }
}

func WithCache(c ResultCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine fails when the granularity is not a positive multiple of 60 minutes.
func NewEngine(windows WindowSource, ledger store.BookingLedger, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		windows:     windows,
		ledger:      ledger,
		granularity: domain.DefaultGranularityMinutes,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.granularity <= 0 || e.granularity%60 != 0 {
		return nil, fmt.Errorf("slot granularity must be a positive multiple of 60 minutes, got %d", e.granularity)
	}
	e.logger = e.logger.With("component", "availability_engine")
	return e, nil
}

func (e *Engine) Granularity() int {
	return e.granularity
}

// Resolve returns the bookable slots for the instructor on date.
func (e *Engine) Resolve(ctx context.Context, instructorID string, date time.Time) (domain.AvailabilityResult, error) {
	if instructorID == "" {
		return domain.AvailabilityResult{}, validationError("instructor_id is required")
	}
	date = domain.DateOf(date)

	ctx, span := telemetry.Tracer("drivesched/availability").Start(ctx, "Engine.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("instructor_id", instructorID),
		attribute.String("date", domain.FormatDate(date)),
	)

	started := time.Now()
	source := "store"
	var (
		res domain.AvailabilityResult
		err error
	)
	if e.cache != nil {
		source = "cache"
		res, err = e.cache.GetOrLoad(ctx, instructorID, date, e.granularity, func(ctx context.Context) (domain.AvailabilityResult, error) {
			return e.resolve(ctx, instructorID, date)
		})
	} else {
		res, err = e.resolve(ctx, instructorID, date)
	}
	telemetry.ResolveLatency.WithLabelValues(source).Observe(time.Since(started).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.AvailabilityResult{}, err
	}
	span.SetAttributes(attribute.Int("slots", len(res.Slots)), attribute.Bool("fully_booked", res.FullyBooked))
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, instructorID string, date time.Time) (domain.AvailabilityResult, error) {
	windows, err := e.windows.WindowsFor(ctx, instructorID, date)
	if err != nil {
		return domain.AvailabilityResult{}, fmt.Errorf("load windows: %w", err)
	}
	if len(windows) == 0 {
		return domain.AvailabilityResult{Slots: []domain.BookableSlot{}}, nil
	}

	booked, err := e.ledger.ActiveBookingsOn(ctx, instructorID, date)
	if err != nil {
		return domain.AvailabilityResult{}, fmt.Errorf("load bookings: %w", err)
	}

	res, duplicates := domain.BuildSlots(windows, booked, e.granularity)
	if duplicates > 0 {
		telemetry.SlotDuplicates.Add(float64(duplicates))
		e.logger.WarnContext(ctx, "duplicate slots dropped; overlapping windows are stored",
			"instructor_id", instructorID,
			"date", domain.FormatDate(date),
			"duplicates", duplicates,
		)
	}
	return res, nil
}
