package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
)

type fakeScheduleTx struct {
	windows  []domain.AvailabilityWindow
	bookings []domain.Booking

	insertWindowFn  func(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	insertBookingFn func(ctx context.Context, b domain.Booking) (domain.Booking, error)
}

func (f *fakeScheduleTx) ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error) {
	var out []domain.AvailabilityWindow
	for _, w := range f.windows {
		if w.InstructorID == instructorID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeScheduleTx) GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	for _, w := range f.windows {
		if w.ID == id {
			return w, nil
		}
	}
	return domain.AvailabilityWindow{}, store.ErrNotFound
}

func (f *fakeScheduleTx) InsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	if f.insertWindowFn != nil {
		return f.insertWindowFn(ctx, w)
	}
	w.ID = uuid.New()
	f.windows = append(f.windows, w)
	return w, nil
}

func (f *fakeScheduleTx) SaveWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	for i := range f.windows {
		if f.windows[i].ID == w.ID {
			f.windows[i] = w
			return w, nil
		}
	}
	return domain.AvailabilityWindow{}, store.ErrNotFound
}

func (f *fakeScheduleTx) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	panic("not used")
}

func (f *fakeScheduleTx) ActiveBookingsOn(ctx context.Context, instructorID string, date time.Time) ([]domain.BookedInterval, error) {
	var out []domain.BookedInterval
	for _, b := range f.bookings {
		if b.InstructorID == instructorID && b.Date.Equal(date) && b.Status.Occupies() {
			out = append(out, b.Interval())
		}
	}
	return out, nil
}

func (f *fakeScheduleTx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	for _, b := range f.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.Booking{}, store.ErrNotFound
}

func (f *fakeScheduleTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if f.insertBookingFn != nil {
		return f.insertBookingFn(ctx, b)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	f.bookings = append(f.bookings, b)
	return b, nil
}

func (f *fakeScheduleTx) SaveBookingStatus(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	for i := range f.bookings {
		if f.bookings[i].ID == b.ID {
			f.bookings[i] = b
			return b, nil
		}
	}
	return domain.Booking{}, store.ErrNotFound
}

var testToday = time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)

func TestAddWindow(t *testing.T) {
	existing := domain.NewWindow("i1", domain.RecurringScope(time.Monday), 540, 720)
	existing.ID = uuid.MustParse("00000000-0000-0000-0000-000000000101")

	t.Run("overlap reports conflicting window", func(t *testing.T) {
		tx := &fakeScheduleTx{windows: []domain.AvailabilityWindow{existing}}
		_, err := addWindow(context.Background(), tx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 600, 660), testToday)

		var overlap *store.OverlapError
		if !errors.As(err, &overlap) {
			t.Fatalf("err = %v, want *store.OverlapError", err)
		}
		if overlap.ConflictingWindowID != existing.ID {
			t.Fatalf("conflicting id = %s, want %s", overlap.ConflictingWindowID, existing.ID)
		}
	})

	t.Run("caller supplied id is ignored", func(t *testing.T) {
		tx := &fakeScheduleTx{}
		w := domain.NewWindow("i1", domain.RecurringScope(time.Monday), 540, 600)
		w.ID = existing.ID

		var inserted domain.AvailabilityWindow
		tx.insertWindowFn = func(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
			inserted = w
			return w, nil
		}
		if _, err := addWindow(context.Background(), tx, w, testToday); err != nil {
			t.Fatalf("addWindow error: %v", err)
		}
		if inserted.ID != uuid.Nil {
			t.Fatalf("inserted id = %s, want nil so the model hook assigns one", inserted.ID)
		}
	})
}

func TestUpdateWindow_ExcludesSelf(t *testing.T) {
	w := domain.NewWindow("i1", domain.RecurringScope(time.Monday), 540, 660)
	w.ID = uuid.MustParse("00000000-0000-0000-0000-000000000102")
	sibling := domain.NewWindow("i1", domain.RecurringScope(time.Monday), 720, 780)
	sibling.ID = uuid.MustParse("00000000-0000-0000-0000-000000000103")
	tx := &fakeScheduleTx{windows: []domain.AvailabilityWindow{w, sibling}}

	start := 570
	got, err := updateWindow(context.Background(), tx, w.ID, store.WindowPatch{StartMinute: &start}, testToday)
	if err != nil {
		t.Fatalf("updateWindow error: %v", err)
	}
	if got.StartMinute != 570 {
		t.Fatalf("start = %d, want 570", got.StartMinute)
	}

	end := 750
	_, err = updateWindow(context.Background(), tx, w.ID, store.WindowPatch{EndMinute: &end}, testToday)
	if !errors.Is(err, store.ErrOverlap) {
		t.Fatalf("err = %v, want %v", err, store.ErrOverlap)
	}
}

func TestCopyWeek_SkipsOverlapsAndIsRepeatable(t *testing.T) {
	tue, _ := domain.ParseDate("2026-01-06")
	wed, _ := domain.ParseDate("2026-01-07")
	nextWed, _ := domain.ParseDate("2026-01-14")

	tx := &fakeScheduleTx{windows: []domain.AvailabilityWindow{
		domain.NewWindow("i1", domain.DateScope(tue), 600, 660),
		domain.NewWindow("i1", domain.DateScope(wed), 540, 600),
		domain.NewWindow("i1", domain.DateScope(nextWed), 570, 630),
	}}

	created, err := copyWeek(context.Background(), tx, "i1", wed, testToday)
	if err != nil {
		t.Fatalf("copyWeek error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1 (the Wednesday copy overlaps)", len(created))
	}

	again, err := copyWeek(context.Background(), tx, "i1", wed, testToday)
	if err != nil {
		t.Fatalf("copyWeek error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second run created %d, want 0", len(again))
	}
}

func TestCreateBooking(t *testing.T) {
	day, _ := domain.ParseDate("2026-01-05")
	existing := domain.Booking{
		ID:           uuid.MustParse("00000000-0000-0000-0000-000000000201"),
		InstructorID: "i1",
		StudentID:    "s1",
		Date:         day,
		StartMinute:  600,
		Status:       domain.BookingStatusScheduled,
	}

	t.Run("overlap rejected", func(t *testing.T) {
		tx := &fakeScheduleTx{bookings: []domain.Booking{existing}}
		_, err := createBooking(context.Background(), tx, domain.Booking{InstructorID: "i1", StudentID: "s2", Date: day, StartMinute: 630})
		if err != store.ErrConflict {
			t.Fatalf("err = %v, want %v", err, store.ErrConflict)
		}
	})

	t.Run("replay returns existing", func(t *testing.T) {
		tx := &fakeScheduleTx{bookings: []domain.Booking{existing}}
		tx.insertBookingFn = func(ctx context.Context, b domain.Booking) (domain.Booking, error) {
			t.Fatalf("replay must not insert")
			return b, nil
		}
		replay := existing
		replay.Status = ""
		got, err := createBooking(context.Background(), tx, replay)
		if err != nil {
			t.Fatalf("createBooking error: %v", err)
		}
		if got.ID != existing.ID {
			t.Fatalf("id = %s, want %s", got.ID, existing.ID)
		}
	})

	t.Run("reused key with different request", func(t *testing.T) {
		tx := &fakeScheduleTx{bookings: []domain.Booking{existing}}
		changed := existing
		changed.StartMinute = 720
		if _, err := createBooking(context.Background(), tx, changed); err != store.ErrIdempotencyConflict {
			t.Fatalf("err = %v, want %v", err, store.ErrIdempotencyConflict)
		}
	})

	t.Run("defaults status to scheduled", func(t *testing.T) {
		tx := &fakeScheduleTx{}
		got, err := createBooking(context.Background(), tx, domain.Booking{InstructorID: "i1", StudentID: "s2", Date: day, StartMinute: 900})
		if err != nil {
			t.Fatalf("createBooking error: %v", err)
		}
		if got.Status != domain.BookingStatusScheduled {
			t.Fatalf("status = %q, want %q", got.Status, domain.BookingStatusScheduled)
		}
	})
}

func TestUpdateBookingStatus(t *testing.T) {
	day, _ := domain.ParseDate("2026-01-05")
	b := domain.Booking{
		ID:           uuid.MustParse("00000000-0000-0000-0000-000000000202"),
		InstructorID: "i1",
		Date:         day,
		StartMinute:  600,
		Status:       domain.BookingStatusCompleted,
	}
	tx := &fakeScheduleTx{bookings: []domain.Booking{b}}

	if _, err := updateBookingStatus(context.Background(), tx, b.ID, domain.BookingStatusCancelled); err != store.ErrInvalidTransition {
		t.Fatalf("err = %v, want %v", err, store.ErrInvalidTransition)
	}
	if _, err := updateBookingStatus(context.Background(), tx, uuid.New(), domain.BookingStatusCancelled); err != store.ErrNotFound {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}
