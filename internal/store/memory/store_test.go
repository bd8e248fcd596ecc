package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
)

func newTestStore(now time.Time) *Store {
	s := New()
	s.now = func() time.Time { return now }
	return s
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q) error: %v", s, err)
	}
	return d
}

func TestAddWindow_RejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))

	first, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 540, 720))
	if err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	if first.ID == uuid.Nil || first.CreatedAt.IsZero() {
		t.Fatalf("window not stamped: %+v", first)
	}

	_, err = s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 660, 780))
	var overlap *store.OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("err = %v, want *store.OverlapError", err)
	}
	if overlap.ConflictingWindowID != first.ID {
		t.Fatalf("conflicting id = %s, want %s", overlap.ConflictingWindowID, first.ID)
	}
	if !errors.Is(err, store.ErrOverlap) {
		t.Fatalf("errors.Is(err, ErrOverlap) = false")
	}

	if _, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 720, 780)); err != nil {
		t.Fatalf("touching window rejected: %v", err)
	}
}

func TestUpdateWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))

	morning, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 540, 660))
	if err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	afternoon, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 780, 900))
	if err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}

	t.Run("extending into sibling rejected", func(t *testing.T) {
		end := 800
		_, err := s.UpdateWindow(ctx, morning.ID, store.WindowPatch{EndMinute: &end})
		if !errors.Is(err, store.ErrOverlap) {
			t.Fatalf("err = %v, want %v", err, store.ErrOverlap)
		}
	})

	t.Run("shrinking itself allowed", func(t *testing.T) {
		end := 600
		got, err := s.UpdateWindow(ctx, morning.ID, store.WindowPatch{EndMinute: &end})
		if err != nil {
			t.Fatalf("UpdateWindow error: %v", err)
		}
		if got.EndMinute != 600 || got.ID != morning.ID {
			t.Fatalf("updated = %+v", got)
		}
	})

	t.Run("moving to another day", func(t *testing.T) {
		scope := domain.RecurringScope(time.Tuesday)
		got, err := s.UpdateWindow(ctx, afternoon.ID, store.WindowPatch{Scope: &scope})
		if err != nil {
			t.Fatalf("UpdateWindow error: %v", err)
		}
		if got.Scope().Day != time.Tuesday {
			t.Fatalf("day = %s, want Tuesday", got.Scope().Day)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.UpdateWindow(ctx, uuid.New(), store.WindowPatch{})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
		}
	})
}

func TestWindowsFor_DateSpecificReplacesRecurring(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	monday := date(t, "2026-01-05")

	if _, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 480, 720)); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	if _, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.DateScope(monday), 780, 840)); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}

	got, err := s.WindowsFor(ctx, "i1", monday)
	if err != nil {
		t.Fatalf("WindowsFor error: %v", err)
	}
	if len(got) != 1 || got[0].StartMinute != 780 {
		t.Fatalf("windows = %+v, want only the 13:00 override", got)
	}

	list, err := s.ListWindows(ctx, "i1")
	if err != nil {
		t.Fatalf("ListWindows error: %v", err)
	}
	if len(list) != 2 || !list[0].IsRecurring {
		t.Fatalf("list = %+v, want recurring first", list)
	}
}

func TestRemoveWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Now())

	w, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Friday), 540, 600))
	if err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	if _, err := s.RemoveWindow(ctx, w.ID); err != nil {
		t.Fatalf("RemoveWindow error: %v", err)
	}
	if _, err := s.RemoveWindow(ctx, w.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestRemoveWindow_WaitsForConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))

	w, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Monday), 540, 600))
	if err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}

	// The clock is read while UpdateWindow holds the instructor lock; start the removal from there.
	var (
		once      sync.Once
		removeErr error
	)
	removed := make(chan struct{})
	fixed := s.now()
	s.now = func() time.Time {
		once.Do(func() {
			go func() {
				_, removeErr = s.RemoveWindow(ctx, w.ID)
				close(removed)
			}()
			select {
			case <-removed:
				t.Errorf("RemoveWindow finished while UpdateWindow held the instructor lock")
			case <-time.After(50 * time.Millisecond):
			}
		})
		return fixed
	}

	end := 660
	if _, err := s.UpdateWindow(ctx, w.ID, store.WindowPatch{EndMinute: &end}); err != nil {
		t.Fatalf("UpdateWindow error: %v", err)
	}
	<-removed
	if removeErr != nil {
		t.Fatalf("RemoveWindow error: %v", removeErr)
	}
	if _, err := s.GetWindow(ctx, w.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("window survived removal: err = %v", err)
	}
}

func TestCopyWeek_ExtendsExpiredRecurringWindow(t *testing.T) {
	ctx := context.Background()
	// Saturday 2026-01-10: the Friday schedule ended the day before.
	s := newTestStore(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))

	ended := date(t, "2026-01-09")
	expired := domain.NewWindow("i1", domain.RecurringScope(time.Friday), 540, 720)
	expired.EffectiveTo = &ended
	if _, err := s.AddWindow(ctx, expired); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	active := domain.NewWindow("i1", domain.RecurringScope(time.Thursday), 540, 720)
	if _, err := s.AddWindow(ctx, active); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}

	created, err := s.CopyWeek(ctx, "i1", date(t, "2026-01-07"))
	if err != nil {
		t.Fatalf("CopyWeek error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1 (only the expired Friday schedule)", len(created))
	}

	got, err := s.GetWindow(ctx, created[0])
	if err != nil {
		t.Fatalf("GetWindow error: %v", err)
	}
	if !got.IsRecurring || got.Scope().Day != time.Friday {
		t.Fatalf("copy = %+v, want recurring Friday", got.Scope())
	}
	if got.EffectiveFrom == nil || domain.FormatDate(*got.EffectiveFrom) != "2026-01-11" || got.EffectiveTo != nil {
		t.Fatalf("copy effective range = %v..%v, want 2026-01-11..open", got.EffectiveFrom, got.EffectiveTo)
	}

	slots, err := s.WindowsFor(ctx, "i1", date(t, "2026-01-16"))
	if err != nil {
		t.Fatalf("WindowsFor error: %v", err)
	}
	if len(slots) != 1 || slots[0].ID != got.ID {
		t.Fatalf("windows on 2026-01-16 = %+v", slots)
	}
}

func TestCopyWeek_SecondRunCreatesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC))

	if _, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.DateScope(date(t, "2026-01-06")), 600, 660)); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	if _, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.DateScope(date(t, "2026-01-13")), 630, 690)); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	if _, err := s.AddWindow(ctx, domain.NewWindow("i1", domain.RecurringScope(time.Friday), 540, 720)); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}

	created, err := s.CopyWeek(ctx, "i1", date(t, "2026-01-07"))
	if err != nil {
		t.Fatalf("CopyWeek error: %v", err)
	}
	// The Tuesday copy collides with the 10:30 window already on 2026-01-13 and the Friday copy
	// collides with the still-active recurring original.
	if len(created) != 0 {
		t.Fatalf("created = %d, want 0", len(created))
	}

	s2 := newTestStore(time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC))
	if _, err := s2.AddWindow(ctx, domain.NewWindow("i1", domain.DateScope(date(t, "2026-01-06")), 600, 660)); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}
	if _, err := s2.AddWindow(ctx, domain.NewWindow("i1", domain.DateScope(date(t, "2026-01-08")), 540, 600)); err != nil {
		t.Fatalf("AddWindow error: %v", err)
	}

	created, err = s2.CopyWeek(ctx, "i1", date(t, "2026-01-07"))
	if err != nil {
		t.Fatalf("CopyWeek error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	got, err := s2.WindowsFor(ctx, "i1", date(t, "2026-01-13"))
	if err != nil {
		t.Fatalf("WindowsFor error: %v", err)
	}
	if len(got) != 1 || got[0].StartMinute != 600 {
		t.Fatalf("copied windows on 2026-01-13 = %+v", got)
	}

	again, err := s2.CopyWeek(ctx, "i1", date(t, "2026-01-07"))
	if err != nil {
		t.Fatalf("CopyWeek error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second copy created %d windows, want 0", len(again))
	}
}

func TestCreateBooking_Conflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Now())
	day := date(t, "2026-01-05")

	first, err := s.CreateBooking(ctx, domain.Booking{InstructorID: "i1", StudentID: "s1", Date: day, StartMinute: 600})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if first.Status != domain.BookingStatusScheduled {
		t.Fatalf("status = %q, want %q", first.Status, domain.BookingStatusScheduled)
	}

	if _, err := s.CreateBooking(ctx, domain.Booking{InstructorID: "i1", StudentID: "s2", Date: day, StartMinute: 630}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want %v", err, store.ErrConflict)
	}
	if _, err := s.CreateBooking(ctx, domain.Booking{InstructorID: "i1", StudentID: "s2", Date: day, StartMinute: 660}); err != nil {
		t.Fatalf("touching booking rejected: %v", err)
	}
	if _, err := s.CreateBooking(ctx, domain.Booking{InstructorID: "i2", StudentID: "s2", Date: day, StartMinute: 600}); err != nil {
		t.Fatalf("other instructor rejected: %v", err)
	}

	if _, err := s.UpdateBookingStatus(ctx, first.ID, domain.BookingStatusCancelled); err != nil {
		t.Fatalf("UpdateBookingStatus error: %v", err)
	}
	if _, err := s.CreateBooking(ctx, domain.Booking{InstructorID: "i1", StudentID: "s3", Date: day, StartMinute: 600}); err != nil {
		t.Fatalf("slot freed by cancellation rejected: %v", err)
	}
}

func TestCreateBooking_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Now())
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("booking:i1:key-1"))
	b := domain.Booking{ID: id, InstructorID: "i1", StudentID: "s1", Date: date(t, "2026-01-05"), StartMinute: 600}

	first, err := s.CreateBooking(ctx, b)
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	again, err := s.CreateBooking(ctx, b)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("retry id = %s, want %s", again.ID, first.ID)
	}

	b.StartMinute = 720
	if _, err := s.CreateBooking(ctx, b); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want %v", err, store.ErrIdempotencyConflict)
	}
}

func TestCreateBooking_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Now())
	day := date(t, "2026-01-05")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateBooking(ctx, domain.Booking{InstructorID: "i1", StudentID: "s", Date: day, StartMinute: 600 + i})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 || conflicts != n-1 {
		t.Fatalf("created = %d conflicts = %d, want 1 and %d", created, conflicts, n-1)
	}
}

func TestUpdateBookingStatus_RejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(time.Now())

	b, err := s.CreateBooking(ctx, domain.Booking{InstructorID: "i1", StudentID: "s1", Date: date(t, "2026-01-05"), StartMinute: 600})
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if _, err := s.UpdateBookingStatus(ctx, b.ID, domain.BookingStatusCompleted); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("err = %v, want %v", err, store.ErrInvalidTransition)
	}
	if _, err := s.UpdateBookingStatus(ctx, b.ID, domain.BookingStatusInProgress); err != nil {
		t.Fatalf("UpdateBookingStatus error: %v", err)
	}

	booked, err := s.ActiveBookingsOn(ctx, "i1", date(t, "2026-01-05"))
	if err != nil {
		t.Fatalf("ActiveBookingsOn error: %v", err)
	}
	if len(booked) != 1 || booked[0].Status != domain.BookingStatusInProgress {
		t.Fatalf("booked = %+v", booked)
	}
}
