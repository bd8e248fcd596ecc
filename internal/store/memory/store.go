// Package memory keeps windows and bookings in process memory. Writers are serialized per instructor
// (windows) and per instructor and date (bookings), matching the locking of the postgres store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
)

type Store struct {
	now func() time.Time

	mu       sync.Mutex
	windows  map[uuid.UUID]domain.AvailabilityWindow
	bookings map[uuid.UUID]domain.Booking
	locks    map[string]*sync.Mutex
}

var (
	_ store.AvailabilityRepository = (*Store)(nil)
	_ store.BookingRepository      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		now:      time.Now,
		windows:  make(map[uuid.UUID]domain.AvailabilityWindow),
		bookings: make(map[uuid.UUID]domain.Booking),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock takes the writer lock for key and returns its release func.
func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func windowsKey(instructorID string) string {
	return "windows:" + instructorID
}

func bookingsKey(instructorID string, date time.Time) string {
	return "bookings:" + instructorID + ":" + domain.FormatDate(date)
}

func (s *Store) today() time.Time {
	return domain.DateOf(s.now())
}

func (s *Store) instructorWindows(instructorID string) []domain.AvailabilityWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AvailabilityWindow
	for _, w := range s.windows {
		if w.InstructorID == instructorID {
			out = append(out, w)
		}
	}
	domain.SortByScope(out)
	return out
}

func (s *Store) putWindow(w domain.AvailabilityWindow) {
	s.mu.Lock()
	s.windows[w.ID] = w
	s.mu.Unlock()
}

func stamp(w *domain.AvailabilityWindow, now time.Time) error {
	if w.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		w.ID = id
	}
	now = now.UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	return nil
}

func (s *Store) AddWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	unlock := s.lock(windowsKey(w.InstructorID))
	defer unlock()

	w.ID = uuid.Nil
	if conflict, ok := domain.FindOverlap(w, s.instructorWindows(w.InstructorID), s.today()); ok {
		return domain.AvailabilityWindow{}, &store.OverlapError{ConflictingWindowID: conflict.ID}
	}
	if err := stamp(&w, s.now()); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	s.putWindow(w)
	return w, nil
}

func (s *Store) UpdateWindow(ctx context.Context, id uuid.UUID, patch store.WindowPatch) (domain.AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	current, err := s.GetWindow(ctx, id)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	unlock := s.lock(windowsKey(current.InstructorID))
	defer unlock()

	// Re-read under the instructor lock; the window may have been removed meanwhile.
	current, err = s.GetWindow(ctx, id)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	updated := patch.Apply(current)
	if conflict, ok := domain.FindOverlap(updated, s.instructorWindows(updated.InstructorID), s.today()); ok {
		return domain.AvailabilityWindow{}, &store.OverlapError{ConflictingWindowID: conflict.ID}
	}
	if err := stamp(&updated, s.now()); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	s.putWindow(updated)
	return updated, nil
}

func (s *Store) RemoveWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	current, err := s.GetWindow(ctx, id)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	unlock := s.lock(windowsKey(current.InstructorID))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[id]
	if !ok {
		return domain.AvailabilityWindow{}, store.ErrNotFound
	}
	delete(s.windows, id)
	return w, nil
}

func (s *Store) GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[id]
	if !ok {
		return domain.AvailabilityWindow{}, store.ErrNotFound
	}
	return w, nil
}

func (s *Store) ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.instructorWindows(instructorID), nil
}

func (s *Store) WindowsFor(ctx context.Context, instructorID string, date time.Time) ([]domain.AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return domain.ResolveWindows(s.instructorWindows(instructorID), date), nil
}

func (s *Store) CopyWeek(ctx context.Context, instructorID string, weekOf time.Time) ([]uuid.UUID, error) {
	unlock := s.lock(windowsKey(instructorID))
	defer unlock()

	existing := s.instructorWindows(instructorID)
	today := s.today()

	var created []uuid.UUID
	for _, c := range domain.PlanWeekCopy(existing, weekOf) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if _, ok := domain.FindOverlap(c, existing, today); ok {
			continue
		}
		if err := stamp(&c, s.now()); err != nil {
			return created, err
		}
		s.putWindow(c)
		existing = append(existing, c)
		created = append(created, c.ID)
	}
	return created, nil
}

func (s *Store) occupying(instructorID string, date time.Time) []domain.BookedInterval {
	s.mu.Lock()
	defer s.mu.Unlock()

	date = domain.DateOf(date)
	var out []domain.BookedInterval
	for _, b := range s.bookings {
		if b.InstructorID != instructorID || !domain.DateOf(b.Date).Equal(date) || !b.Status.Occupies() {
			continue
		}
		out = append(out, b.Interval())
	}
	return out
}

func (s *Store) ActiveBookingsOn(ctx context.Context, instructorID string, date time.Time) ([]domain.BookedInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.occupying(instructorID, date), nil
}

func (s *Store) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return domain.Booking{}, err
	}
	b.Date = domain.DateOf(b.Date)
	unlock := s.lock(bookingsKey(b.InstructorID, b.Date))
	defer unlock()

	if b.ID != uuid.Nil {
		if existing, err := s.GetBooking(ctx, b.ID); err == nil {
			if !existing.SameRequest(b) {
				return domain.Booking{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		}
	}

	iv := b.Interval()
	if _, ok := domain.FirstConflict(iv.StartMinute, iv.EndMinute(), s.occupying(b.InstructorID, b.Date)); ok {
		return domain.Booking{}, store.ErrConflict
	}

	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Booking{}, err
		}
		b.ID = id
	}
	if b.Status == "" {
		b.Status = domain.BookingStatusScheduled
	}
	now := s.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	s.mu.Lock()
	s.bookings[b.ID] = b
	s.mu.Unlock()
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return domain.Booking{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error) {
	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	unlock := s.lock(bookingsKey(current.InstructorID, current.Date))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	if !current.Status.CanTransitionTo(status) {
		return domain.Booking{}, store.ErrInvalidTransition
	}
	current.Status = status
	current.UpdatedAt = s.now().UTC()
	s.bookings[id] = current
	return current, nil
}
