package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
)

// ScheduleRepo stores availability windows and bookings in postgres. Writers take a transaction-scoped
// advisory lock: one per instructor for windows, one per instructor and date for bookings.
type ScheduleRepo struct {
	db  *bun.DB
	now func() time.Time
}

var (
	_ store.AvailabilityRepository = (*ScheduleRepo)(nil)
	_ store.BookingRepository      = (*ScheduleRepo)(nil)
)

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db, now: time.Now}
}

type scheduleTx struct {
	tx bun.Tx
}

func windowsLockKey(instructorID string) string {
	return "windows:" + instructorID
}

func bookingsLockKey(instructorID string, date time.Time) string {
	return "bookings:" + instructorID + ":" + domain.FormatDate(date)
}

// InLockedTransaction runs fn in a transaction holding the advisory lock for key.
func (r *ScheduleRepo) InLockedTransaction(ctx context.Context, key string, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := advisoryLock(ctx, tx, key); err != nil {
			return err
		}
		return fn(ctx, scheduleTx{tx: tx})
	})
}

func advisoryLock(ctx context.Context, tx bun.Tx, key string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx)
	return err
}

func (r *ScheduleRepo) today() time.Time {
	return domain.DateOf(r.now())
}

func (r *ScheduleRepo) AddWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	var out domain.AvailabilityWindow
	err := r.InLockedTransaction(ctx, windowsLockKey(w.InstructorID), func(ctx context.Context, tx store.ScheduleTx) error {
		created, err := addWindow(ctx, tx, w, r.today())
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return out, nil
}

func (r *ScheduleRepo) UpdateWindow(ctx context.Context, id uuid.UUID, patch store.WindowPatch) (domain.AvailabilityWindow, error) {
	current, err := r.GetWindow(ctx, id)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	var out domain.AvailabilityWindow
	err = r.InLockedTransaction(ctx, windowsLockKey(current.InstructorID), func(ctx context.Context, tx store.ScheduleTx) error {
		updated, err := updateWindow(ctx, tx, id, patch, r.today())
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return out, nil
}

func (r *ScheduleRepo) RemoveWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	current, err := r.GetWindow(ctx, id)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	err = r.InLockedTransaction(ctx, windowsLockKey(current.InstructorID), func(ctx context.Context, tx store.ScheduleTx) error {
		return tx.DeleteWindow(ctx, id)
	})
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return current, nil
}

func (r *ScheduleRepo) GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	var w domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&w).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, notFound(err)
	}
	return w, nil
}

func (r *ScheduleRepo) ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error) {
	return listWindows(ctx, r.db, instructorID)
}

func (r *ScheduleRepo) WindowsFor(ctx context.Context, instructorID string, date time.Time) ([]domain.AvailabilityWindow, error) {
	date = domain.DateOf(date)
	var rows []domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&rows).
		Where("instructor_id = ?", instructorID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("specific_date = ?", domain.FormatDate(date)).
				WhereOr("day_of_week = ?", int16(date.Weekday()))
		}).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ResolveWindows(rows, date), nil
}

func (r *ScheduleRepo) CopyWeek(ctx context.Context, instructorID string, weekOf time.Time) ([]uuid.UUID, error) {
	var created []uuid.UUID
	err := r.InLockedTransaction(ctx, windowsLockKey(instructorID), func(ctx context.Context, tx store.ScheduleTx) error {
		ids, err := copyWeek(ctx, tx, instructorID, weekOf, r.today())
		if err != nil {
			return err
		}
		created = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *ScheduleRepo) ActiveBookingsOn(ctx context.Context, instructorID string, date time.Time) ([]domain.BookedInterval, error) {
	return activeBookingsOn(ctx, r.db, instructorID, date)
}

func (r *ScheduleRepo) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	b.Date = domain.DateOf(b.Date)

	var out domain.Booking
	err := r.InLockedTransaction(ctx, bookingsLockKey(b.InstructorID, b.Date), func(ctx context.Context, tx store.ScheduleTx) error {
		created, err := createBooking(ctx, tx, b)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *ScheduleRepo) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, r.db, id)
}

func (r *ScheduleRepo) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error) {
	current, err := r.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	var out domain.Booking
	err = r.InLockedTransaction(ctx, bookingsLockKey(current.InstructorID, current.Date), func(ctx context.Context, tx store.ScheduleTx) error {
		updated, err := updateBookingStatus(ctx, tx, id, status)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func addWindow(ctx context.Context, tx store.ScheduleTx, w domain.AvailabilityWindow, today time.Time) (domain.AvailabilityWindow, error) {
	w.ID = uuid.Nil
	existing, err := tx.ListWindows(ctx, w.InstructorID)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	if conflict, ok := domain.FindOverlap(w, existing, today); ok {
		return domain.AvailabilityWindow{}, &store.OverlapError{ConflictingWindowID: conflict.ID}
	}
	return tx.InsertWindow(ctx, w)
}

func updateWindow(ctx context.Context, tx store.ScheduleTx, id uuid.UUID, patch store.WindowPatch, today time.Time) (domain.AvailabilityWindow, error) {
	current, err := tx.GetWindow(ctx, id)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	updated := patch.Apply(current)

	existing, err := tx.ListWindows(ctx, updated.InstructorID)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	if conflict, ok := domain.FindOverlap(updated, existing, today); ok {
		return domain.AvailabilityWindow{}, &store.OverlapError{ConflictingWindowID: conflict.ID}
	}
	return tx.SaveWindow(ctx, updated)
}

// copyWeek inserts every planned copy that does not overlap the instructor's windows, including the
// copies inserted earlier in the same run. Skipped copies are not an error.
func copyWeek(ctx context.Context, tx store.ScheduleTx, instructorID string, weekOf time.Time, today time.Time) ([]uuid.UUID, error) {
	existing, err := tx.ListWindows(ctx, instructorID)
	if err != nil {
		return nil, err
	}

	var created []uuid.UUID
	for _, c := range domain.PlanWeekCopy(existing, weekOf) {
		if _, ok := domain.FindOverlap(c, existing, today); ok {
			continue
		}
		w, err := tx.InsertWindow(ctx, c)
		if err != nil {
			return nil, err
		}
		existing = append(existing, w)
		created = append(created, w.ID)
	}
	return created, nil
}

func createBooking(ctx context.Context, tx store.ScheduleTx, b domain.Booking) (domain.Booking, error) {
	if b.ID != uuid.Nil {
		existing, err := tx.GetBooking(ctx, b.ID)
		switch {
		case err == nil:
			if !existing.SameRequest(b) {
				return domain.Booking{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		case !errors.Is(err, store.ErrNotFound):
			return domain.Booking{}, err
		}
	}

	booked, err := tx.ActiveBookingsOn(ctx, b.InstructorID, b.Date)
	if err != nil {
		return domain.Booking{}, err
	}
	iv := b.Interval()
	if _, ok := domain.FirstConflict(iv.StartMinute, iv.EndMinute(), booked); ok {
		return domain.Booking{}, store.ErrConflict
	}

	if b.Status == "" {
		b.Status = domain.BookingStatusScheduled
	}
	return tx.InsertBooking(ctx, b)
}

func updateBookingStatus(ctx context.Context, tx store.ScheduleTx, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error) {
	current, err := tx.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if !current.Status.CanTransitionTo(status) {
		return domain.Booking{}, store.ErrInvalidTransition
	}
	current.Status = status
	return tx.SaveBookingStatus(ctx, current)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func listWindows(ctx context.Context, db bun.IDB, instructorID string) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := db.NewSelect().
		Model(&rows).
		Where("instructor_id = ?", instructorID).
		OrderExpr("is_recurring DESC, day_of_week ASC NULLS LAST, specific_date ASC NULLS LAST, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func activeBookingsOn(ctx context.Context, db bun.IDB, instructorID string, date time.Time) ([]domain.BookedInterval, error) {
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("instructor_id = ?", instructorID).
		Where("lesson_date = ?", domain.FormatDate(date)).
		Where("status <> ?", domain.BookingStatusCancelled).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.BookedInterval, 0, len(rows))
	for _, b := range rows {
		out = append(out, b.Interval())
	}
	return out, nil
}

func getBooking(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := db.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, notFound(err)
	}
	return b, nil
}

func (t scheduleTx) ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error) {
	return listWindows(ctx, t.tx, instructorID)
}

func (t scheduleTx) GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	var w domain.AvailabilityWindow
	err := t.tx.NewSelect().
		Model(&w).
		Where("id = ?", id).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, notFound(err)
	}
	return w, nil
}

func (t scheduleTx) InsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	if _, err := t.tx.NewInsert().Model(&w).Exec(ctx); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return w, nil
}

func (t scheduleTx) SaveWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	res, err := t.tx.NewUpdate().
		Model(&w).
		Column("day_of_week", "specific_date", "start_minute", "end_minute", "is_recurring", "effective_from", "effective_to", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	if err := requireAffected(res); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return w, nil
}

func (t scheduleTx) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.NewDelete().
		Model((*domain.AvailabilityWindow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t scheduleTx) ActiveBookingsOn(ctx context.Context, instructorID string, date time.Time) ([]domain.BookedInterval, error) {
	return activeBookingsOn(ctx, t.tx, instructorID, date)
}

func (t scheduleTx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t scheduleTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	_, err := t.tx.NewInsert().Model(&b).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "bookings_no_overlap" {
				return domain.Booking{}, store.ErrConflict
			}
			if pgErr.Code == "23505" {
				return domain.Booking{}, store.ErrIdempotencyConflict
			}
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (t scheduleTx) SaveBookingStatus(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	res, err := t.tx.NewUpdate().
		Model(&b).
		Column("status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := requireAffected(res); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
