// Package mongostore keeps the booking ledger in MongoDB. Bookings are stored with their calendar date
// as "YYYY-MM-DD" and start time as "HH:MM", the platform's document format.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
)

const (
	BookingsCollection = "bookings"
	LocksCollection    = "booking_locks"

	defaultLockTTL      = 30 * time.Second
	defaultLockInterval = 25 * time.Millisecond
)

type bookingDoc struct {
	ID              string    `bson:"_id"`
	InstructorID    string    `bson:"instructor_id"`
	StudentID       string    `bson:"student_id"`
	Date            string    `bson:"date"`
	Time            string    `bson:"time"`
	DurationMinutes *int      `bson:"duration_minutes,omitempty"`
	Status          string    `bson:"status"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// lockDoc serializes booking writers for one instructor and date. The TTL index on expires_at removes
// locks left behind by a crashed writer.
type lockDoc struct {
	ID        string    `bson:"_id"`
	Owner     string    `bson:"owner"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

type Options struct {
	LockTTL      time.Duration
	LockInterval time.Duration
}

type Ledger struct {
	bookings *mongo.Collection
	locks    *mongo.Collection
	opts     Options
	now      func() time.Time
}

var _ store.BookingRepository = (*Ledger)(nil)

// errLockLost reports that the lock lease expired and was taken over before the write.
var errLockLost = errors.New("booking lock lost")

func New(db *mongo.Database, opts Options) *Ledger {
	return &Ledger{
		bookings: db.Collection(BookingsCollection),
		locks:    db.Collection(LocksCollection),
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// withDefaults fills unset options. LockTTL should outlast the longest request that can hold the lock.
func (o Options) withDefaults() Options {
	if o.LockTTL <= 0 {
		o.LockTTL = defaultLockTTL
	}
	if o.LockInterval <= 0 {
		o.LockInterval = defaultLockInterval
	}
	return o
}

// Connect dials uri and pings the deployment before returning the client.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func (l *Ledger) EnsureIndexes(ctx context.Context) error {
	_, err := l.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "instructor_id", Value: 1}, {Key: "date", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("instructor_date_status_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("create booking indexes: %w", err)
	}

	_, err = l.locks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetName("expires_at_ttl").SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create lock indexes: %w", err)
	}
	return nil
}

func lockKey(instructorID string, date time.Time) string {
	return "bookings:" + instructorID + ":" + domain.FormatDate(date)
}

type lease struct {
	key   string
	owner string
}

// renew pushes the lease expiry forward. It fails with errLockLost when another writer has taken the
// lock over, so the caller must not write.
func (l *Ledger) renew(ctx context.Context, ls lease) error {
	res, err := l.locks.UpdateOne(ctx,
		bson.M{"_id": ls.key, "owner": ls.owner},
		bson.M{"$set": bson.M{"expires_at": l.now().UTC().Add(l.opts.LockTTL)}},
	)
	if err != nil {
		return fmt.Errorf("renew booking lock: %w", err)
	}
	if res.MatchedCount == 0 {
		return errLockLost
	}
	return nil
}

// acquire blocks until it owns the lock document for key or ctx is done. An expired lock is taken over.
func (l *Ledger) acquire(ctx context.Context, key string) (lease, func(), error) {
	owner := uuid.NewString()
	for {
		now := l.now().UTC()
		_, err := l.locks.InsertOne(ctx, lockDoc{
			ID:        key,
			Owner:     owner,
			ExpiresAt: now.Add(l.opts.LockTTL),
			CreatedAt: now,
		})
		if err == nil {
			return lease{key: key, owner: owner}, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, _ = l.locks.DeleteOne(ctx, bson.M{"_id": key, "owner": owner})
			}, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return lease{}, nil, fmt.Errorf("acquire booking lock: %w", err)
		}

		if _, err := l.locks.DeleteOne(ctx, bson.M{"_id": key, "expires_at": bson.M{"$lt": now}}); err != nil {
			return lease{}, nil, fmt.Errorf("expire booking lock: %w", err)
		}

		select {
		case <-ctx.Done():
			return lease{}, nil, ctx.Err()
		case <-time.After(l.opts.LockInterval):
		}
	}
}

func (l *Ledger) ActiveBookingsOn(ctx context.Context, instructorID string, date time.Time) ([]domain.BookedInterval, error) {
	filter := bson.M{
		"instructor_id": instructorID,
		"date":          domain.FormatDate(date),
		"status":        bson.M{"$ne": string(domain.BookingStatusCancelled)},
	}
	cursor, err := l.bookings.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bookingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]domain.BookedInterval, 0, len(docs))
	for _, d := range docs {
		b, err := d.booking()
		if err != nil {
			return nil, err
		}
		out = append(out, b.Interval())
	}
	return out, nil
}

func (l *Ledger) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	b.Date = domain.DateOf(b.Date)
	ls, release, err := l.acquire(ctx, lockKey(b.InstructorID, b.Date))
	if err != nil {
		return domain.Booking{}, err
	}
	defer release()

	if b.ID != uuid.Nil {
		existing, err := l.GetBooking(ctx, b.ID)
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

	booked, err := l.ActiveBookingsOn(ctx, b.InstructorID, b.Date)
	if err != nil {
		return domain.Booking{}, err
	}
	iv := b.Interval()
	if _, ok := domain.FirstConflict(iv.StartMinute, iv.EndMinute(), booked); ok {
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
	now := l.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := l.renew(ctx, ls); err != nil {
		return domain.Booking{}, err
	}
	if _, err := l.bookings.InsertOne(ctx, newBookingDoc(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Booking{}, store.ErrIdempotencyConflict
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (l *Ledger) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var d bookingDoc
	err := l.bookings.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return d.booking()
}

func (l *Ledger) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error) {
	current, err := l.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	_, release, err := l.acquire(ctx, lockKey(current.InstructorID, current.Date))
	if err != nil {
		return domain.Booking{}, err
	}
	defer release()

	current, err = l.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if !current.Status.CanTransitionTo(status) {
		return domain.Booking{}, store.ErrInvalidTransition
	}

	// The status filter makes the write a compare-and-set, so it stays correct if the lease lapsed.
	previous := current.Status
	current.Status = status
	current.UpdatedAt = l.now().UTC()
	res, err := l.bookings.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(previous)},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": current.UpdatedAt}},
	)
	if err != nil {
		return domain.Booking{}, err
	}
	if res.MatchedCount == 0 {
		if _, err := l.GetBooking(ctx, id); err != nil {
			return domain.Booking{}, err
		}
		return domain.Booking{}, store.ErrInvalidTransition
	}
	return current, nil
}

func newBookingDoc(b domain.Booking) bookingDoc {
	return bookingDoc{
		ID:              b.ID.String(),
		InstructorID:    b.InstructorID,
		StudentID:       b.StudentID,
		Date:            domain.FormatDate(b.Date),
		Time:            domain.FormatTime(b.StartMinute),
		DurationMinutes: b.DurationMinutes,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func (d bookingDoc) booking() (domain.Booking, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("booking %q: %w", d.ID, err)
	}
	date, err := domain.ParseDate(d.Date)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", d.ID, err)
	}
	start, err := domain.ParseTime(d.Time)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", d.ID, err)
	}
	return domain.Booking{
		ID:              id,
		InstructorID:    d.InstructorID,
		StudentID:       d.StudentID,
		Date:            date,
		StartMinute:     start,
		DurationMinutes: d.DurationMinutes,
		Status:          domain.BookingStatus(d.Status),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}
