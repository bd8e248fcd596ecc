// Package cache is a read-through redis cache for resolved availability. Entries are keyed by a
// per-instructor version that every write bumps, so stale entries are never read and expire by TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/telemetry"
)

const (
	defaultTTL = 5 * time.Minute
	keyPrefix  = "drivesched:avail"
)

type Availability struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
	flight singleflight.Group
}

func NewAvailability(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Availability {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Availability{rdb: rdb, ttl: ttl, logger: logger.With("component", "availability_cache")}
}

// Connect returns a client for addr after a successful PING.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func versionKey(instructorID string) string {
	return keyPrefix + ":ver:" + instructorID
}

func resultKey(instructorID string, version int64, date time.Time, granularity int) string {
	return fmt.Sprintf("%s:%s:v%d:%s:%d", keyPrefix, instructorID, version, domain.FormatDate(date), granularity)
}

type cachedSlot struct {
	Start    int `json:"start"`
	Duration int `json:"duration"`
}

type cachedResult struct {
	Available   bool         `json:"available"`
	FullyBooked bool         `json:"fully_booked"`
	Slots       []cachedSlot `json:"slots"`
}

func encodeResult(r domain.AvailabilityResult) ([]byte, error) {
	c := cachedResult{Available: r.Available, FullyBooked: r.FullyBooked, Slots: make([]cachedSlot, 0, len(r.Slots))}
	for _, s := range r.Slots {
		c.Slots = append(c.Slots, cachedSlot{Start: s.StartMinute, Duration: s.DurationMinutes})
	}
	return json.Marshal(c)
}

func decodeResult(b []byte) (domain.AvailabilityResult, error) {
	var c cachedResult
	if err := json.Unmarshal(b, &c); err != nil {
		return domain.AvailabilityResult{}, err
	}
	out := domain.AvailabilityResult{Available: c.Available, FullyBooked: c.FullyBooked, Slots: make([]domain.BookableSlot, 0, len(c.Slots))}
	for _, s := range c.Slots {
		out.Slots = append(out.Slots, domain.BookableSlot{StartMinute: s.Start, DurationMinutes: s.Duration})
	}
	return out, nil
}

func (c *Availability) version(ctx context.Context, instructorID string) (int64, error) {
	raw, err := c.rdb.Get(ctx, versionKey(instructorID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// GetOrLoad returns the cached result for the instructor and date, calling load on a miss. Concurrent
// misses for the same key share one load. Redis failures fall back to load and are only logged.
func (c *Availability) GetOrLoad(ctx context.Context, instructorID string, date time.Time, granularity int, load func(ctx context.Context) (domain.AvailabilityResult, error)) (domain.AvailabilityResult, error) {
	version, err := c.version(ctx, instructorID)
	if err != nil {
		telemetry.CacheLookups.WithLabelValues("error").Inc()
		c.logger.WarnContext(ctx, "availability cache version lookup failed", "instructor_id", instructorID, "err", err)
		return load(ctx)
	}
	key := resultKey(instructorID, version, date, granularity)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		if res, err := decodeResult(raw); err == nil {
			telemetry.CacheLookups.WithLabelValues("hit").Inc()
			return res, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		telemetry.CacheLookups.WithLabelValues("error").Inc()
		c.logger.WarnContext(ctx, "availability cache read failed", "key", key, "err", err)
		return load(ctx)
	}
	telemetry.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		res, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := encodeResult(res); err == nil {
			if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				c.logger.WarnContext(ctx, "availability cache write failed", "key", key, "err", err)
			}
		}
		return res, nil
	})
	if err != nil {
		return domain.AvailabilityResult{}, err
	}
	return v.(domain.AvailabilityResult), nil
}

// Invalidate bumps the instructor's version so every cached date is bypassed.
func (c *Availability) Invalidate(ctx context.Context, instructorID string) {
	if err := c.rdb.Incr(ctx, versionKey(instructorID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "availability cache invalidation failed", "instructor_id", instructorID, "err", err)
	}
}
