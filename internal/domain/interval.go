package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinutesPerDay = 24 * 60

	// DefaultDurationMinutes applies when a booking or availability check omits its duration.
	DefaultDurationMinutes = 60

	DateLayout = "2006-01-02"
)

var (
	ErrInvalidFormat   = errors.New("invalid format")
	ErrInvalidDuration = errors.New("invalid duration")
)

// ParseTime converts a 24-hour "HH:MM" string into a minute-of-day offset.
func ParseTime(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidFormat, s)
	}
	hour, ok := twoDigits(s[0], s[1])
	if !ok || hour > 23 {
		return 0, fmt.Errorf("%w: hour in %q must be 00-23", ErrInvalidFormat, s)
	}
	minute, ok := twoDigits(s[3], s[4])
	if !ok || minute > 59 {
		return 0, fmt.Errorf("%w: minute in %q must be 00-59", ErrInvalidFormat, s)
	}
	return hour*60 + minute, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

func FormatTime(minuteOfDay int) string {
	return fmt.Sprintf("%02d:%02d", minuteOfDay/60, minuteOfDay%60)
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals (aEnd == bStart) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// ParseDate parses an ISO-8601 calendar date and returns it as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidFormat, s)
	}
	return d, nil
}

func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// DateOf truncates t to its calendar date at UTC midnight, keeping the wall-clock date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekStart returns the Sunday on or before d.
func WeekStart(d time.Time) time.Time {
	d = DateOf(d)
	return d.AddDate(0, 0, -int(d.Weekday()))
}
