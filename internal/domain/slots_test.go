package domain

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func startTimes(slots []BookableSlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartTime())
	}
	return out
}

func window(start, end int) AvailabilityWindow {
	return NewWindow("i1", RecurringScope(time.Monday), start, end)
}

func TestBuildSlots(t *testing.T) {
	tests := []struct {
		name            string
		windows         []AvailabilityWindow
		booked          []BookedInterval
		wantSlots       []string
		wantFullyBooked bool
		wantDuplicates  int
	}{
		{
			name:      "no windows",
			wantSlots: []string{},
		},
		{
			name:      "three hour window",
			windows:   []AvailabilityWindow{window(540, 720)},
			wantSlots: []string{"09:00", "10:00", "11:00"},
		},
		{
			name:      "trailing partial slot dropped",
			windows:   []AvailabilityWindow{window(540, 690)},
			wantSlots: []string{"09:00", "10:00"},
		},
		{
			name:    "booked slot excluded",
			windows: []AvailabilityWindow{window(540, 720)},
			booked: []BookedInterval{
				{StartMinute: 600, DurationMinutes: 60, Status: BookingStatusScheduled},
			},
			wantSlots: []string{"09:00", "11:00"},
		},
		{
			name:    "cancelled booking does not block",
			windows: []AvailabilityWindow{window(540, 720)},
			booked: []BookedInterval{
				{StartMinute: 600, DurationMinutes: 60, Status: BookingStatusCancelled},
			},
			wantSlots: []string{"09:00", "10:00", "11:00"},
		},
		{
			name:    "partial overlap excludes whole slot",
			windows: []AvailabilityWindow{window(540, 720)},
			booked: []BookedInterval{
				{StartMinute: 630, DurationMinutes: 15, Status: BookingStatusInProgress},
			},
			wantSlots: []string{"09:00", "11:00"},
		},
		{
			name:    "booking spanning two slots",
			windows: []AvailabilityWindow{window(540, 720)},
			booked: []BookedInterval{
				{StartMinute: 570, DurationMinutes: 60, Status: BookingStatusScheduled},
				{StartMinute: 600, DurationMinutes: 30, Status: BookingStatusCompleted},
			},
			wantSlots: []string{"11:00"},
		},
		{
			name:    "fully booked",
			windows: []AvailabilityWindow{window(540, 600)},
			booked: []BookedInterval{
				{StartMinute: 540, DurationMinutes: 60, Status: BookingStatusScheduled},
			},
			wantSlots:       []string{},
			wantFullyBooked: true,
		},
		{
			name:      "window shorter than granularity has no capacity",
			windows:   []AvailabilityWindow{window(540, 570)},
			wantSlots: []string{},
		},
		{
			name:      "windows merged in order",
			windows:   []AvailabilityWindow{window(840, 960), window(480, 600)},
			wantSlots: []string{"08:00", "09:00", "14:00", "15:00"},
		},
		{
			name:           "overlapping declarations deduplicated",
			windows:        []AvailabilityWindow{window(540, 660), window(600, 720)},
			wantSlots:      []string{"09:00", "10:00", "11:00"},
			wantDuplicates: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, dups := BuildSlots(tt.windows, tt.booked, DefaultGranularityMinutes)
			got := startTimes(res.Slots)
			if !reflect.DeepEqual(got, tt.wantSlots) {
				t.Fatalf("slots = %v, want %v", got, tt.wantSlots)
			}
			if res.Available != (len(tt.wantSlots) > 0) {
				t.Fatalf("available = %v with %d slots", res.Available, len(got))
			}
			if res.FullyBooked != tt.wantFullyBooked {
				t.Fatalf("fully_booked = %v, want %v", res.FullyBooked, tt.wantFullyBooked)
			}
			if dups != tt.wantDuplicates {
				t.Fatalf("duplicates = %d, want %d", dups, tt.wantDuplicates)
			}
			for _, s := range res.Slots {
				if s.DurationMinutes != DefaultGranularityMinutes {
					t.Fatalf("slot duration = %d, want %d", s.DurationMinutes, DefaultGranularityMinutes)
				}
			}
		})
	}
}

func TestBuildSlots_EmptyWindowsNotFullyBooked(t *testing.T) {
	res, _ := BuildSlots(nil, []BookedInterval{{StartMinute: 540, DurationMinutes: 60}}, 60)
	if res.Available || res.FullyBooked || res.Slots == nil || len(res.Slots) != 0 {
		t.Fatalf("result = %+v, want empty non-fully-booked", res)
	}
}

func TestCapacity(t *testing.T) {
	got := Capacity([]AvailabilityWindow{window(540, 690), window(780, 840), window(900, 930)}, 60)
	if got != 3 {
		t.Fatalf("Capacity = %d, want 3", got)
	}
	if Capacity([]AvailabilityWindow{window(540, 720)}, 120) != 1 {
		t.Fatalf("Capacity with 120-minute granularity must floor to 1")
	}
}

func TestFirstConflict(t *testing.T) {
	booked := []BookedInterval{
		{StartMinute: 540, DurationMinutes: 60, Status: BookingStatusCancelled},
		{StartMinute: 630, DurationMinutes: 60, Status: BookingStatusScheduled},
	}
	if _, ok := FirstConflict(540, 600, booked); ok {
		t.Fatalf("cancelled booking must not conflict")
	}
	got, ok := FirstConflict(600, 660, booked)
	if !ok || got.StartMinute != 630 {
		t.Fatalf("FirstConflict = %+v, %v; want booking at 630", got, ok)
	}
	if _, ok := FirstConflict(690, 750, booked); ok {
		t.Fatalf("touching booking must not conflict")
	}
}

func TestBookingDurationDefaults(t *testing.T) {
	b := Booking{StartMinute: 600}
	if b.Duration() != DefaultDurationMinutes {
		t.Fatalf("Duration = %d, want %d", b.Duration(), DefaultDurationMinutes)
	}
	d := 90
	b.DurationMinutes = &d
	if b.Interval().EndMinute() != 690 {
		t.Fatalf("EndMinute = %d, want 690", b.Interval().EndMinute())
	}
}

func TestBookingStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingStatusScheduled, BookingStatusInProgress, true},
		{BookingStatusScheduled, BookingStatusCancelled, true},
		{BookingStatusScheduled, BookingStatusCompleted, false},
		{BookingStatusInProgress, BookingStatusCompleted, true},
		{BookingStatusInProgress, BookingStatusCancelled, true},
		{BookingStatusCompleted, BookingStatusCancelled, false},
		{BookingStatusCancelled, BookingStatusScheduled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestResolveDuration(t *testing.T) {
	if d, err := ResolveDuration(nil); err != nil || d != DefaultDurationMinutes {
		t.Fatalf("ResolveDuration(nil) = %d, %v", d, err)
	}
	ninety := 90
	if d, err := ResolveDuration(&ninety); err != nil || d != 90 {
		t.Fatalf("ResolveDuration(90) = %d, %v", d, err)
	}
	for _, bad := range []int{0, -30} {
		bad := bad
		if _, err := ResolveDuration(&bad); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("ResolveDuration(%d) err = %v, want %v", bad, err, ErrInvalidDuration)
		}
	}
}
