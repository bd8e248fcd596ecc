package domain

import "sort"

const DefaultGranularityMinutes = 60

type BookableSlot struct {
	StartMinute     int
	DurationMinutes int
}

func (s BookableSlot) StartTime() string {
	return FormatTime(s.StartMinute)
}

func (s BookableSlot) EndMinute() int {
	return s.StartMinute + s.DurationMinutes
}

type AvailabilityResult struct {
	Available   bool
	Slots       []BookableSlot
	FullyBooked bool
}

// QuantizeWindow cuts w into consecutive slots of granularity minutes starting at w.StartMinute.
// A trailing remainder shorter than granularity is dropped.
func QuantizeWindow(w AvailabilityWindow, granularity int) []BookableSlot {
	if granularity <= 0 {
		return nil
	}
	var out []BookableSlot
	for t := w.StartMinute; t+granularity <= w.EndMinute; t += granularity {
		out = append(out, BookableSlot{StartMinute: t, DurationMinutes: granularity})
	}
	return out
}

// Capacity is the number of whole slots the windows can hold, regardless of bookings.
func Capacity(windows []AvailabilityWindow, granularity int) int {
	if granularity <= 0 {
		return 0
	}
	total := 0
	for _, w := range windows {
		if w.EndMinute > w.StartMinute {
			total += (w.EndMinute - w.StartMinute) / granularity
		}
	}
	return total
}

// BuildSlots quantizes every window, drops slots that overlap any booked interval, and merges the
// survivors in ascending start order. Slots with identical start times can only come from windows
// that overlap each other; they are collapsed and their count is returned as duplicates.
func BuildSlots(windows []AvailabilityWindow, booked []BookedInterval, granularity int) (result AvailabilityResult, duplicates int) {
	if len(windows) == 0 {
		return AvailabilityResult{Slots: []BookableSlot{}}, 0
	}

	var retained []BookableSlot
	for _, w := range windows {
		for _, slot := range QuantizeWindow(w, granularity) {
			if _, conflict := FirstConflict(slot.StartMinute, slot.EndMinute(), booked); conflict {
				continue
			}
			retained = append(retained, slot)
		}
	}

	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].StartMinute < retained[j].StartMinute
	})

	slots := make([]BookableSlot, 0, len(retained))
	for _, s := range retained {
		if n := len(slots); n > 0 && slots[n-1].StartMinute == s.StartMinute {
			duplicates++
			continue
		}
		slots = append(slots, s)
	}

	capacity := Capacity(windows, granularity)
	return AvailabilityResult{
		Available:   len(slots) > 0,
		Slots:       slots,
		FullyBooked: capacity > 0 && len(slots) == 0,
	}, duplicates
}
