package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q) error: %v", s, err)
	}
	return d
}

func TestFindOverlap(t *testing.T) {
	today := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	existing := NewWindow("i1", RecurringScope(time.Monday), 540, 720)
	existing.ID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

	t.Run("overlapping same day rejected", func(t *testing.T) {
		c := NewWindow("i1", RecurringScope(time.Monday), 660, 780)
		got, ok := FindOverlap(c, []AvailabilityWindow{existing}, today)
		if !ok {
			t.Fatalf("expected overlap")
		}
		if got.ID != existing.ID {
			t.Fatalf("conflicting id = %s, want %s", got.ID, existing.ID)
		}
	})

	t.Run("touching allowed", func(t *testing.T) {
		c := NewWindow("i1", RecurringScope(time.Monday), 720, 780)
		if _, ok := FindOverlap(c, []AvailabilityWindow{existing}, today); ok {
			t.Fatalf("touching windows must not overlap")
		}
	})

	t.Run("other day ignored", func(t *testing.T) {
		c := NewWindow("i1", RecurringScope(time.Tuesday), 540, 720)
		if _, ok := FindOverlap(c, []AvailabilityWindow{existing}, today); ok {
			t.Fatalf("different weekday must not conflict")
		}
	})

	t.Run("date scope is a separate key", func(t *testing.T) {
		c := NewWindow("i1", DateScope(mustDate(t, "2026-01-12")), 540, 720)
		if _, ok := FindOverlap(c, []AvailabilityWindow{existing}, today); ok {
			t.Fatalf("date-specific window must not conflict with recurring window")
		}
	})

	t.Run("other instructor ignored", func(t *testing.T) {
		c := NewWindow("i2", RecurringScope(time.Monday), 540, 720)
		if _, ok := FindOverlap(c, []AvailabilityWindow{existing}, today); ok {
			t.Fatalf("different instructor must not conflict")
		}
	})

	t.Run("self excluded", func(t *testing.T) {
		c := existing
		c.EndMinute = 780
		if _, ok := FindOverlap(c, []AvailabilityWindow{existing}, today); ok {
			t.Fatalf("window must not conflict with itself")
		}
	})

	t.Run("expired sibling ignored", func(t *testing.T) {
		expired := existing
		end := today.AddDate(0, 0, -1)
		expired.EffectiveTo = &end
		c := NewWindow("i1", RecurringScope(time.Monday), 540, 720)
		if _, ok := FindOverlap(c, []AvailabilityWindow{expired}, today); ok {
			t.Fatalf("expired window must not block")
		}
	})

	t.Run("sibling ending today still active", func(t *testing.T) {
		ending := existing
		end := today
		ending.EffectiveTo = &end
		c := NewWindow("i1", RecurringScope(time.Monday), 540, 720)
		if _, ok := FindOverlap(c, []AvailabilityWindow{ending}, today); !ok {
			t.Fatalf("window ending today must still block")
		}
	})
}

func TestResolveWindows_DateSpecificReplacesRecurring(t *testing.T) {
	monday := mustDate(t, "2026-01-05")
	recurring := NewWindow("i1", RecurringScope(time.Monday), 480, 720)
	override := NewWindow("i1", DateScope(monday), 780, 840)

	got := ResolveWindows([]AvailabilityWindow{recurring, override}, monday)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].StartMinute != 780 || got[0].EndMinute != 840 {
		t.Fatalf("resolved window = %d-%d, want 780-840", got[0].StartMinute, got[0].EndMinute)
	}

	nextMonday := monday.AddDate(0, 0, 7)
	got = ResolveWindows([]AvailabilityWindow{recurring, override}, nextMonday)
	if len(got) != 1 || got[0].StartMinute != 480 {
		t.Fatalf("override must not leak into other Mondays: %+v", got)
	}
}

func TestResolveWindows_EffectiveRangeInclusive(t *testing.T) {
	from := mustDate(t, "2026-01-05")
	to := mustDate(t, "2026-01-19")
	w := NewWindow("i1", RecurringScope(time.Monday), 540, 600)
	w.EffectiveFrom = &from
	w.EffectiveTo = &to

	tests := []struct {
		date string
		want int
	}{
		{date: "2025-12-29", want: 0},
		{date: "2026-01-05", want: 1},
		{date: "2026-01-19", want: 1},
		{date: "2026-01-26", want: 0},
		{date: "2026-01-06", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			got := ResolveWindows([]AvailabilityWindow{w}, mustDate(t, tt.date))
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestResolveWindows_SortsByStart(t *testing.T) {
	monday := mustDate(t, "2026-01-05")
	late := NewWindow("i1", RecurringScope(time.Monday), 840, 960)
	early := NewWindow("i1", RecurringScope(time.Monday), 480, 600)

	got := ResolveWindows([]AvailabilityWindow{late, early}, monday)
	if len(got) != 2 || got[0].StartMinute != 480 || got[1].StartMinute != 840 {
		t.Fatalf("windows not sorted: %+v", got)
	}
}

func TestPlanWeekCopy(t *testing.T) {
	weekOf := mustDate(t, "2026-01-07")
	inWeek := NewWindow("i1", DateScope(mustDate(t, "2026-01-06")), 600, 660)
	outOfWeek := NewWindow("i1", DateScope(mustDate(t, "2026-01-13")), 600, 660)
	recurring := NewWindow("i1", RecurringScope(time.Friday), 540, 720)

	copies := PlanWeekCopy([]AvailabilityWindow{outOfWeek, recurring, inWeek}, weekOf)
	if len(copies) != 2 {
		t.Fatalf("len(copies) = %d, want 2", len(copies))
	}

	first := copies[0].Scope()
	if first.Kind != ScopeDate || FormatDate(first.Date) != "2026-01-13" {
		t.Fatalf("first copy scope = %+v, want date 2026-01-13", first)
	}
	if copies[0].ID != uuid.Nil {
		t.Fatalf("copies must not carry ids")
	}

	second := copies[1]
	if !second.IsRecurring || second.Scope().Day != time.Friday {
		t.Fatalf("second copy = %+v, want recurring Friday", second.Scope())
	}
	if second.EffectiveFrom == nil || FormatDate(*second.EffectiveFrom) != "2026-01-11" {
		t.Fatalf("recurring copy effective_from = %v, want 2026-01-11", second.EffectiveFrom)
	}
}

func TestSetScopeKeepsRecurringFlagInSync(t *testing.T) {
	w := NewWindow("i1", RecurringScope(time.Sunday), 0, 60)
	if !w.IsRecurring || w.DayOfWeek == nil || *w.DayOfWeek != 0 || w.Date != nil {
		t.Fatalf("recurring scope columns wrong: %+v", w)
	}
	w.SetScope(DateScope(time.Date(2026, 1, 4, 15, 30, 0, 0, time.UTC)))
	if w.IsRecurring || w.DayOfWeek != nil || w.Date == nil || FormatDate(*w.Date) != "2026-01-04" {
		t.Fatalf("date scope columns wrong: %+v", w)
	}
	if w.Date.Hour() != 0 {
		t.Fatalf("date must be truncated to midnight: %v", w.Date)
	}
}
