package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ScopeKind string

const (
	ScopeRecurring ScopeKind = "recurring"
	ScopeDate      ScopeKind = "date"
)

// Scope identifies which days a window applies to: every week on Day, or only on Date.
type Scope struct {
	Kind ScopeKind
	Day  time.Weekday
	Date time.Time
}

func RecurringScope(day time.Weekday) Scope {
	return Scope{Kind: ScopeRecurring, Day: day}
}

func DateScope(date time.Time) Scope {
	d := DateOf(date)
	return Scope{Kind: ScopeDate, Day: d.Weekday(), Date: d}
}

// Key groups windows that must not overlap each other.
func (s Scope) Key() string {
	if s.Kind == ScopeDate {
		return "date:" + FormatDate(s.Date)
	}
	return "day:" + s.Day.String()
}

type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	InstructorID  string     `bun:"instructor_id,notnull"`
	DayOfWeek     *int16     `bun:"day_of_week"`
	Date          *time.Time `bun:"specific_date,type:date"`
	StartMinute   int        `bun:"start_minute,notnull"`
	EndMinute     int        `bun:"end_minute,notnull"`
	IsRecurring   bool       `bun:"is_recurring,notnull"`
	EffectiveFrom *time.Time `bun:"effective_from,type:date"`
	EffectiveTo   *time.Time `bun:"effective_to,type:date"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull"`
}

func NewWindow(instructorID string, scope Scope, startMinute, endMinute int) AvailabilityWindow {
	w := AvailabilityWindow{
		InstructorID: instructorID,
		StartMinute:  startMinute,
		EndMinute:    endMinute,
	}
	w.SetScope(scope)
	return w
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

func (w AvailabilityWindow) Scope() Scope {
	if w.Date != nil {
		return DateScope(*w.Date)
	}
	var day time.Weekday
	if w.DayOfWeek != nil {
		day = time.Weekday(*w.DayOfWeek)
	}
	return RecurringScope(day)
}

// SetScope stores the scope in its column form and keeps IsRecurring in sync.
func (w *AvailabilityWindow) SetScope(s Scope) {
	if s.Kind == ScopeDate {
		d := DateOf(s.Date)
		w.Date = &d
		w.DayOfWeek = nil
		w.IsRecurring = false
		return
	}
	day := int16(s.Day)
	w.DayOfWeek = &day
	w.Date = nil
	w.IsRecurring = true
}

// ActiveOn reports whether the window still counts for overlap validation as of today.
func (w AvailabilityWindow) ActiveOn(today time.Time) bool {
	return w.EffectiveTo == nil || !DateOf(*w.EffectiveTo).Before(DateOf(today))
}

// AppliesOn reports whether a recurring window covers date through its weekday and validity range.
func (w AvailabilityWindow) AppliesOn(date time.Time) bool {
	date = DateOf(date)
	s := w.Scope()
	if s.Kind == ScopeDate {
		return s.Date.Equal(date)
	}
	if s.Day != date.Weekday() {
		return false
	}
	if w.EffectiveFrom != nil && date.Before(DateOf(*w.EffectiveFrom)) {
		return false
	}
	if w.EffectiveTo != nil && date.After(DateOf(*w.EffectiveTo)) {
		return false
	}
	return true
}

func (w AvailabilityWindow) Overlaps(o AvailabilityWindow) bool {
	return Overlaps(w.StartMinute, w.EndMinute, o.StartMinute, o.EndMinute)
}

// FindOverlap returns the first active sibling that shares candidate's instructor and scope key and
// overlaps it. The candidate itself (same ID) is never a sibling.
func FindOverlap(candidate AvailabilityWindow, existing []AvailabilityWindow, today time.Time) (AvailabilityWindow, bool) {
	key := candidate.Scope().Key()
	for _, e := range existing {
		if e.InstructorID != candidate.InstructorID {
			continue
		}
		if candidate.ID != uuid.Nil && e.ID == candidate.ID {
			continue
		}
		if e.Scope().Key() != key || !e.ActiveOn(today) {
			continue
		}
		if candidate.Overlaps(e) {
			return e, true
		}
	}
	return AvailabilityWindow{}, false
}

// ResolveWindows picks the windows in effect on date. Date-specific windows for that date replace the
// recurring windows for its weekday entirely; the two sets are never merged.
func ResolveWindows(windows []AvailabilityWindow, date time.Time) []AvailabilityWindow {
	date = DateOf(date)

	var specific, recurring []AvailabilityWindow
	for _, w := range windows {
		if !w.AppliesOn(date) {
			continue
		}
		if w.Scope().Kind == ScopeDate {
			specific = append(specific, w)
		} else {
			recurring = append(recurring, w)
		}
	}

	out := recurring
	if len(specific) > 0 {
		out = specific
	}
	SortWindows(out)
	return out
}

func SortWindows(windows []AvailabilityWindow) {
	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].StartMinute != windows[j].StartMinute {
			return windows[i].StartMinute < windows[j].StartMinute
		}
		return windows[i].EndMinute < windows[j].EndMinute
	})
}

// SortByScope orders windows recurring first (Sunday..Saturday), then date-specific by date, then by
// start time within each scope key.
func SortByScope(windows []AvailabilityWindow) {
	sort.SliceStable(windows, func(i, j int) bool {
		si, sj := windows[i].Scope(), windows[j].Scope()
		if si.Kind != sj.Kind {
			return si.Kind == ScopeRecurring
		}
		if si.Kind == ScopeRecurring && si.Day != sj.Day {
			return si.Day < sj.Day
		}
		if si.Kind == ScopeDate && !si.Date.Equal(sj.Date) {
			return si.Date.Before(sj.Date)
		}
		return windows[i].StartMinute < windows[j].StartMinute
	})
}

// PlanWeekCopy builds the copies of the windows that apply to the week containing weekOf, moved into
// the following week. Date-specific windows shift by seven days; recurring windows keep their weekday
// and times and become effective from the start of the target week. Copies carry no ID.
//
// A recurring copy overlaps its source for as long as the source is active, so callers that validate
// copies with FindOverlap only keep it once the source has expired (EffectiveTo before today). That is
// how copying a week carries a recurring schedule that ended in the source week forward.
func PlanWeekCopy(windows []AvailabilityWindow, weekOf time.Time) []AvailabilityWindow {
	sourceStart := WeekStart(weekOf)
	targetStart := sourceStart.AddDate(0, 0, 7)

	var out []AvailabilityWindow
	for _, w := range windows {
		s := w.Scope()
		switch s.Kind {
		case ScopeDate:
			if s.Date.Before(sourceStart) || !s.Date.Before(targetStart) {
				continue
			}
			c := NewWindow(w.InstructorID, DateScope(s.Date.AddDate(0, 0, 7)), w.StartMinute, w.EndMinute)
			out = append(out, c)
		case ScopeRecurring:
			if !w.AppliesOn(sourceStart.AddDate(0, 0, int(s.Day))) {
				continue
			}
			c := NewWindow(w.InstructorID, s, w.StartMinute, w.EndMinute)
			from := targetStart
			c.EffectiveFrom = &from
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Scope(), out[j].Scope()
		if di.Day != dj.Day {
			return di.Day < dj.Day
		}
		if di.Kind != dj.Kind {
			return di.Kind == ScopeDate
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out
}
