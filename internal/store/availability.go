package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
)

// WindowPatch carries the fields of a window that may change. Nil fields are left as they are.
type WindowPatch struct {
	Scope          *domain.Scope
	StartMinute    *int
	EndMinute      *int
	EffectiveFrom  *time.Time
	EffectiveTo    *time.Time
	ClearEffective bool
}

// Apply returns w with the patch applied. ClearEffective drops both bounds before the new ones are set.
func (p WindowPatch) Apply(w domain.AvailabilityWindow) domain.AvailabilityWindow {
	if p.Scope != nil {
		w.SetScope(*p.Scope)
	}
	if p.StartMinute != nil {
		w.StartMinute = *p.StartMinute
	}
	if p.EndMinute != nil {
		w.EndMinute = *p.EndMinute
	}
	if p.ClearEffective {
		w.EffectiveFrom = nil
		w.EffectiveTo = nil
	}
	if p.EffectiveFrom != nil {
		from := domain.DateOf(*p.EffectiveFrom)
		w.EffectiveFrom = &from
	}
	if p.EffectiveTo != nil {
		to := domain.DateOf(*p.EffectiveTo)
		w.EffectiveTo = &to
	}
	if !w.IsRecurring {
		w.EffectiveFrom = nil
		w.EffectiveTo = nil
	}
	return w
}

// AvailabilityRepository stores declared working-hour windows. Writes for one instructor are
// serialized so the overlap check and the write happen as one unit.
type AvailabilityRepository interface {
	AddWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, id uuid.UUID, patch WindowPatch) (domain.AvailabilityWindow, error)
	RemoveWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error)
	GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error)
	ListWindows(ctx context.Context, instructorID string) ([]domain.AvailabilityWindow, error)
	WindowsFor(ctx context.Context, instructorID string, date time.Time) ([]domain.AvailabilityWindow, error)
	CopyWeek(ctx context.Context, instructorID string, weekOf time.Time) ([]uuid.UUID, error)
}
