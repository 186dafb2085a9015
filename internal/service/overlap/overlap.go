// Package overlap detects double-booked caregivers and clients.
package overlap

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
)

// Intersects tests half-open intervals [aStart, aEnd) and [bStart, bEnd).
// A nil end is open. Touching intervals do not intersect.
func Intersects(aStart time.Time, aEnd *time.Time, bStart time.Time, bEnd *time.Time) bool {
	aBeforeBEnd := bEnd == nil || aStart.Before(*bEnd)
	aEndAfterB := aEnd == nil || aEnd.After(bStart)
	return aBeforeBEnd && aEndAfterB
}

type Guard struct {
	visits repository.VisitRepository
}

// NewGuard binds a guard to a visit repository. Pass a transaction-scoped
// repository when the check must be atomic with a following write.
func NewGuard(visits repository.VisitRepository) *Guard {
	return &Guard{visits: visits}
}

// Conflicts returns every visit of the actor whose effective interval
// intersects the query window.
func (g *Guard) Conflicts(ctx context.Context, q repository.OverlapQuery) ([]*model.Visit, error) {
	if q.To != nil && q.To.Before(q.From) {
		return nil, fmt.Errorf("overlap window ends before it starts")
	}
	if len(q.Statuses) == 0 {
		q.Statuses = model.ActiveVisitStatuses
	}

	candidates, err := g.visits.ListOverlapCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlap candidates: %w", err)
	}

	var out []*model.Visit
	for _, v := range candidates {
		start, end, ok := v.Interval()
		if q.At != nil {
			start, end, ok = v.IntervalAt(*q.At)
		}
		if !ok {
			continue
		}
		if Intersects(start, end, q.From, q.To) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (g *Guard) HasOverlap(ctx context.Context, q repository.OverlapQuery) (bool, error) {
	conflicts, err := g.Conflicts(ctx, q)
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}
