package overlap

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/repository/memory"
)

func at(h, m int) time.Time {
	return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestIntersects(t *testing.T) {
	tests := []struct {
		name       string
		aStart     time.Time
		aEnd       *time.Time
		bStart     time.Time
		bEnd       *time.Time
		intersects bool
	}{
		{"touching", at(10, 0), ptr(at(11, 0)), at(11, 0), ptr(at(12, 0)), false},
		{"touching reversed", at(11, 0), ptr(at(12, 0)), at(10, 0), ptr(at(11, 0)), false},
		{"partial", at(10, 0), ptr(at(11, 0)), at(10, 30), ptr(at(11, 30)), true},
		{"contained", at(10, 0), ptr(at(12, 0)), at(10, 30), ptr(at(11, 0)), true},
		{"disjoint", at(8, 0), ptr(at(9, 0)), at(10, 0), ptr(at(11, 0)), false},
		{"open existing", at(9, 0), nil, at(15, 0), ptr(at(16, 0)), true},
		{"open existing starts after", at(17, 0), nil, at(15, 0), ptr(at(16, 0)), false},
		{"open candidate", at(10, 0), ptr(at(11, 0)), at(10, 59), nil, true},
		{"open candidate after", at(10, 0), ptr(at(11, 0)), at(11, 0), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.intersects, Intersects(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
		})
	}
}

func completedVisit(org, caregiver, client uuid.UUID, start, end time.Time) model.Visit {
	return model.Visit{
		Base:           model.Base{ID: uuid.New()},
		OrganizationID: org,
		CaregiverID:    caregiver,
		ClientID:       client,
		Status:         model.VisitStatusCompleted,
		StartDateTime:  &start,
		EndDateTime:    &end,
	}
}

func TestGuardHasOverlap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	org, cg, client := uuid.New(), uuid.New(), uuid.New()

	existing := completedVisit(org, cg, client, at(10, 0), at(11, 0))
	store.PutVisit(existing)

	// scheduled visits are not active and never conflict
	ss, se := at(10, 30), at(11, 30)
	store.PutVisit(model.Visit{
		Base:           model.Base{ID: uuid.New()},
		OrganizationID: org, CaregiverID: cg, ClientID: uuid.New(),
		Status:         model.VisitStatusScheduled,
		ScheduledStart: &ss, ScheduledEnd: &se,
	})

	g := NewGuard(store.Visits())
	q := repository.OverlapQuery{OrganizationID: org, Actor: repository.ActorCaregiver, ActorID: cg}

	q.From, q.To = at(11, 0), ptr(at(12, 0))
	ok, err := g.HasOverlap(ctx, q)
	require.NoError(t, err)
	assert.False(t, ok, "boundary touching is not overlap")

	q.From, q.To = at(10, 30), ptr(at(11, 30))
	ok, err = g.HasOverlap(ctx, q)
	require.NoError(t, err)
	assert.True(t, ok)

	q.ExcludeVisitID = &existing.ID
	ok, err = g.HasOverlap(ctx, q)
	require.NoError(t, err)
	assert.False(t, ok, "a visit never conflicts with itself")
}

func TestGuardClientKeyIndependentOfCaregiver(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	org, client := uuid.New(), uuid.New()
	store.PutVisit(completedVisit(org, uuid.New(), client, at(10, 0), at(11, 0)))

	g := NewGuard(store.Visits())
	conflicts, err := g.Conflicts(ctx, repository.OverlapQuery{
		OrganizationID: org, Actor: repository.ActorClient, ActorID: client,
		From: at(10, 15), To: ptr(at(10, 45)),
	})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	ok, err := g.HasOverlap(ctx, repository.OverlapQuery{
		OrganizationID: org, Actor: repository.ActorCaregiver, ActorID: uuid.New(),
		From: at(10, 15), To: ptr(at(10, 45)),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuardScheduledStatusesWhenBooking(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	org, cg := uuid.New(), uuid.New()
	ss, se := at(14, 0), at(15, 0)
	store.PutVisit(model.Visit{
		Base:           model.Base{ID: uuid.New()},
		OrganizationID: org, CaregiverID: cg, ClientID: uuid.New(),
		Status:         model.VisitStatusScheduled,
		ScheduledStart: &ss, ScheduledEnd: &se,
	})

	ok, err := NewGuard(store.Visits()).HasOverlap(ctx, repository.OverlapQuery{
		OrganizationID: org, Actor: repository.ActorCaregiver, ActorID: cg,
		From: at(14, 30), To: ptr(at(15, 30)),
		Statuses: model.BookedVisitStatuses,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}
