package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

type visitRepo struct {
	s *Store
}

// checkInProgress mirrors the partial unique index on in-progress visits.
func (r *visitRepo) checkInProgress(v *model.Visit) error {
	if v.Status != model.VisitStatusInProgress {
		return nil
	}
	for id, other := range r.s.visits {
		if id != v.ID && other.CaregiverID == v.CaregiverID && other.Status == model.VisitStatusInProgress {
			return apperrors.ErrAlreadyOnVisit
		}
	}
	return nil
}

func (r *visitRepo) Create(_ context.Context, v *model.Visit) error {
	unlock := r.s.lock()
	defer unlock()

	if err := v.Validate(); err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	if err := r.checkInProgress(v); err != nil {
		return err
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := r.s.now()
	v.CreatedAt = now
	v.UpdatedAt = now
	r.s.visits[v.ID] = *v
	return nil
}

func (r *visitRepo) Get(_ context.Context, id uuid.UUID) (*model.Visit, error) {
	unlock := r.s.lock()
	defer unlock()

	v, ok := r.s.visits[id]
	if !ok {
		return nil, apperrors.ErrVisitNotFound
	}
	return &v, nil
}

func (r *visitRepo) Update(_ context.Context, v *model.Visit, from model.VisitStatus) error {
	unlock := r.s.lock()
	defer unlock()

	cur, ok := r.s.visits[v.ID]
	if !ok {
		return apperrors.ErrVisitNotFound
	}
	if cur.Status != from {
		return apperrors.ErrInvalidTransition
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("failed to update visit: %w", err)
	}
	if err := r.checkInProgress(v); err != nil {
		return err
	}
	v.CreatedAt = cur.CreatedAt
	v.UpdatedAt = r.s.now()
	r.s.visits[v.ID] = *v
	return nil
}

func (r *visitRepo) FindInProgress(_ context.Context, caregiverID uuid.UUID) (*model.Visit, error) {
	unlock := r.s.lock()
	defer unlock()

	for _, v := range r.s.visits {
		if v.CaregiverID == caregiverID && v.Status == model.VisitStatusInProgress {
			return &v, nil
		}
	}
	return nil, nil
}

func (r *visitRepo) FindScheduled(_ context.Context, orgID, caregiverID, clientID uuid.UUID, from, to time.Time) ([]*model.Visit, error) {
	return r.filter(func(v *model.Visit) bool {
		return v.OrganizationID == orgID &&
			v.CaregiverID == caregiverID &&
			v.ClientID == clientID &&
			v.Status == model.VisitStatusScheduled &&
			v.ScheduledStart != nil &&
			!v.ScheduledStart.Before(from) &&
			!v.ScheduledStart.After(to)
	}), nil
}

func (r *visitRepo) ListOverlapCandidates(_ context.Context, q repository.OverlapQuery) ([]*model.Visit, error) {
	return r.filter(func(v *model.Visit) bool {
		if v.OrganizationID != q.OrganizationID || !containsStatus(q.Statuses, v.Status) {
			return false
		}
		if q.ExcludeVisitID != nil && v.ID == *q.ExcludeVisitID {
			return false
		}
		switch q.Actor {
		case repository.ActorCaregiver:
			return v.CaregiverID == q.ActorID
		case repository.ActorClient:
			return v.ClientID == q.ActorID
		}
		return false
	}), nil
}

func (r *visitRepo) ListUnbilledVerified(_ context.Context, orgID uuid.UUID) ([]*model.Visit, error) {
	return r.filter(func(v *model.Visit) bool {
		return v.OrganizationID == orgID && v.Status == model.VisitStatusVerified && v.ClaimID == nil
	}), nil
}

func (r *visitRepo) ListByStatus(_ context.Context, orgID uuid.UUID, statuses []model.VisitStatus) ([]*model.Visit, error) {
	return r.filter(func(v *model.Visit) bool {
		return v.OrganizationID == orgID && containsStatus(statuses, v.Status)
	}), nil
}

func (r *visitRepo) ListPendingSync(_ context.Context, endedBefore time.Time, limit int) ([]*model.Visit, error) {
	out := r.filter(func(v *model.Visit) bool {
		return v.Status == model.VisitStatusCompleted && v.EndDateTime != nil && v.EndDateTime.Before(endedBefore)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndDateTime.Equal(*out[j].EndDateTime) {
			return out[i].EndDateTime.Before(*out[j].EndDateTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *visitRepo) LinkClaim(_ context.Context, visitID, claimID uuid.UUID) (bool, error) {
	unlock := r.s.lock()
	defer unlock()

	v, ok := r.s.visits[visitID]
	if !ok || v.ClaimID != nil {
		return false, nil
	}
	v.ClaimID = &claimID
	v.UpdatedAt = r.s.now()
	r.s.visits[visitID] = v
	return true, nil
}

func (r *visitRepo) CountMissed(_ context.Context, orgID uuid.UUID, now time.Time) (int, error) {
	return len(r.filter(func(v *model.Visit) bool {
		return v.OrganizationID == orgID &&
			v.Status == model.VisitStatusScheduled &&
			v.ScheduledEnd != nil && v.ScheduledEnd.Before(now)
	})), nil
}

func (r *visitRepo) CountUnbilledVerified(ctx context.Context, orgID uuid.UUID) (int, error) {
	vs, err := r.ListUnbilledVerified(ctx, orgID)
	return len(vs), err
}

func (r *visitRepo) filter(keep func(*model.Visit) bool) []*model.Visit {
	unlock := r.s.lock()
	defer unlock()

	var out []*model.Visit
	for _, v := range r.s.visits {
		if keep(&v) {
			out = append(out, &v)
		}
	}
	sortVisits(out)
	return out
}
