package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

type authorizationRepo struct {
	s *Store
}

func (r *authorizationRepo) Create(_ context.Context, a *model.Authorization) error {
	unlock := r.s.lock()
	defer unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = model.AuthorizationStatusActive
	}
	now := r.s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.s.authorizations[a.ID] = *a
	return nil
}

func (r *authorizationRepo) Get(_ context.Context, id uuid.UUID) (*model.Authorization, error) {
	unlock := r.s.lock()
	defer unlock()

	a, ok := r.s.authorizations[id]
	if !ok {
		return nil, errAuthorizationNotFound
	}
	return &a, nil
}

// FindActive prefers the authorization that ends soonest.
func (r *authorizationRepo) FindActive(_ context.Context, orgID, clientID uuid.UUID, serviceCode string, on time.Time) (*model.Authorization, error) {
	unlock := r.s.lock()
	defer unlock()

	var best *model.Authorization
	for _, a := range r.s.authorizations {
		if a.OrganizationID != orgID || a.ContactID != clientID || a.ServiceCode != serviceCode {
			continue
		}
		if a.Status != model.AuthorizationStatusActive || !a.Covers(on) {
			continue
		}
		if best == nil || a.EndDate.Before(best.EndDate) {
			best = &a
		}
	}
	return best, nil
}

func (r *authorizationRepo) ConsumeUnits(_ context.Context, id uuid.UUID, units int) (bool, error) {
	unlock := r.s.lock()
	defer unlock()

	a, ok := r.s.authorizations[id]
	if !ok {
		return false, errAuthorizationNotFound
	}
	if a.Status != model.AuthorizationStatusActive || a.UsedUnits+units > a.TotalUnits {
		return false, nil
	}
	a.UsedUnits += units
	if a.UsedUnits == a.TotalUnits {
		a.Status = model.AuthorizationStatusExhausted
	}
	a.UpdatedAt = r.s.now()
	r.s.authorizations[id] = a
	return true, nil
}

func (r *authorizationRepo) CountExpiring(_ context.Context, orgID uuid.UUID, from, to time.Time) (int, error) {
	unlock := r.s.lock()
	defer unlock()

	n := 0
	for _, a := range r.s.authorizations {
		if a.OrganizationID != orgID || a.Status != model.AuthorizationStatusActive {
			continue
		}
		end := model.DateOf(a.EndDate)
		if !end.Before(model.DateOf(from)) && !end.After(model.DateOf(to)) {
			n++
		}
	}
	return n, nil
}

type claimRepo struct {
	s *Store
}

func (r *claimRepo) Create(_ context.Context, c *model.Claim) error {
	unlock := r.s.lock()
	defer unlock()

	for _, existing := range r.s.claims {
		if existing.VisitID == c.VisitID {
			return apperrors.NewConflict("visit already has a claim", nil)
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := r.s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.s.claims[c.ID] = *c
	return nil
}

func (r *claimRepo) SubmitDrafts(_ context.Context, orgID uuid.UUID, at time.Time) (int64, error) {
	unlock := r.s.lock()
	defer unlock()

	var n int64
	for id, c := range r.s.claims {
		if c.OrganizationID != orgID || c.Status != model.ClaimStatusDraft {
			continue
		}
		c.Status = model.ClaimStatusSubmitted
		submitted := at
		c.SubmittedAt = &submitted
		c.UpdatedAt = at
		r.s.claims[id] = c
		n++
	}
	return n, nil
}

func (r *claimRepo) List(_ context.Context, orgID uuid.UUID, status *model.ClaimStatus) ([]*model.Claim, error) {
	unlock := r.s.lock()
	defer unlock()

	var out []*model.Claim
	for _, c := range r.s.claims {
		if c.OrganizationID != orgID || (status != nil && c.Status != *status) {
			continue
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimNumber < out[j].ClaimNumber })
	return out, nil
}
