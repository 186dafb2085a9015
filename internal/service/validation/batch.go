package validation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
)

// ValidateAll validates many visits of one organization against a single
// read of its active visits. Authorization lookups are shared per client,
// service and day.
func (val *Validator) ValidateAll(ctx context.Context, orgID uuid.UUID, visits []*model.Visit) (map[uuid.UUID][]model.BillingFinding, error) {
	out := make(map[uuid.UUID][]model.BillingFinding, len(visits))
	if len(visits) == 0 {
		return out, nil
	}

	active, err := val.store.Visits().ListByStatus(ctx, orgID, model.ActiveVisitStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to load active visits: %w", err)
	}
	snap := &snapshotStore{
		Store: val.store,
		visits: &snapshotVisits{
			VisitRepository: val.store.Visits(),
			orgID:           orgID,
			active:          active,
		},
		auths: &memoAuthorizations{
			AuthorizationRepository: val.store.Authorizations(),
			seen:                    make(map[authKey]*model.Authorization),
		},
	}

	batch := val.WithStore(snap)
	for _, v := range visits {
		findings, err := batch.Validate(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("failed to validate visit %s: %w", v.ID, err)
		}
		out[v.ID] = findings
	}
	return out, nil
}

type snapshotStore struct {
	repository.Store
	visits *snapshotVisits
	auths  *memoAuthorizations
}

func (s *snapshotStore) Visits() repository.VisitRepository                 { return s.visits }
func (s *snapshotStore) Authorizations() repository.AuthorizationRepository { return s.auths }

// snapshotVisits answers overlap queries from a preloaded set. Queries it
// cannot cover go to the underlying repository.
type snapshotVisits struct {
	repository.VisitRepository
	orgID  uuid.UUID
	active []*model.Visit
}

func (r *snapshotVisits) ListOverlapCandidates(ctx context.Context, q repository.OverlapQuery) ([]*model.Visit, error) {
	if q.OrganizationID != r.orgID || !covers(model.ActiveVisitStatuses, q.Statuses) {
		return r.VisitRepository.ListOverlapCandidates(ctx, q)
	}

	var out []*model.Visit
	for _, v := range r.active {
		if !slices.Contains(q.Statuses, v.Status) {
			continue
		}
		if q.ExcludeVisitID != nil && v.ID == *q.ExcludeVisitID {
			continue
		}
		switch q.Actor {
		case repository.ActorCaregiver:
			if v.CaregiverID != q.ActorID {
				continue
			}
		case repository.ActorClient:
			if v.ClientID != q.ActorID {
				continue
			}
		default:
			return nil, fmt.Errorf("unknown overlap actor %q", q.Actor)
		}
		out = append(out, v)
	}
	return out, nil
}

func covers(have, want []model.VisitStatus) bool {
	for _, s := range want {
		if !slices.Contains(have, s) {
			return false
		}
	}
	return len(want) > 0
}

type authKey struct {
	orgID, clientID uuid.UUID
	serviceCode     string
	day             time.Time
}

type memoAuthorizations struct {
	repository.AuthorizationRepository
	seen map[authKey]*model.Authorization
}

func (r *memoAuthorizations) FindActive(ctx context.Context, orgID, clientID uuid.UUID, serviceCode string, on time.Time) (*model.Authorization, error) {
	key := authKey{orgID: orgID, clientID: clientID, serviceCode: serviceCode, day: model.DateOf(on)}
	if auth, ok := r.seen[key]; ok {
		return auth, nil
	}
	auth, err := r.AuthorizationRepository.FindActive(ctx, orgID, clientID, serviceCode, on)
	if err != nil {
		return nil, err
	}
	r.seen[key] = auth
	return auth, nil
}
