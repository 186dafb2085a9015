package validation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/service/units"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

type countingStore struct {
	repository.Store
	overlapQueries int
	authLookups    int
}

func (s *countingStore) Visits() repository.VisitRepository {
	return &countingVisits{VisitRepository: s.Store.Visits(), s: s}
}

func (s *countingStore) Authorizations() repository.AuthorizationRepository {
	return &countingAuths{AuthorizationRepository: s.Store.Authorizations(), s: s}
}

type countingVisits struct {
	repository.VisitRepository
	s *countingStore
}

func (r *countingVisits) ListOverlapCandidates(ctx context.Context, q repository.OverlapQuery) ([]*model.Visit, error) {
	r.s.overlapQueries++
	return r.VisitRepository.ListOverlapCandidates(ctx, q)
}

type countingAuths struct {
	repository.AuthorizationRepository
	s *countingStore
}

func (r *countingAuths) FindActive(ctx context.Context, orgID, clientID uuid.UUID, serviceCode string, on time.Time) (*model.Authorization, error) {
	r.s.authLookups++
	return r.AuthorizationRepository.FindActive(ctx, orgID, clientID, serviceCode, on)
}

func TestValidateAllMatchesValidate(t *testing.T) {
	e := newEnv(t)
	caregiver, client := uuid.New(), uuid.New()
	e.authorize(t, client, 50, 0)

	clean := completed(uuid.New(), client, at(7, 0), at(7, 30), &signed)
	first := completed(caregiver, client, at(10, 0), at(11, 0), &signed)
	second := completed(caregiver, uuid.New(), at(10, 30), at(11, 30), nil)
	for _, v := range []*model.Visit{clean, first, second} {
		e.store.PutVisit(*v)
	}

	got, err := e.val.ValidateAll(context.Background(), org, []*model.Visit{clean, first, second})
	require.NoError(t, err)

	for _, v := range []*model.Visit{clean, first, second} {
		want, err := e.val.Validate(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, ids(want), ids(got[v.ID]), v.ID)
	}
	assert.Empty(t, got[clean.ID])
	assert.Contains(t, ids(got[second.ID]), model.RuleOverlapCaregiver)
	assert.Contains(t, ids(got[second.ID]), model.RuleNoAuthorization)
}

func TestValidateAllReadsStoreOnce(t *testing.T) {
	e := newEnv(t)
	client := uuid.New()
	e.authorize(t, client, 500, 0)

	var visits []*model.Visit
	for i := 0; i < 6; i++ {
		v := completed(uuid.New(), client, at(8+i, 0), at(8+i, 30), &signed)
		e.store.PutVisit(*v)
		visits = append(visits, v)
	}

	counted := &countingStore{Store: e.store}
	val := NewValidator(counted, units.Default, metrics.NewNop())

	got, err := val.ValidateAll(context.Background(), org, visits)
	require.NoError(t, err)
	require.Len(t, got, len(visits))

	assert.Zero(t, counted.overlapQueries)
	assert.Equal(t, 1, counted.authLookups)
}
