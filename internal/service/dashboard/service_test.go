package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository/memory"
	"github.com/jwalitptl/evv-api/internal/service/units"
	"github.com/jwalitptl/evv-api/internal/service/validation"
	"github.com/jwalitptl/evv-api/pkg/clock"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

var now = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

type fixture struct {
	svc       *Service
	store     *memory.Store
	org       uuid.UUID
	caregiver uuid.UUID
	client    uuid.UUID
	admin     model.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), org: uuid.New(), caregiver: uuid.New(), client: uuid.New()}
	f.admin = model.Principal{UserID: uuid.New(), OrganizationID: f.org, Role: model.RoleAdmin}
	f.store.AddCaregiver(model.Caregiver{ID: f.caregiver, OrganizationID: f.org, Name: "Ana"})
	f.store.AddClient(model.Client{ID: f.client, OrganizationID: f.org, Name: "Bo"})
	f.svc = NewService(f.store, validation.NewValidator(f.store, units.Default, metrics.NewNop()), clock.NewManaged(now),
		Config{LateStartThreshold: 15 * time.Minute, ExpiringWindow: 30 * 24 * time.Hour})
	return f
}

func (f *fixture) scheduled(start, end time.Time) model.Visit {
	v := model.Visit{
		Base:           model.Base{ID: uuid.New()},
		OrganizationID: f.org, CaregiverID: f.caregiver, ClientID: f.client,
		ServiceType:    "T1019",
		Status:         model.VisitStatusScheduled,
		ScheduledStart: ptr(start), ScheduledEnd: ptr(end),
	}
	f.store.PutVisit(v)
	return v
}

func TestGetDashboardStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.scheduled(now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	f.scheduled(now.Add(time.Hour), now.Add(2*time.Hour))

	sig := "x"
	f.store.PutVisit(model.Visit{
		Base:           model.Base{ID: uuid.New()},
		OrganizationID: f.org, CaregiverID: f.caregiver, ClientID: f.client,
		Status:          model.VisitStatusVerified,
		StartDateTime:   ptr(now.Add(-48 * time.Hour)),
		EndDateTime:     ptr(now.Add(-47 * time.Hour)),
		ClientSignature: &sig,
	})

	for _, end := range []time.Time{now.AddDate(0, 0, 10), now.AddDate(0, 0, 45)} {
		require.NoError(t, f.store.Authorizations().Create(ctx, &model.Authorization{
			OrganizationID: f.org, ContactID: f.client, ServiceCode: "T1019",
			StartDate: now.AddDate(0, -1, 0), EndDate: end, TotalUnits: 10,
		}))
	}

	stats, err := f.svc.GetDashboardStats(ctx, f.admin, f.org)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MissedVisits)
	assert.Equal(t, 1, stats.ExpiringAuthorizations)
	assert.Equal(t, 1, stats.UnbilledVerified)
	assert.Equal(t, now, stats.AsOf)
}

func TestListExceptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missed := f.scheduled(now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	late := f.scheduled(now.Add(-20*time.Minute), now.Add(time.Hour))
	f.scheduled(now.Add(-10*time.Minute), now.Add(time.Hour)) // within threshold
	unsigned := model.Visit{
		Base:           model.Base{ID: uuid.New()},
		OrganizationID: f.org, CaregiverID: f.caregiver, ClientID: f.client,
		ServiceType:    "T1019",
		Status:         model.VisitStatusCompleted,
		StartDateTime:  ptr(now.Add(-30 * time.Hour)),
		EndDateTime:    ptr(now.Add(-29 * time.Hour)),
	}
	f.store.PutVisit(unsigned)

	list, err := f.svc.ListExceptions(ctx, f.admin, f.org)
	require.NoError(t, err)
	require.Len(t, list, 3)

	byVisit := map[uuid.UUID]model.VisitException{}
	for _, e := range list {
		byVisit[e.VisitID] = e
		assert.Equal(t, "Ana", e.CaregiverName)
		assert.Equal(t, "Bo", e.ClientName)
	}
	assert.Equal(t, model.ExceptionMissed, byVisit[missed.ID].Kind)
	assert.Equal(t, model.ExceptionLateStart, byVisit[late.ID].Kind)

	billing := byVisit[unsigned.ID]
	assert.Equal(t, model.ExceptionBilling, billing.Kind)
	var rules []model.RuleID
	for _, fd := range billing.Findings {
		rules = append(rules, fd.RuleID)
	}
	assert.Equal(t, []model.RuleID{model.RuleMissingSignature, model.RuleNoAuthorization}, rules)
}

func TestDashboardAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetDashboardStats(ctx, f.admin, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorizedForOrg)

	caregiver := model.Principal{UserID: f.caregiver, OrganizationID: f.org, Role: model.RoleCaregiver}
	_, err = f.svc.ListExceptions(ctx, caregiver, f.org)
	assert.ErrorIs(t, err, apperrors.ErrForbiddenRole)
}
