package evvsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository/memory"
	"github.com/jwalitptl/evv-api/internal/service/units"
	"github.com/jwalitptl/evv-api/pkg/aggregator"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

type fakeSubmitter struct {
	err  error
	got  []aggregator.VisitPayload
	txID string
}

func (f *fakeSubmitter) SubmitVisit(_ context.Context, p aggregator.VisitPayload) (*aggregator.Receipt, error) {
	f.got = append(f.got, p)
	if f.err != nil {
		return nil, f.err
	}
	return &aggregator.Receipt{TransactionID: f.txID}, nil
}

func seed(t *testing.T) (*memory.Store, *model.Visit) {
	t.Helper()
	store := memory.NewStore()
	cg := model.Caregiver{ID: uuid.New(), ProviderID: "STAFF-7"}
	cl := model.Client{ID: uuid.New(), PayerID: "MCD-42"}
	store.AddCaregiver(cg)
	store.AddClient(cl)

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	lat, lng := 40.7, -74.0
	return store, &model.Visit{
		Base:          model.Base{ID: uuid.New()},
		CaregiverID:   cg.ID,
		ClientID:      cl.ID,
		ServiceType:   "T1019",
		Status:        model.VisitStatusCompleted,
		StartDateTime: &start,
		EndDateTime:   &end,
		StartLat:      &lat,
		StartLng:      &lng,
	}
}

func TestPushBuildsPayload(t *testing.T) {
	store, v := seed(t)
	sub := &fakeSubmitter{txID: "TX-1"}
	a := NewAdapter(sub, units.Default, metrics.NewNop())

	txID, err := a.Push(context.Background(), store.Directory(), v)
	require.NoError(t, err)
	assert.Equal(t, "TX-1", txID)

	require.Len(t, sub.got, 1)
	p := sub.got[0]
	assert.Equal(t, "STAFF-7", p.StaffID)
	assert.Equal(t, "MCD-42", p.PatientID)
	assert.Equal(t, 2, p.Units)
	assert.Equal(t, v.ID.String(), p.VisitID)
	assert.Equal(t, *v.StartDateTime, p.VisitStart.Timestamp)
	assert.Equal(t, 40.7, *p.VisitStart.Lat)
	assert.Nil(t, p.VisitEnd.Lat)
}

func TestPushWrapsTransportFailure(t *testing.T) {
	store, v := seed(t)
	sub := &fakeSubmitter{err: aggregator.ErrTimeout}
	a := NewAdapter(sub, units.Default, metrics.NewNop())

	_, err := a.Push(context.Background(), store.Directory(), v)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSync)
	assert.ErrorIs(t, err, aggregator.ErrTimeout)

	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, v.ID, syncErr.VisitID)
}

func TestPushUnknownParticipant(t *testing.T) {
	store, v := seed(t)
	v.ClientID = uuid.New()
	sub := &fakeSubmitter{txID: "TX-1"}

	_, err := NewAdapter(sub, units.Default, metrics.NewNop()).Push(context.Background(), store.Directory(), v)
	assert.ErrorIs(t, err, apperrors.ErrSync)
	assert.ErrorIs(t, err, apperrors.ErrParticipantNotFound)
	assert.Empty(t, sub.got)
}

func TestPushRequiresEndedVisit(t *testing.T) {
	store, v := seed(t)
	v.EndDateTime = nil
	v.Status = model.VisitStatusInProgress

	_, err := NewAdapter(&fakeSubmitter{}, units.Default, metrics.NewNop()).Push(context.Background(), store.Directory(), v)
	assert.ErrorIs(t, err, apperrors.ErrSync)
}
