package event

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/repository/memory"
	"github.com/jwalitptl/evv-api/pkg/clock"
	"github.com/jwalitptl/evv-api/pkg/logger"
)

func TestEmitRecordsPendingEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewEventService(store.Outbox(), logger.Nop())

	v := &model.Visit{Base: model.Base{ID: uuid.New()}, OrganizationID: uuid.New(), Status: model.VisitStatusInProgress}
	actor := model.Principal{UserID: uuid.New()}
	require.NoError(t, svc.Emit(ctx, "visit.started", NewVisitEvent(v, actor, time.Now())))

	events := store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "visit.started", events[0].EventType)
	assert.Equal(t, model.OutboxStatusPending, events[0].Status)

	var payload VisitEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, v.ID, payload.VisitID)
	assert.Equal(t, actor.UserID, payload.ActorID)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewEventService(store.Outbox(), logger.Nop())

	err := store.WithTx(ctx, func(tx repository.Store) error {
		require.NoError(t, svc.In(tx).Emit(ctx, "claim.created", map[string]string{"claim": "CLM-1"}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, store.OutboxEvents())
}

func TestCleanupProcessedEvents(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManaged(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	store.SetNow(clk.Now)
	svc := NewEventService(store.Outbox(), logger.Nop())

	require.NoError(t, svc.Emit(ctx, "visit.verified", map[string]int{"n": 1}))
	require.NoError(t, svc.Emit(ctx, "visit.verified", map[string]int{"n": 2}))
	events := store.OutboxEvents()
	require.NoError(t, store.Outbox().UpdateStatus(ctx, events[0].ID, model.OutboxStatusProcessed, nil, nil))

	n, err := svc.CleanupProcessedEvents(ctx, clk.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.CleanupProcessedEvents(ctx, clk.Now().Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left := store.OutboxEvents()
	require.Len(t, left, 1)
	assert.Equal(t, model.OutboxStatusPending, left[0].Status)
}
