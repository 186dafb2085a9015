package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository/memory"
	"github.com/jwalitptl/evv-api/pkg/logger"
	"github.com/jwalitptl/evv-api/pkg/messaging"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

type fakeBroker struct {
	mu       sync.Mutex
	failures int
	sent     [][]byte
	channels []string
}

func (b *fakeBroker) Publish(_ context.Context, channel string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.sent = append(b.sent, message)
	b.channels = append(b.channels, channel)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func newProcessor(t *testing.T, store *memory.Store, broker messaging.Broker, m *metrics.Metrics) *OutboxProcessor {
	t.Helper()
	p, err := NewOutboxProcessor(store.Outbox(), broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		Channel:       "test.events",
	}, logger.Nop(), m)
	require.NoError(t, err)
	return p
}

func seedEvent(t *testing.T, store *memory.Store, eventType string) *model.OutboxEvent {
	t.Helper()
	e := &model.OutboxEvent{EventType: eventType, Payload: json.RawMessage(`{"visit_id":"v-1"}`)}
	require.NoError(t, store.Outbox().Create(context.Background(), e))
	return e
}

func TestProcessBatchPublishesEnvelope(t *testing.T) {
	store := memory.NewStore()
	broker := &fakeBroker{}
	m := metrics.NewNop()
	e := seedEvent(t, store, model.EventVisitCompleted)

	n, err := newProcessor(t, store, broker, m).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, broker.sent, 1)
	assert.Equal(t, "test.events", broker.channels[0])
	var env messaging.Envelope
	require.NoError(t, json.Unmarshal(broker.sent[0], &env))
	assert.Equal(t, e.ID.String(), env.ID)
	assert.Equal(t, model.EventVisitCompleted, env.Type)
	assert.JSONEq(t, `{"visit_id":"v-1"}`, string(env.Payload))

	events := store.OutboxEvents()
	assert.Equal(t, model.OutboxStatusProcessed, events[0].Status)
	assert.NotNil(t, events[0].ProcessedAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsProcessed))
}

func TestProcessBatchRetriesWithinAttempts(t *testing.T) {
	store := memory.NewStore()
	broker := &fakeBroker{failures: 1}
	m := metrics.NewNop()
	seedEvent(t, store, model.EventVisitStarted)

	n, err := newProcessor(t, store, broker, m).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxRetries.WithLabelValues(model.EventVisitStarted)))
}

func TestProcessBatchSchedulesRedelivery(t *testing.T) {
	store := memory.NewStore()
	broker := &fakeBroker{failures: 5}
	m := metrics.NewNop()
	seedEvent(t, store, model.EventVisitStarted)

	n, err := newProcessor(t, store, broker, m).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	events := store.OutboxEvents()
	assert.Equal(t, model.OutboxStatusRetry, events[0].Status)
	require.NotNil(t, events[0].RetryAt)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Contains(t, *events[0].ErrorMessage, "broker unavailable")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsFailed))
}

func TestNewOutboxProcessorValidatesConfig(t *testing.T) {
	_, err := NewOutboxProcessor(memory.NewStore().Outbox(), &fakeBroker{}, OutboxProcessorConfig{}, logger.Nop(), metrics.NewNop())
	assert.Error(t, err)
}

func TestStartStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	broker := &fakeBroker{}
	seedEvent(t, store, model.EventClaimCreated)
	p := newProcessor(t, store, broker, metrics.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return store.OutboxEvents()[0].Status == model.OutboxStatusProcessed
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
