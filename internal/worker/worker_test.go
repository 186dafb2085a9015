package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/evv-api/pkg/logger"
)

type fakeSyncer struct {
	olderThan time.Duration
	limit     int
	synced    int
	failed    int
	err       error
}

func (f *fakeSyncer) RetryPending(_ context.Context, olderThan time.Duration, limit int) (int, int, error) {
	f.olderThan = olderThan
	f.limit = limit
	return f.synced, f.failed, f.err
}

func TestSyncRetryWorkerRunOnce(t *testing.T) {
	syncer := &fakeSyncer{synced: 3, failed: 1}
	w := NewSyncRetryWorker(syncer, SyncRetryConfig{PollInterval: time.Minute, MinAge: 5 * time.Minute}, logger.Nop())

	assert.Equal(t, 3, w.RunOnce(context.Background()))
	assert.Equal(t, 5*time.Minute, syncer.olderThan)
	assert.Equal(t, 50, syncer.limit, "default batch size")

	syncer.err = errors.New("store down")
	syncer.synced = 1
	assert.Equal(t, 1, w.RunOnce(context.Background()))
}

type fakeCleaner struct {
	at  time.Time
	n   int64
	err error
}

func (f *fakeCleaner) CleanupProcessedEvents(_ context.Context, now time.Time) (int64, error) {
	f.at = now
	return f.n, f.err
}

func TestEventCleanupWorkerRunOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cleaner := &fakeCleaner{n: 7}
	w := NewEventCleanupWorker(cleaner, time.Hour, logger.Nop())
	w.now = func() time.Time { return now }

	assert.Equal(t, int64(7), w.RunOnce(context.Background()))
	assert.Equal(t, now, cleaner.at)

	cleaner.err = errors.New("boom")
	assert.Zero(t, w.RunOnce(context.Background()))
}

func TestSyncRetryWorkerStopsOnCancel(t *testing.T) {
	w := NewSyncRetryWorker(&fakeSyncer{}, SyncRetryConfig{PollInterval: time.Millisecond}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
