package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/evv-api/pkg/logger"
)

// VisitSyncer re-pushes completed visits the aggregator has not accepted.
type VisitSyncer interface {
	RetryPending(ctx context.Context, olderThan time.Duration, limit int) (synced, failed int, err error)
}

type SyncRetryConfig struct {
	PollInterval time.Duration
	// MinAge leaves fresh visits to the clock-out push.
	MinAge    time.Duration
	BatchSize int
}

// SyncRetryWorker is the scheduled sync trigger: visits whose push failed at
// clock-out are retried until the aggregator accepts them.
type SyncRetryWorker struct {
	visits VisitSyncer
	config SyncRetryConfig
	log    *logger.Logger
}

func NewSyncRetryWorker(visits VisitSyncer, config SyncRetryConfig, log *logger.Logger) *SyncRetryWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &SyncRetryWorker{
		visits: visits,
		config: config,
		log:    log.WithFields(map[string]interface{}{"worker": "sync_retry"}),
	}
}

func (w *SyncRetryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.log.Info("Starting sync retry worker", "interval", w.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Shutting down sync retry worker")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce retries one batch and reports how many visits were synced.
func (w *SyncRetryWorker) RunOnce(ctx context.Context) int {
	synced, failed, err := w.visits.RetryPending(ctx, w.config.MinAge, w.config.BatchSize)
	if err != nil {
		w.log.Error(err, "Sync retry pass aborted", "synced", synced, "failed", failed)
		return synced
	}
	if synced > 0 || failed > 0 {
		w.log.Info("Sync retry pass finished", "synced", synced, "failed", failed)
	}
	return synced
}
