package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/evv-api/pkg/logger"
)

// EventCleaner deletes delivered outbox events past retention.
type EventCleaner interface {
	CleanupProcessedEvents(ctx context.Context, now time.Time) (int64, error)
}

type EventCleanupWorker struct {
	events          EventCleaner
	cleanupInterval time.Duration
	log             *logger.Logger
	now             func() time.Time
}

func NewEventCleanupWorker(events EventCleaner, cleanupInterval time.Duration, log *logger.Logger) *EventCleanupWorker {
	return &EventCleanupWorker{
		events:          events,
		cleanupInterval: cleanupInterval,
		log:             log.WithFields(map[string]interface{}{"worker": "event_cleanup"}),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (w *EventCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass. Failures are logged and the next
// tick tries again.
func (w *EventCleanupWorker) RunOnce(ctx context.Context) int64 {
	n, err := w.events.CleanupProcessedEvents(ctx, w.now())
	if err != nil {
		w.log.Error(err, "Failed to clean up processed events")
		return 0
	}
	return n
}
