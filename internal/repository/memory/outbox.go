package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
)

type directoryRepo struct {
	s *Store
}

func (r *directoryRepo) GetCaregivers(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Caregiver, error) {
	unlock := r.s.lock()
	defer unlock()

	out := make(map[uuid.UUID]*model.Caregiver, len(ids))
	for _, id := range ids {
		if c, ok := r.s.caregivers[id]; ok {
			out[id] = &c
		}
	}
	return out, nil
}

func (r *directoryRepo) GetClients(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Client, error) {
	unlock := r.s.lock()
	defer unlock()

	out := make(map[uuid.UUID]*model.Client, len(ids))
	for _, id := range ids {
		if c, ok := r.s.clients[id]; ok {
			out[id] = &c
		}
	}
	return out, nil
}

type outboxRepo struct {
	s *Store
}

func (r *outboxRepo) Create(_ context.Context, e *model.OutboxEvent) error {
	if e == nil || e.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	unlock := r.s.lock()
	defer unlock()

	e.ID = uuid.New()
	e.Status = model.OutboxStatusPending
	now := r.s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	r.s.outbox = append(r.s.outbox, *e)
	return nil
}

func (r *outboxRepo) GetPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	unlock := r.s.lock()
	defer unlock()

	now := r.s.now()
	var out []*model.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	unlock := r.s.lock()
	defer unlock()

	for i := range r.s.outbox {
		e := &r.s.outbox[i]
		if e.ID != id {
			continue
		}
		now := r.s.now()
		e.Status = status
		e.ErrorMessage = errMsg
		e.RetryAt = retryAt
		e.UpdatedAt = now
		if status == model.OutboxStatusRetry {
			e.RetryCount++
		}
		if status == model.OutboxStatusProcessed {
			e.ProcessedAt = &now
		}
		return nil
	}
	return fmt.Errorf("outbox event %s not found", id)
}

func (r *outboxRepo) DeleteProcessedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	unlock := r.s.lock()
	defer unlock()

	kept := r.s.outbox[:0]
	var n int64
	for _, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.outbox = kept
	return n, nil
}
