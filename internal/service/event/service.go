package event

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/pkg/logger"
)

const eventExpiry = 7 * 24 * time.Hour

// EventService records domain events in the outbox. Publishing happens in
// the outbox worker, never inline.
type EventService struct {
	outboxRepo repository.OutboxRepository
	log        *logger.Logger
}

func NewEventService(outboxRepo repository.OutboxRepository, log *logger.Logger) *EventService {
	return &EventService{
		outboxRepo: outboxRepo,
		log:        log,
	}
}

// In binds the service to the outbox of store, so events commit or roll
// back with the caller's transaction.
func (s *EventService) In(store repository.Store) *EventService {
	return &EventService{outboxRepo: store.Outbox(), log: s.log}
}

func (s *EventService) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payloadJSON,
	}
	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.log.Debug("event recorded", "event_id", event.ID, "event_type", eventType)
	return nil
}

// VisitEvent is the payload of every visit.* event.
type VisitEvent struct {
	VisitID               uuid.UUID         `json:"visit_id"`
	OrganizationID        uuid.UUID         `json:"organization_id"`
	CaregiverID           uuid.UUID         `json:"caregiver_id"`
	ClientID              uuid.UUID         `json:"client_id"`
	Status                model.VisitStatus `json:"status"`
	ActorID               uuid.UUID         `json:"actor_id"`
	ExternalTransactionID *string           `json:"external_transaction_id,omitempty"`
	OccurredAt            time.Time         `json:"occurred_at"`
}

func NewVisitEvent(v *model.Visit, actor model.Principal, at time.Time) VisitEvent {
	return VisitEvent{
		VisitID:               v.ID,
		OrganizationID:        v.OrganizationID,
		CaregiverID:           v.CaregiverID,
		ClientID:              v.ClientID,
		Status:                v.Status,
		ActorID:               actor.UserID,
		ExternalTransactionID: v.ExternalTransactionID,
		OccurredAt:            at,
	}
}

// CleanupProcessedEvents drops processed events older than the retention window.
func (s *EventService) CleanupProcessedEvents(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-eventExpiry)
	count, err := s.outboxRepo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}
	if count > 0 {
		s.log.Info("cleaned up processed events", "deleted_count", count, "cutoff", cutoff)
	}
	return count, nil
}
