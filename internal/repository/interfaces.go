package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
)

type ActorKind string

const (
	ActorCaregiver ActorKind = "caregiver"
	ActorClient    ActorKind = "client"
)

// OverlapQuery selects visits of one actor that may intersect [From, To).
// A nil To means the candidate interval is open ended.
type OverlapQuery struct {
	OrganizationID uuid.UUID
	Actor          ActorKind
	ActorID        uuid.UUID
	From           time.Time
	To             *time.Time
	Statuses       []model.VisitStatus
	ExcludeVisitID *uuid.UUID
	// At closes in-progress visits for forward-looking checks. When nil
	// their end stays open.
	At *time.Time
}

type (
	VisitRepository interface {
		Create(ctx context.Context, visit *model.Visit) error
		Get(ctx context.Context, id uuid.UUID) (*model.Visit, error)
		// Update writes visit only if its stored status is still from.
		Update(ctx context.Context, visit *model.Visit, from model.VisitStatus) error
		FindInProgress(ctx context.Context, caregiverID uuid.UUID) (*model.Visit, error)
		FindScheduled(ctx context.Context, orgID, caregiverID, clientID uuid.UUID, from, to time.Time) ([]*model.Visit, error)
		ListOverlapCandidates(ctx context.Context, q OverlapQuery) ([]*model.Visit, error)
		ListUnbilledVerified(ctx context.Context, orgID uuid.UUID) ([]*model.Visit, error)
		ListByStatus(ctx context.Context, orgID uuid.UUID, statuses []model.VisitStatus) ([]*model.Visit, error)
		ListPendingSync(ctx context.Context, endedBefore time.Time, limit int) ([]*model.Visit, error)
		// LinkClaim sets claim_id only when it is still NULL.
		LinkClaim(ctx context.Context, visitID, claimID uuid.UUID) (bool, error)
		CountMissed(ctx context.Context, orgID uuid.UUID, now time.Time) (int, error)
		CountUnbilledVerified(ctx context.Context, orgID uuid.UUID) (int, error)
	}

	AuthorizationRepository interface {
		Create(ctx context.Context, auth *model.Authorization) error
		Get(ctx context.Context, id uuid.UUID) (*model.Authorization, error)
		FindActive(ctx context.Context, orgID, clientID uuid.UUID, serviceCode string, on time.Time) (*model.Authorization, error)
		// ConsumeUnits adds units only if the result stays within the total.
		ConsumeUnits(ctx context.Context, id uuid.UUID, units int) (bool, error)
		CountExpiring(ctx context.Context, orgID uuid.UUID, from, to time.Time) (int, error)
	}

	ClaimRepository interface {
		Create(ctx context.Context, claim *model.Claim) error
		SubmitDrafts(ctx context.Context, orgID uuid.UUID, at time.Time) (int64, error)
		List(ctx context.Context, orgID uuid.UUID, status *model.ClaimStatus) ([]*model.Claim, error)
	}

	// DirectoryRepository loads participants by id set in one round trip.
	DirectoryRepository interface {
		GetCaregivers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Caregiver, error)
		GetClients(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Client, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	// Store groups the repositories over one database. Repositories obtained
	// from the Store passed to a WithTx callback share that transaction.
	Store interface {
		Visits() VisitRepository
		Authorizations() AuthorizationRepository
		Claims() ClaimRepository
		Directory() DirectoryRepository
		Outbox() OutboxRepository
		WithTx(ctx context.Context, fn func(Store) error) error
		Ping(ctx context.Context) error
	}
)

// UniqueIDs drops duplicates while keeping first-seen order.
func UniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
