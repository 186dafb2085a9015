package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

const visitColumns = `
	id, organization_id, caregiver_id, client_id, service_type, status,
	scheduled_start, scheduled_end, start_time, end_time,
	start_lat, start_lng, end_lat, end_lng,
	client_signature, notes, claim_id, external_transaction_id,
	created_at, updated_at`

type visitRepository struct {
	s *Store
}

func (r *visitRepository) Create(ctx context.Context, visit *model.Visit) error {
	if err := visit.Validate(); err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	if visit.ID == uuid.Nil {
		visit.ID = uuid.New()
	}
	visit.CreatedAt = time.Now().UTC()
	visit.UpdatedAt = visit.CreatedAt

	query := `
		INSERT INTO visits (` + visitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := r.s.exec(ctx, "visit_create", query,
		visit.ID,
		visit.OrganizationID,
		visit.CaregiverID,
		visit.ClientID,
		visit.ServiceType,
		visit.Status,
		visit.ScheduledStart,
		visit.ScheduledEnd,
		visit.StartDateTime,
		visit.EndDateTime,
		visit.StartLat,
		visit.StartLng,
		visit.EndLat,
		visit.EndLng,
		visit.ClientSignature,
		visit.Notes,
		visit.ClaimID,
		visit.ExternalTransactionID,
		visit.CreatedAt,
		visit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create visit: %w", translate(err))
	}
	return nil
}

func (r *visitRepository) Get(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits WHERE id = $1`

	var visit model.Visit
	if err := r.s.get(ctx, "visit_get", &visit, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrVisitNotFound
		}
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return &visit, nil
}

// Update is a compare-and-swap on status: the row changes only if it is
// still in from.
func (r *visitRepository) Update(ctx context.Context, visit *model.Visit, from model.VisitStatus) error {
	if err := visit.Validate(); err != nil {
		return fmt.Errorf("failed to update visit: %w", err)
	}
	visit.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE visits
		SET status = $1, start_time = $2, end_time = $3,
			start_lat = $4, start_lng = $5, end_lat = $6, end_lng = $7,
			client_signature = $8, notes = $9, external_transaction_id = $10,
			service_type = $11, updated_at = $12
		WHERE id = $13 AND status = $14
	`
	n, err := r.s.exec(ctx, "visit_update", query,
		visit.Status,
		visit.StartDateTime,
		visit.EndDateTime,
		visit.StartLat,
		visit.StartLng,
		visit.EndLat,
		visit.EndLng,
		visit.ClientSignature,
		visit.Notes,
		visit.ExternalTransactionID,
		visit.ServiceType,
		visit.UpdatedAt,
		visit.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update visit: %w", translate(err))
	}
	if n == 0 {
		if _, err := r.Get(ctx, visit.ID); err != nil {
			return err
		}
		return apperrors.ErrInvalidTransition
	}
	return nil
}

func (r *visitRepository) FindInProgress(ctx context.Context, caregiverID uuid.UUID) (*model.Visit, error) {
	query := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE caregiver_id = $1 AND status = 'IN_PROGRESS'
		LIMIT 1
	`
	var visit model.Visit
	if err := r.s.get(ctx, "visit_find_in_progress", &visit, query, caregiverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find in-progress visit: %w", err)
	}
	return &visit, nil
}

func (r *visitRepository) FindScheduled(ctx context.Context, orgID, caregiverID, clientID uuid.UUID, from, to time.Time) ([]*model.Visit, error) {
	query := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE organization_id = $1 AND caregiver_id = $2 AND client_id = $3
			AND status = 'SCHEDULED'
			AND scheduled_start BETWEEN $4 AND $5
		ORDER BY scheduled_start
	`
	var visits []*model.Visit
	if err := r.s.selectAll(ctx, "visit_find_scheduled", &visits, query, orgID, caregiverID, clientID, from, to); err != nil {
		return nil, fmt.Errorf("failed to find scheduled visits: %w", err)
	}
	return visits, nil
}

// ListOverlapCandidates prefilters by actor, status and a coarse window.
// The caller applies the exact interval test.
func (r *visitRepository) ListOverlapCandidates(ctx context.Context, q repository.OverlapQuery) ([]*model.Visit, error) {
	var actorColumn string
	switch q.Actor {
	case repository.ActorCaregiver:
		actorColumn = "caregiver_id"
	case repository.ActorClient:
		actorColumn = "client_id"
	default:
		return nil, fmt.Errorf("unknown overlap actor %q", q.Actor)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM visits
		WHERE organization_id = $1 AND %s = $2
			AND status = ANY($3)
			AND ($4::uuid IS NULL OR id <> $4)
			AND ($5::timestamptz IS NULL OR COALESCE(start_time, scheduled_start) < $5)
			AND (
				status = 'IN_PROGRESS'
				OR COALESCE(end_time, scheduled_end) IS NULL
				OR COALESCE(end_time, scheduled_end) > $6
			)
		ORDER BY created_at, id
	`, visitColumns, actorColumn)

	var visits []*model.Visit
	err := r.s.selectAll(ctx, "visit_overlap_candidates", &visits, query,
		q.OrganizationID, q.ActorID, statusStrings(q.Statuses), q.ExcludeVisitID, q.To, q.From)
	if err != nil {
		return nil, fmt.Errorf("failed to list overlap candidates: %w", err)
	}
	return visits, nil
}

func (r *visitRepository) ListUnbilledVerified(ctx context.Context, orgID uuid.UUID) ([]*model.Visit, error) {
	query := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE organization_id = $1 AND status = 'VERIFIED' AND claim_id IS NULL
		ORDER BY created_at, id
	`
	var visits []*model.Visit
	if err := r.s.selectAll(ctx, "visit_list_unbilled", &visits, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to list unbilled visits: %w", err)
	}
	return visits, nil
}

func (r *visitRepository) ListByStatus(ctx context.Context, orgID uuid.UUID, statuses []model.VisitStatus) ([]*model.Visit, error) {
	query := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE organization_id = $1 AND status = ANY($2)
		ORDER BY created_at, id
	`
	var visits []*model.Visit
	if err := r.s.selectAll(ctx, "visit_list_by_status", &visits, query, orgID, statusStrings(statuses)); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return visits, nil
}

func (r *visitRepository) ListPendingSync(ctx context.Context, endedBefore time.Time, limit int) ([]*model.Visit, error) {
	query := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE status = 'COMPLETED' AND end_time < $1
		ORDER BY end_time, id
		LIMIT $2
	`
	var visits []*model.Visit
	if err := r.s.selectAll(ctx, "visit_list_pending_sync", &visits, query, endedBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list visits pending sync: %w", err)
	}
	return visits, nil
}

func (r *visitRepository) LinkClaim(ctx context.Context, visitID, claimID uuid.UUID) (bool, error) {
	query := `
		UPDATE visits
		SET claim_id = $2, updated_at = $3
		WHERE id = $1 AND claim_id IS NULL
	`
	n, err := r.s.exec(ctx, "visit_link_claim", query, visitID, claimID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to link claim: %w", err)
	}
	return n == 1, nil
}

func (r *visitRepository) CountMissed(ctx context.Context, orgID uuid.UUID, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM visits
		WHERE organization_id = $1 AND status = 'SCHEDULED' AND scheduled_end < $2
	`
	var n int
	if err := r.s.get(ctx, "visit_count_missed", &n, query, orgID, now); err != nil {
		return 0, fmt.Errorf("failed to count missed visits: %w", err)
	}
	return n, nil
}

func (r *visitRepository) CountUnbilledVerified(ctx context.Context, orgID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM visits
		WHERE organization_id = $1 AND status = 'VERIFIED' AND claim_id IS NULL
	`
	var n int
	if err := r.s.get(ctx, "visit_count_unbilled", &n, query, orgID); err != nil {
		return 0, fmt.Errorf("failed to count unbilled visits: %w", err)
	}
	return n, nil
}
