package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

const authorizationColumns = `
	id, organization_id, contact_id, service_code, start_date, end_date,
	total_units, used_units, status, created_at, updated_at`

var errAuthorizationNotFound = apperrors.NewNotFound("authorization", nil)

type authorizationRepository struct {
	s *Store
}

func (r *authorizationRepository) Create(ctx context.Context, auth *model.Authorization) error {
	if auth.ID == uuid.Nil {
		auth.ID = uuid.New()
	}
	if auth.Status == "" {
		auth.Status = model.AuthorizationStatusActive
	}
	auth.CreatedAt = time.Now().UTC()
	auth.UpdatedAt = auth.CreatedAt

	query := `
		INSERT INTO authorizations (` + authorizationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.s.exec(ctx, "authorization_create", query,
		auth.ID,
		auth.OrganizationID,
		auth.ContactID,
		auth.ServiceCode,
		model.DateOf(auth.StartDate),
		model.DateOf(auth.EndDate),
		auth.TotalUnits,
		auth.UsedUnits,
		auth.Status,
		auth.CreatedAt,
		auth.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create authorization: %w", translate(err))
	}
	return nil
}

func (r *authorizationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM authorizations WHERE id = $1`

	var auth model.Authorization
	if err := r.s.get(ctx, "authorization_get", &auth, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errAuthorizationNotFound
		}
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	return &auth, nil
}

// FindActive prefers the authorization that ends soonest.
func (r *authorizationRepository) FindActive(ctx context.Context, orgID, clientID uuid.UUID, serviceCode string, on time.Time) (*model.Authorization, error) {
	query := `
		SELECT ` + authorizationColumns + `
		FROM authorizations
		WHERE organization_id = $1 AND contact_id = $2 AND service_code = $3
			AND status = 'ACTIVE'
			AND start_date <= $4 AND end_date >= $4
		ORDER BY end_date, id
		LIMIT 1
	`
	var auth model.Authorization
	if err := r.s.get(ctx, "authorization_find_active", &auth, query, orgID, clientID, serviceCode, model.DateOf(on)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active authorization: %w", err)
	}
	return &auth, nil
}

// ConsumeUnits is a single conditional UPDATE, so concurrent claims can
// never push used_units past total_units.
func (r *authorizationRepository) ConsumeUnits(ctx context.Context, id uuid.UUID, units int) (bool, error) {
	query := `
		UPDATE authorizations
		SET used_units = used_units + $2,
			status = CASE WHEN used_units + $2 = total_units THEN 'EXHAUSTED' ELSE status END,
			updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE' AND used_units + $2 <= total_units
	`
	n, err := r.s.exec(ctx, "authorization_consume", query, id, units, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization units: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *authorizationRepository) CountExpiring(ctx context.Context, orgID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM authorizations
		WHERE organization_id = $1 AND status = 'ACTIVE'
			AND end_date BETWEEN $2 AND $3
	`
	var n int
	if err := r.s.get(ctx, "authorization_count_expiring", &n, query, orgID, model.DateOf(from), model.DateOf(to)); err != nil {
		return 0, fmt.Errorf("failed to count expiring authorizations: %w", err)
	}
	return n, nil
}

const claimColumns = `
	id, claim_number, organization_id, contact_id, visit_id, authorization_id,
	units, total_billed, service_date_start, service_date_end, status,
	payer_name, submitted_at, created_at, updated_at`

type claimRepository struct {
	s *Store
}

func (r *claimRepository) Create(ctx context.Context, claim *model.Claim) error {
	if claim.ID == uuid.Nil {
		claim.ID = uuid.New()
	}
	claim.CreatedAt = time.Now().UTC()
	claim.UpdatedAt = claim.CreatedAt

	query := `
		INSERT INTO claims (` + claimColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.s.exec(ctx, "claim_create", query,
		claim.ID,
		claim.ClaimNumber,
		claim.OrganizationID,
		claim.ContactID,
		claim.VisitID,
		claim.AuthorizationID,
		claim.Units,
		claim.TotalBilled,
		claim.ServiceDateStart,
		claim.ServiceDateEnd,
		claim.Status,
		claim.PayerName,
		claim.SubmittedAt,
		claim.CreatedAt,
		claim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", translate(err))
	}
	return nil
}

func (r *claimRepository) SubmitDrafts(ctx context.Context, orgID uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE claims
		SET status = 'SUBMITTED', submitted_at = $2, updated_at = $2
		WHERE organization_id = $1 AND status = 'DRAFT'
	`
	n, err := r.s.exec(ctx, "claim_submit_drafts", query, orgID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to submit draft claims: %w", err)
	}
	return n, nil
}

func (r *claimRepository) List(ctx context.Context, orgID uuid.UUID, status *model.ClaimStatus) ([]*model.Claim, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM claims
		WHERE organization_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY claim_number
	`
	var claims []*model.Claim
	if err := r.s.selectAll(ctx, "claim_list", &claims, query, orgID, status); err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return claims, nil
}
