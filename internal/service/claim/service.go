package claim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/evv-api/internal/identity"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/service/authorization"
	"github.com/jwalitptl/evv-api/internal/service/event"
	"github.com/jwalitptl/evv-api/internal/service/units"
	"github.com/jwalitptl/evv-api/internal/service/validation"
	"github.com/jwalitptl/evv-api/pkg/clock"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
	"github.com/jwalitptl/evv-api/pkg/logger"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

// Reasons a verified visit is passed over.
const (
	SkipValidationErrors = "validation_errors"
	SkipAuthExceeded     = "auth_exceeded"
	SkipAlreadyBilled    = "already_billed"
	SkipNoInterval       = "no_interval"
)

var errAlreadyBilled = errors.New("visit already linked to a claim")

type Config struct {
	UnitRate decimal.Decimal
	// BlockOnErrors skips visits with ERROR findings.
	BlockOnErrors bool
}

type Service struct {
	store     repository.Store
	validator *validation.Validator
	events    *event.EventService
	rule      units.Rule
	clock     clock.Clock
	cfg       Config
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(
	store repository.Store,
	validator *validation.Validator,
	events *event.EventService,
	rule units.Rule,
	clk clock.Clock,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		store:     store,
		validator: validator,
		events:    events,
		rule:      rule,
		clock:     clk,
		cfg:       cfg,
		log:       log,
		metrics:   m,
	}
}

var billers = []model.Role{model.RoleAdmin, model.RoleBiller, model.RoleSystem}

func authorize(p model.Principal, orgID uuid.UUID) error {
	if err := identity.RequireRole(p, billers...); err != nil {
		return err
	}
	return identity.Require(p, orgID)
}

// ClaimCreatedEvent is the claim.created payload.
type ClaimCreatedEvent struct {
	ClaimID        uuid.UUID       `json:"claim_id"`
	ClaimNumber    string          `json:"claim_number"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	VisitID        uuid.UUID       `json:"visit_id"`
	Units          int             `json:"units"`
	TotalBilled    decimal.Decimal `json:"total_billed"`
}

// CreateClaimsFromVisits creates one DRAFT claim per unbilled VERIFIED visit.
// Each visit is billed in its own transaction; a rerun picks up only visits
// still without a claim.
func (s *Service) CreateClaimsFromVisits(ctx context.Context, p model.Principal, orgID uuid.UUID) (*model.ClaimRun, error) {
	if err := authorize(p, orgID); err != nil {
		return nil, err
	}

	visits, err := s.store.Visits().ListUnbilledVerified(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified visits: %w", err)
	}

	clientIDs := make([]uuid.UUID, 0, len(visits))
	for _, v := range visits {
		clientIDs = append(clientIDs, v.ClientID)
	}
	clients, err := s.store.Directory().GetClients(ctx, repository.UniqueIDs(clientIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}

	run := &model.ClaimRun{Claims: []*model.Claim{}, Skipped: []model.SkippedVisit{}}
	skip := func(v *model.Visit, reason, detail string) {
		s.metrics.ClaimsSkipped.WithLabelValues(reason).Inc()
		run.Skipped = append(run.Skipped, model.SkippedVisit{VisitID: v.ID, Reason: detail})
		s.log.Info("visit skipped for billing", "visit_id", v.ID, "reason", reason)
	}

	for _, v := range visits {
		if s.cfg.BlockOnErrors {
			findings, err := s.validator.Validate(ctx, v)
			if err != nil {
				return run, fmt.Errorf("failed to validate visit %s: %w", v.ID, err)
			}
			if model.HasErrors(findings) {
				skip(v, SkipValidationErrors, describe(findings))
				continue
			}
		}

		c, err := s.bill(ctx, p, v, clients[v.ClientID])
		switch {
		case err == nil:
			run.Claims = append(run.Claims, c)
			run.Created++
			s.metrics.ClaimsCreated.Inc()
		case errors.Is(err, apperrors.ErrAuthExceeded):
			skip(v, SkipAuthExceeded, err.Error())
		case errors.Is(err, errAlreadyBilled):
			skip(v, SkipAlreadyBilled, err.Error())
		case errors.Is(err, apperrors.ErrInvalidInterval):
			skip(v, SkipNoInterval, err.Error())
		default:
			return run, fmt.Errorf("failed to bill visit %s: %w", v.ID, err)
		}
	}

	s.log.Info("claims created", "organization_id", orgID, "created", run.Created, "skipped", len(run.Skipped))
	return run, nil
}

func (s *Service) bill(ctx context.Context, p model.Principal, v *model.Visit, client *model.Client) (*model.Claim, error) {
	start, end, ok := v.Interval()
	if !ok || end == nil {
		return nil, apperrors.ErrInvalidInterval
	}
	n, err := s.rule.UnitsFor(start, *end)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := &model.Claim{
		ClaimNumber:      claimNumber(now),
		OrganizationID:   v.OrganizationID,
		ContactID:        v.ClientID,
		VisitID:          v.ID,
		Units:            n,
		TotalBilled:      s.cfg.UnitRate.Mul(decimal.NewFromInt(int64(n))).Round(2),
		ServiceDateStart: model.DateOf(start),
		ServiceDateEnd:   model.DateOf(*end),
		Status:           model.ClaimStatusDraft,
	}
	if client != nil {
		c.PayerName = client.PayerName
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		ledger := authorization.NewLedger(tx.Authorizations())
		auth, err := ledger.Lookup(ctx, v.OrganizationID, v.ClientID, v.ServiceType, start)
		switch {
		case err == nil:
			if err := ledger.Consume(ctx, auth.ID, n); err != nil {
				return err
			}
			c.AuthorizationID = &auth.ID
		case errors.Is(err, apperrors.ErrNoAuthorization):
			// only reachable when findings do not block billing
		default:
			return err
		}

		if err := tx.Claims().Create(ctx, c); err != nil {
			return fmt.Errorf("failed to create claim: %w", err)
		}
		linked, err := tx.Visits().LinkClaim(ctx, v.ID, c.ID)
		if err != nil {
			return fmt.Errorf("failed to link claim: %w", err)
		}
		if !linked {
			return errAlreadyBilled
		}
		return s.events.In(tx).Emit(ctx, model.EventClaimCreated, ClaimCreatedEvent{
			ClaimID:        c.ID,
			ClaimNumber:    c.ClaimNumber,
			OrganizationID: c.OrganizationID,
			VisitID:        c.VisitID,
			Units:          c.Units,
			TotalBilled:    c.TotalBilled,
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GenerateBatch moves every DRAFT claim of the organization to SUBMITTED.
func (s *Service) GenerateBatch(ctx context.Context, p model.Principal, orgID uuid.UUID) (int64, error) {
	if err := authorize(p, orgID); err != nil {
		return 0, err
	}

	now := s.clock.Now()
	var n int64
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		n, err = tx.Claims().SubmitDrafts(ctx, orgID, now)
		if err != nil {
			return fmt.Errorf("failed to submit draft claims: %w", err)
		}
		if n == 0 {
			return nil
		}
		return s.events.In(tx).Emit(ctx, model.EventClaimsBatched, map[string]interface{}{
			"organization_id": orgID,
			"submitted":       n,
			"submitted_at":    now,
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.ClaimsSubmitted.Add(float64(n))
	s.log.Info("claim batch submitted", "organization_id", orgID, "count", n)
	return n, nil
}

func (s *Service) ListClaims(ctx context.Context, p model.Principal, orgID uuid.UUID, status *model.ClaimStatus) ([]*model.Claim, error) {
	if err := authorize(p, orgID); err != nil {
		return nil, err
	}
	claims, err := s.store.Claims().List(ctx, orgID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return claims, nil
}

func claimNumber(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("CLM-%s-%s", at.Format("20060102"), strings.ToUpper(suffix))
}

func describe(findings []model.BillingFinding) string {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Severity == model.SeverityError {
			ids = append(ids, string(f.RuleID))
		}
	}
	return "billing errors: " + strings.Join(ids, ", ")
}
