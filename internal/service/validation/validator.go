// Package validation runs the billing rules against a single visit.
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/service/authorization"
	"github.com/jwalitptl/evv-api/internal/service/overlap"
	"github.com/jwalitptl/evv-api/internal/service/units"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

type rule func(ctx context.Context, v *model.Visit) ([]model.BillingFinding, error)

type Validator struct {
	store   repository.Store
	rule    units.Rule
	metrics *metrics.Metrics
}

func NewValidator(store repository.Store, rule units.Rule, m *metrics.Metrics) *Validator {
	return &Validator{store: store, rule: rule, metrics: m}
}

// WithStore returns a validator reading through s, typically a transaction.
func (val *Validator) WithStore(s repository.Store) *Validator {
	return &Validator{store: s, rule: val.rule, metrics: val.metrics}
}

// Validate evaluates every rule in order and returns all findings. A clean
// visit yields an empty, non-nil slice. Errors are reserved for store failures.
func (val *Validator) Validate(ctx context.Context, v *model.Visit) ([]model.BillingFinding, error) {
	rules := []rule{
		val.checkSignature,
		val.checkOverlap(repository.ActorCaregiver, model.RuleOverlapCaregiver),
		val.checkOverlap(repository.ActorClient, model.RuleOverlapClient),
		val.checkAuthorization,
	}

	findings := make([]model.BillingFinding, 0)
	for _, r := range rules {
		out, err := r(ctx, v)
		if err != nil {
			return nil, err
		}
		findings = append(findings, out...)
	}

	for _, f := range findings {
		val.metrics.ValidationFindings.WithLabelValues(string(f.RuleID)).Inc()
	}
	return findings, nil
}

func finding(v *model.Visit, id model.RuleID, msg string) model.BillingFinding {
	return model.BillingFinding{VisitID: v.ID, RuleID: id, Message: msg, Severity: model.SeverityError}
}

func (val *Validator) checkSignature(_ context.Context, v *model.Visit) ([]model.BillingFinding, error) {
	if v.Status != model.VisitStatusCompleted && v.Status != model.VisitStatusVerified {
		return nil, nil
	}
	if v.HasSignature() {
		return nil, nil
	}
	return []model.BillingFinding{finding(v, model.RuleMissingSignature, "client signature is missing")}, nil
}

func (val *Validator) checkOverlap(actor repository.ActorKind, id model.RuleID) rule {
	return func(ctx context.Context, v *model.Visit) ([]model.BillingFinding, error) {
		start, end, ok := v.Interval()
		if !ok {
			return nil, nil
		}
		actorID := v.CaregiverID
		if actor == repository.ActorClient {
			actorID = v.ClientID
		}

		conflicts, err := overlap.NewGuard(val.store.Visits()).Conflicts(ctx, repository.OverlapQuery{
			OrganizationID: v.OrganizationID,
			Actor:          actor,
			ActorID:        actorID,
			From:           start,
			To:             end,
			Statuses:       model.ActiveVisitStatuses,
			ExcludeVisitID: &v.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("%s check: %w", id, err)
		}
		if len(conflicts) == 0 {
			return nil, nil
		}
		return []model.BillingFinding{finding(v, id,
			fmt.Sprintf("%s overlaps visit %s", actor, conflicts[0].ID))}, nil
	}
}

// checkAuthorization skips billed visits (their units were consumed when the
// claim was created) and visits without a closed interval.
func (val *Validator) checkAuthorization(ctx context.Context, v *model.Visit) ([]model.BillingFinding, error) {
	if v.ClaimID != nil {
		return nil, nil
	}
	start, end, ok := v.Interval()
	if !ok || end == nil {
		return nil, nil
	}

	proposed, err := val.rule.UnitsFor(start, *end)
	if err != nil {
		return []model.BillingFinding{finding(v, model.RuleInvalidInterval, "visit ends before it starts")}, nil
	}

	_, err = authorization.NewLedger(val.store.Authorizations()).
		CheckBudget(ctx, v.OrganizationID, v.ClientID, v.ServiceType, start, proposed)

	var exceeded *authorization.AuthExceededError
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, apperrors.ErrNoAuthorization):
		return []model.BillingFinding{finding(v, model.RuleNoAuthorization,
			fmt.Sprintf("no active authorization for service %s on %s", v.ServiceType, start.Format("2006-01-02")))}, nil
	case errors.As(err, &exceeded):
		return []model.BillingFinding{finding(v, model.RuleAuthExceeded,
			fmt.Sprintf("visit needs %d units but only %d of %d remain", exceeded.Proposed, exceeded.Total-exceeded.Used, exceeded.Total))}, nil
	default:
		return nil, fmt.Errorf("authorization check: %w", err)
	}
}
