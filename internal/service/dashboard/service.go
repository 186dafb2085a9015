// Package dashboard reports organization-level visit and billing health.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/identity"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/service/validation"
	"github.com/jwalitptl/evv-api/pkg/clock"
)

type Config struct {
	LateStartThreshold time.Duration
	ExpiringWindow     time.Duration
}

type Service struct {
	store     repository.Store
	validator *validation.Validator
	clock     clock.Clock
	cfg       Config
}

func NewService(store repository.Store, validator *validation.Validator, clk clock.Clock, cfg Config) *Service {
	return &Service{store: store, validator: validator, clock: clk, cfg: cfg}
}

var viewers = []model.Role{model.RoleAdmin, model.RoleCoordinator, model.RoleBiller, model.RoleSystem}

func authorize(p model.Principal, orgID uuid.UUID) error {
	if err := identity.RequireRole(p, viewers...); err != nil {
		return err
	}
	return identity.Require(p, orgID)
}

func (s *Service) GetDashboardStats(ctx context.Context, p model.Principal, orgID uuid.UUID) (*model.DashboardStats, error) {
	if err := authorize(p, orgID); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	missed, err := s.store.Visits().CountMissed(ctx, orgID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count missed visits: %w", err)
	}
	expiring, err := s.store.Authorizations().CountExpiring(ctx, orgID, now, now.Add(s.cfg.ExpiringWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count expiring authorizations: %w", err)
	}
	unbilled, err := s.store.Visits().CountUnbilledVerified(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unbilled visits: %w", err)
	}

	return &model.DashboardStats{
		OrganizationID:         orgID,
		MissedVisits:           missed,
		ExpiringAuthorizations: expiring,
		UnbilledVerified:       unbilled,
		AsOf:                   now,
	}, nil
}

// ListExceptions returns late and missed scheduled visits followed by
// unbilled visits that have billing findings.
func (s *Service) ListExceptions(ctx context.Context, p model.Principal, orgID uuid.UUID) ([]model.VisitException, error) {
	if err := authorize(p, orgID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := []model.VisitException{}

	scheduled, err := s.store.Visits().ListByStatus(ctx, orgID, []model.VisitStatus{model.VisitStatusScheduled})
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled visits: %w", err)
	}
	for _, v := range scheduled {
		switch {
		case v.ScheduledEnd != nil && v.ScheduledEnd.Before(now):
			out = append(out, exception(model.ExceptionMissed, v, nil))
		case v.ScheduledStart != nil && v.ScheduledStart.Add(s.cfg.LateStartThreshold).Before(now):
			out = append(out, exception(model.ExceptionLateStart, v, nil))
		}
	}

	ended, err := s.store.Visits().ListByStatus(ctx, orgID, []model.VisitStatus{model.VisitStatusCompleted, model.VisitStatusVerified})
	if err != nil {
		return nil, fmt.Errorf("failed to list ended visits: %w", err)
	}
	unbilled := ended[:0]
	for _, v := range ended {
		if v.ClaimID == nil {
			unbilled = append(unbilled, v)
		}
	}
	results, err := s.validator.ValidateAll(ctx, orgID, unbilled)
	if err != nil {
		return nil, err
	}
	for _, v := range unbilled {
		if findings := results[v.ID]; len(findings) > 0 {
			out = append(out, exception(model.ExceptionBilling, v, findings))
		}
	}

	if err := s.hydrateNames(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func exception(kind model.ExceptionKind, v *model.Visit, findings []model.BillingFinding) model.VisitException {
	return model.VisitException{
		Kind:           kind,
		VisitID:        v.ID,
		Status:         v.Status,
		CaregiverID:    v.CaregiverID,
		ClientID:       v.ClientID,
		ScheduledStart: v.ScheduledStart,
		Findings:       findings,
	}
}

// hydrateNames fills participant names with one directory lookup per kind.
func (s *Service) hydrateNames(ctx context.Context, list []model.VisitException) error {
	if len(list) == 0 {
		return nil
	}
	caregiverIDs := make([]uuid.UUID, 0, len(list))
	clientIDs := make([]uuid.UUID, 0, len(list))
	for _, e := range list {
		caregiverIDs = append(caregiverIDs, e.CaregiverID)
		clientIDs = append(clientIDs, e.ClientID)
	}

	caregivers, err := s.store.Directory().GetCaregivers(ctx, repository.UniqueIDs(caregiverIDs))
	if err != nil {
		return fmt.Errorf("failed to load caregivers: %w", err)
	}
	clients, err := s.store.Directory().GetClients(ctx, repository.UniqueIDs(clientIDs))
	if err != nil {
		return fmt.Errorf("failed to load clients: %w", err)
	}

	for i := range list {
		if cg, ok := caregivers[list[i].CaregiverID]; ok {
			list[i].CaregiverName = cg.Name
		}
		if cl, ok := clients[list[i].ClientID]; ok {
			list[i].ClientName = cl.Name
		}
	}
	return nil
}
