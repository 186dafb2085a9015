package visit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/identity"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/service/event"
	"github.com/jwalitptl/evv-api/internal/service/evvsync"
	"github.com/jwalitptl/evv-api/internal/service/overlap"
	"github.com/jwalitptl/evv-api/internal/service/validation"
	"github.com/jwalitptl/evv-api/pkg/clock"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
	"github.com/jwalitptl/evv-api/pkg/logger"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

// Sync triggers, used as metric labels.
const (
	TriggerEnd       = "end"
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

type Config struct {
	// StartGrace is how far from a scheduled start a clock-in still
	// attaches to that scheduled visit.
	StartGrace time.Duration
}

type Service struct {
	store     repository.Store
	validator *validation.Validator
	sync      *evvsync.Adapter
	events    *event.EventService
	clock     clock.Clock
	cfg       Config
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(
	store repository.Store,
	validator *validation.Validator,
	sync *evvsync.Adapter,
	events *event.EventService,
	clk clock.Clock,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		store:     store,
		validator: validator,
		sync:      sync,
		events:    events,
		clock:     clk,
		cfg:       cfg,
		log:       log,
		metrics:   m,
	}
}

var schedulers = []model.Role{model.RoleAdmin, model.RoleCoordinator, model.RoleSystem}

// Schedule books a visit. The caregiver overlap check and the insert run in
// one transaction.
func (s *Service) Schedule(ctx context.Context, p model.Principal, req model.ScheduleVisitRequest) (*model.Visit, error) {
	if err := identity.RequireRole(p, schedulers...); err != nil {
		return nil, err
	}
	if !req.End.After(req.Start) {
		return nil, apperrors.ErrInvalidInterval
	}

	start, end := req.Start.UTC(), req.End.UTC()
	now := s.clock.Now()
	v := &model.Visit{
		OrganizationID: p.OrganizationID,
		CaregiverID:    req.CaregiverID,
		ClientID:       req.ClientID,
		ServiceType:    req.ServiceType,
		Status:         model.VisitStatusScheduled,
		ScheduledStart: &start,
		ScheduledEnd:   &end,
	}

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := checkParticipants(ctx, tx, p.OrganizationID, req.CaregiverID, req.ClientID); err != nil {
			return err
		}

		busy, err := overlap.NewGuard(tx.Visits()).HasOverlap(ctx, repository.OverlapQuery{
			OrganizationID: p.OrganizationID,
			Actor:          repository.ActorCaregiver,
			ActorID:        req.CaregiverID,
			From:           start,
			To:             &end,
			Statuses:       model.BookedVisitStatuses,
			At:             &now,
		})
		if err != nil {
			return err
		}
		if busy {
			return apperrors.ErrScheduleConflict
		}

		if err := tx.Visits().Create(ctx, v); err != nil {
			return fmt.Errorf("failed to create visit: %w", err)
		}
		return s.events.In(tx).Emit(ctx, model.EventVisitScheduled, event.NewVisitEvent(v, p, now))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VisitTransitions.WithLabelValues(string(v.Status)).Inc()
	s.log.Info("visit scheduled", "visit_id", v.ID, "caregiver_id", v.CaregiverID, "scheduled_start", start)
	return v, nil
}

// Start clocks a caregiver in. It uses the given scheduled visit, else the
// caregiver's scheduled visit with this client nearest to now, else opens a
// walk-in visit.
func (s *Service) Start(ctx context.Context, p model.Principal, req model.StartVisitRequest) (*model.Visit, error) {
	if err := identity.Check(p); err != nil {
		return nil, err
	}
	if err := ownsVisit(p, req.CaregiverID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var v *model.Visit
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := checkParticipants(ctx, tx, p.OrganizationID, req.CaregiverID, req.ClientID); err != nil {
			return err
		}

		current, err := tx.Visits().FindInProgress(ctx, req.CaregiverID)
		if err != nil {
			return fmt.Errorf("failed to check in-progress visit: %w", err)
		}
		if current != nil {
			return apperrors.ErrAlreadyOnVisit
		}

		v, err = s.findScheduled(ctx, tx, p, req, now)
		if err != nil {
			return err
		}

		v.Status = model.VisitStatusInProgress
		v.StartDateTime = &now
		lat, lng := req.Location.Lat, req.Location.Lng
		v.StartLat, v.StartLng = &lat, &lng

		if v.ID == uuid.Nil {
			if req.ServiceType == "" {
				return apperrors.NewBadRequest("service_type is required for a visit that was not scheduled", nil)
			}
			v.ServiceType = req.ServiceType
			err = tx.Visits().Create(ctx, v)
		} else {
			err = tx.Visits().Update(ctx, v, model.VisitStatusScheduled)
		}
		if err != nil {
			return fmt.Errorf("failed to start visit: %w", err)
		}
		return s.events.In(tx).Emit(ctx, model.EventVisitStarted, event.NewVisitEvent(v, p, now))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VisitTransitions.WithLabelValues(string(v.Status)).Inc()
	s.log.Info("visit started", "visit_id", v.ID, "caregiver_id", v.CaregiverID)
	return v, nil
}

func (s *Service) findScheduled(ctx context.Context, tx repository.Store, p model.Principal, req model.StartVisitRequest, now time.Time) (*model.Visit, error) {
	if req.VisitID != nil {
		v, err := tx.Visits().Get(ctx, *req.VisitID)
		if err != nil {
			return nil, err
		}
		if err := identity.Require(p, v.OrganizationID); err != nil {
			return nil, err
		}
		if v.CaregiverID != req.CaregiverID || v.ClientID != req.ClientID {
			return nil, apperrors.NewBadRequest("visit belongs to a different caregiver or client", nil)
		}
		if v.Status != model.VisitStatusScheduled {
			return nil, apperrors.ErrInvalidTransition
		}
		return v, nil
	}

	candidates, err := tx.Visits().FindScheduled(ctx, p.OrganizationID, req.CaregiverID, req.ClientID,
		now.Add(-s.cfg.StartGrace), now.Add(s.cfg.StartGrace))
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled visit: %w", err)
	}

	var best *model.Visit
	for _, c := range candidates {
		if best == nil || absDuration(c.ScheduledStart.Sub(now)) < absDuration(best.ScheduledStart.Sub(now)) {
			best = c
		}
	}
	if best != nil {
		return best, nil
	}

	return &model.Visit{
		OrganizationID: p.OrganizationID,
		CaregiverID:    req.CaregiverID,
		ClientID:       req.ClientID,
	}, nil
}

// End clocks out and pushes the visit to the aggregator. A failed push
// leaves the visit COMPLETED and is not reported to the caller.
func (s *Service) End(ctx context.Context, p model.Principal, req model.EndVisitRequest) (*model.Visit, error) {
	if err := identity.Check(p); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var v *model.Visit
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		v, err = s.load(ctx, tx, p, req.VisitID)
		if err != nil {
			return err
		}
		if err := ownsVisit(p, v.CaregiverID); err != nil {
			return err
		}
		if v.Status != model.VisitStatusInProgress {
			return apperrors.ErrInvalidTransition
		}
		if v.StartDateTime != nil && now.Before(*v.StartDateTime) {
			return apperrors.ErrInvalidInterval
		}

		v.Status = model.VisitStatusCompleted
		v.EndDateTime = &now
		lat, lng := req.Location.Lat, req.Location.Lng
		v.EndLat, v.EndLng = &lat, &lng
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			v.Notes = &notes
		}
		if sig := strings.TrimSpace(req.Signature); sig != "" {
			v.ClientSignature = &sig
		}

		if err := tx.Visits().Update(ctx, v, model.VisitStatusInProgress); err != nil {
			return fmt.Errorf("failed to end visit: %w", err)
		}
		return s.events.In(tx).Emit(ctx, model.EventVisitCompleted, event.NewVisitEvent(v, p, now))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.VisitTransitions.WithLabelValues(string(v.Status)).Inc()

	synced, err := s.push(ctx, p, v, TriggerEnd)
	if err != nil {
		s.log.Warn("visit completed but aggregator sync failed; will retry", "visit_id", v.ID, "error", err.Error())
		return v, nil
	}
	return synced, nil
}

// ManualSync re-pushes an ended visit. Unlike End, sync failures are
// returned. Visits that are already SUBMITTED are pushed again.
func (s *Service) ManualSync(ctx context.Context, p model.Principal, visitID uuid.UUID) (*model.Visit, error) {
	if err := identity.RequireRole(p, schedulers...); err != nil {
		return nil, err
	}
	v, err := s.load(ctx, s.store, p, visitID)
	if err != nil {
		return nil, err
	}
	if !v.Status.Ended() {
		return nil, apperrors.ErrInvalidTransition
	}

	trigger := TriggerManual
	if p.Role == model.RoleSystem {
		trigger = TriggerScheduled
	}
	return s.push(ctx, p, v, trigger)
}

// RetryPending re-pushes COMPLETED visits that ended before olderThan.
// Each visit is pushed as the system principal of its own organization.
func (s *Service) RetryPending(ctx context.Context, olderThan time.Duration, limit int) (synced, failed int, err error) {
	visits, err := s.store.Visits().ListPendingSync(ctx, s.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list visits pending sync: %w", err)
	}
	for _, v := range visits {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if _, err := s.ManualSync(ctx, identity.System(v.OrganizationID), v.ID); err != nil {
			failed++
			s.log.Warn("scheduled aggregator sync failed", "visit_id", v.ID, "error", err.Error())
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// push sends v to the aggregator and records the receipt. COMPLETED visits
// advance to SUBMITTED; later statuses only get the new transaction id.
func (s *Service) push(ctx context.Context, p model.Principal, v *model.Visit, trigger string) (*model.Visit, error) {
	if v.Status == model.VisitStatusSubmitted {
		s.metrics.Resubmissions.Inc()
		s.log.Warn("re-pushing a visit that is already submitted", "visit_id", v.ID, "transaction_id", deref(v.ExternalTransactionID))
	}

	txID, err := s.sync.Push(ctx, s.store.Directory(), v)
	if err != nil {
		s.metrics.SyncAttempts.WithLabelValues(trigger, "failure").Inc()
		return nil, err
	}

	var out *model.Visit
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		cur, err := tx.Visits().Get(ctx, v.ID)
		if err != nil {
			return err
		}
		from := cur.Status
		cur.ExternalTransactionID = &txID
		if cur.Status == model.VisitStatusCompleted {
			cur.Status = model.VisitStatusSubmitted
		}
		if err := tx.Visits().Update(ctx, cur, from); err != nil {
			return fmt.Errorf("failed to record sync receipt: %w", err)
		}
		out = cur
		eventType := model.EventVisitResynced
		if from == model.VisitStatusCompleted {
			eventType = model.EventVisitSubmitted
		}
		return s.events.In(tx).Emit(ctx, eventType, event.NewVisitEvent(cur, p, s.clock.Now()))
	})
	if err != nil {
		s.metrics.SyncAttempts.WithLabelValues(trigger, "unrecorded").Inc()
		s.log.Error(err, "aggregator accepted visit but receipt was not saved", "visit_id", v.ID, "transaction_id", txID)
		return nil, err
	}

	s.metrics.SyncAttempts.WithLabelValues(trigger, "success").Inc()
	if v.Status != out.Status {
		s.metrics.VisitTransitions.WithLabelValues(string(out.Status)).Inc()
	}
	s.log.Info("visit synced", "visit_id", out.ID, "transaction_id", txID, "trigger", trigger)
	return out, nil
}

// Verify marks a COMPLETED or SUBMITTED visit VERIFIED, making it billable.
func (s *Service) Verify(ctx context.Context, p model.Principal, visitID uuid.UUID) (*model.Visit, error) {
	if err := identity.RequireRole(p, schedulers...); err != nil {
		return nil, err
	}

	var v *model.Visit
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		v, err = s.load(ctx, tx, p, visitID)
		if err != nil {
			return err
		}
		from := v.Status
		if !model.CanTransition(from, model.VisitStatusVerified) {
			return apperrors.ErrInvalidTransition
		}
		v.Status = model.VisitStatusVerified
		if err := tx.Visits().Update(ctx, v, from); err != nil {
			return fmt.Errorf("failed to verify visit: %w", err)
		}
		return s.events.In(tx).Emit(ctx, model.EventVisitVerified, event.NewVisitEvent(v, p, s.clock.Now()))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VisitTransitions.WithLabelValues(string(v.Status)).Inc()
	return v, nil
}

// Validate returns the billing findings for one visit.
func (s *Service) Validate(ctx context.Context, p model.Principal, visitID uuid.UUID) ([]model.BillingFinding, error) {
	if err := identity.Check(p); err != nil {
		return nil, err
	}
	v, err := s.load(ctx, s.store, p, visitID)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(ctx, v)
}

func (s *Service) Get(ctx context.Context, p model.Principal, visitID uuid.UUID) (*model.Visit, error) {
	if err := identity.Check(p); err != nil {
		return nil, err
	}
	return s.load(ctx, s.store, p, visitID)
}

func (s *Service) load(ctx context.Context, store repository.Store, p model.Principal, visitID uuid.UUID) (*model.Visit, error) {
	v, err := store.Visits().Get(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if err := identity.Require(p, v.OrganizationID); err != nil {
		return nil, err
	}
	return v, nil
}

// checkParticipants loads both participants in one lookup each and makes
// sure they belong to orgID.
func checkParticipants(ctx context.Context, store repository.Store, orgID, caregiverID, clientID uuid.UUID) error {
	caregivers, err := store.Directory().GetCaregivers(ctx, []uuid.UUID{caregiverID})
	if err != nil {
		return fmt.Errorf("failed to load caregiver: %w", err)
	}
	clients, err := store.Directory().GetClients(ctx, []uuid.UUID{clientID})
	if err != nil {
		return fmt.Errorf("failed to load client: %w", err)
	}
	cg, ok := caregivers[caregiverID]
	if !ok || cg.OrganizationID != orgID {
		return fmt.Errorf("caregiver %s: %w", caregiverID, apperrors.ErrParticipantNotFound)
	}
	cl, ok := clients[clientID]
	if !ok || cl.OrganizationID != orgID {
		return fmt.Errorf("client %s: %w", clientID, apperrors.ErrParticipantNotFound)
	}
	return nil
}

// ownsVisit keeps caregivers to their own visits. Other roles pass.
func ownsVisit(p model.Principal, caregiverID uuid.UUID) error {
	if p.Role == model.RoleCaregiver && p.UserID != caregiverID {
		return fmt.Errorf("caregiver %s acting for %s: %w", p.UserID, caregiverID, apperrors.ErrForbiddenRole)
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
