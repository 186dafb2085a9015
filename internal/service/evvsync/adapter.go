// Package evvsync pushes completed visits to the state EVV aggregator.
package evvsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/service/units"
	"github.com/jwalitptl/evv-api/pkg/aggregator"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

// Submitter is the aggregator transport.
type Submitter interface {
	SubmitVisit(ctx context.Context, p aggregator.VisitPayload) (*aggregator.Receipt, error)
}

// SyncError wraps every push failure. It matches both ErrSync and the cause.
type SyncError struct {
	VisitID uuid.UUID
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync visit %s: %v", e.VisitID, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{apperrors.ErrSync, e.Err}
}

var errNotSyncable = errors.New("visit has no recorded start and end")

type Adapter struct {
	client  Submitter
	rule    units.Rule
	metrics *metrics.Metrics
}

func NewAdapter(client Submitter, rule units.Rule, m *metrics.Metrics) *Adapter {
	return &Adapter{client: client, rule: rule, metrics: m}
}

// Push sends one visit and returns the aggregator transaction id. Failures
// are never retried here.
func (a *Adapter) Push(ctx context.Context, dir repository.DirectoryRepository, v *model.Visit) (string, error) {
	payloads, err := a.BuildPayloads(ctx, dir, []*model.Visit{v})
	if err != nil {
		return "", &SyncError{VisitID: v.ID, Err: err}
	}

	start := time.Now()
	receipt, err := a.client.SubmitVisit(ctx, payloads[v.ID])
	a.metrics.SyncLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", &SyncError{VisitID: v.ID, Err: err}
	}
	return receipt.TransactionID, nil
}

// BuildPayloads converts visits into aggregator payloads, loading every
// caregiver and client they reference in one lookup each.
func (a *Adapter) BuildPayloads(ctx context.Context, dir repository.DirectoryRepository, visits []*model.Visit) (map[uuid.UUID]aggregator.VisitPayload, error) {
	caregiverIDs := make([]uuid.UUID, 0, len(visits))
	clientIDs := make([]uuid.UUID, 0, len(visits))
	for _, v := range visits {
		caregiverIDs = append(caregiverIDs, v.CaregiverID)
		clientIDs = append(clientIDs, v.ClientID)
	}

	caregivers, err := dir.GetCaregivers(ctx, repository.UniqueIDs(caregiverIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load caregivers: %w", err)
	}
	clients, err := dir.GetClients(ctx, repository.UniqueIDs(clientIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}

	out := make(map[uuid.UUID]aggregator.VisitPayload, len(visits))
	for _, v := range visits {
		if v.StartDateTime == nil || v.EndDateTime == nil {
			return nil, errNotSyncable
		}
		cg, ok := caregivers[v.CaregiverID]
		if !ok {
			return nil, fmt.Errorf("caregiver %s: %w", v.CaregiverID, apperrors.ErrParticipantNotFound)
		}
		cl, ok := clients[v.ClientID]
		if !ok {
			return nil, fmt.Errorf("client %s: %w", v.ClientID, apperrors.ErrParticipantNotFound)
		}
		n, err := a.rule.UnitsFor(*v.StartDateTime, *v.EndDateTime)
		if err != nil {
			return nil, err
		}

		out[v.ID] = aggregator.VisitPayload{
			VisitID:     v.ID.String(),
			StaffID:     cg.ProviderID,
			PatientID:   cl.PayerID,
			ServiceType: v.ServiceType,
			VisitStart:  aggregator.Point{Timestamp: *v.StartDateTime, Lat: v.StartLat, Lng: v.StartLng},
			VisitEnd:    aggregator.Point{Timestamp: *v.EndDateTime, Lat: v.EndLat, Lng: v.EndLng},
			Units:       n,
		}
	}
	return out, nil
}
