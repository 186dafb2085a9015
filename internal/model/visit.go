package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type VisitStatus string

const (
	VisitStatusScheduled  VisitStatus = "SCHEDULED"
	VisitStatusInProgress VisitStatus = "IN_PROGRESS"
	VisitStatusCompleted  VisitStatus = "COMPLETED"
	VisitStatusVerified   VisitStatus = "VERIFIED"
	VisitStatusSubmitted  VisitStatus = "SUBMITTED"
)

// ActiveVisitStatuses count as occupying time for overlap detection.
var ActiveVisitStatuses = []VisitStatus{
	VisitStatusInProgress,
	VisitStatusCompleted,
	VisitStatusVerified,
	VisitStatusSubmitted,
}

// BookedVisitStatuses adds not-yet-started visits; used when scheduling.
var BookedVisitStatuses = append([]VisitStatus{VisitStatusScheduled}, ActiveVisitStatuses...)

var visitTransitions = map[VisitStatus][]VisitStatus{
	VisitStatusScheduled:  {VisitStatusInProgress},
	VisitStatusInProgress: {VisitStatusCompleted},
	VisitStatusCompleted:  {VisitStatusSubmitted, VisitStatusVerified},
	VisitStatusSubmitted:  {VisitStatusVerified},
}

// CanTransition reports whether a visit may move from one status to another.
func CanTransition(from, to VisitStatus) bool {
	for _, s := range visitTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ended reports whether the status implies a recorded end time.
func (s VisitStatus) Ended() bool {
	switch s {
	case VisitStatusCompleted, VisitStatusVerified, VisitStatusSubmitted:
		return true
	}
	return false
}

func (s VisitStatus) Valid() bool {
	switch s {
	case VisitStatusScheduled, VisitStatusInProgress, VisitStatusCompleted,
		VisitStatusVerified, VisitStatusSubmitted:
		return true
	}
	return false
}

type Visit struct {
	Base
	OrganizationID        uuid.UUID   `db:"organization_id" json:"organization_id"`
	CaregiverID           uuid.UUID   `db:"caregiver_id" json:"caregiver_id"`
	ClientID              uuid.UUID   `db:"client_id" json:"client_id"`
	ServiceType           string      `db:"service_type" json:"service_type"`
	Status                VisitStatus `db:"status" json:"status"`
	ScheduledStart        *time.Time  `db:"scheduled_start" json:"scheduled_start,omitempty"`
	ScheduledEnd          *time.Time  `db:"scheduled_end" json:"scheduled_end,omitempty"`
	StartDateTime         *time.Time  `db:"start_time" json:"start_time,omitempty"`
	EndDateTime           *time.Time  `db:"end_time" json:"end_time,omitempty"`
	StartLat              *float64    `db:"start_lat" json:"start_lat,omitempty"`
	StartLng              *float64    `db:"start_lng" json:"start_lng,omitempty"`
	EndLat                *float64    `db:"end_lat" json:"end_lat,omitempty"`
	EndLng                *float64    `db:"end_lng" json:"end_lng,omitempty"`
	ClientSignature       *string     `db:"client_signature" json:"client_signature,omitempty"`
	Notes                 *string     `db:"notes" json:"notes,omitempty"`
	ClaimID               *uuid.UUID  `db:"claim_id" json:"claim_id,omitempty"`
	ExternalTransactionID *string     `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
}

// HasSignature is false for nil and whitespace-only signatures.
func (v *Visit) HasSignature() bool {
	return v.ClientSignature != nil && strings.TrimSpace(*v.ClientSignature) != ""
}

// Interval returns the visit's effective time span. Actual times win over
// scheduled ones. A nil end means the interval is open (visit in progress).
// ok is false when the visit has no usable start.
func (v *Visit) Interval() (start time.Time, end *time.Time, ok bool) {
	switch {
	case v.StartDateTime != nil:
		start = *v.StartDateTime
	case v.ScheduledStart != nil:
		start = *v.ScheduledStart
	default:
		return time.Time{}, nil, false
	}

	switch {
	case v.EndDateTime != nil:
		end = v.EndDateTime
	case v.Status == VisitStatusInProgress:
		end = nil
	case v.ScheduledEnd != nil:
		end = v.ScheduledEnd
	default:
		return time.Time{}, nil, false
	}
	return start, end, true
}

// IntervalAt is Interval with an open end closed at now, or at the
// scheduled end when that is later.
func (v *Visit) IntervalAt(now time.Time) (start time.Time, end *time.Time, ok bool) {
	start, end, ok = v.Interval()
	if !ok || end != nil {
		return start, end, ok
	}
	capped := now
	if v.ScheduledEnd != nil && v.ScheduledEnd.After(capped) {
		capped = *v.ScheduledEnd
	}
	if capped.Before(start) {
		capped = start
	}
	return start, &capped, true
}

// Validate checks the end-time/status invariant.
func (v *Visit) Validate() error {
	if !v.Status.Valid() {
		return fmt.Errorf("unknown visit status %q", v.Status)
	}
	if v.Status.Ended() != (v.EndDateTime != nil) {
		return fmt.Errorf("visit %s: end time must be set exactly when status is completed, verified or submitted", v.ID)
	}
	if v.StartDateTime != nil && v.EndDateTime != nil && v.EndDateTime.Before(*v.StartDateTime) {
		return fmt.Errorf("visit %s: end time before start time", v.ID)
	}
	return nil
}

type ScheduleVisitRequest struct {
	ClientID    uuid.UUID `json:"client_id" binding:"required"`
	CaregiverID uuid.UUID `json:"caregiver_id" binding:"required"`
	Start       time.Time `json:"start" binding:"required"`
	End         time.Time `json:"end" binding:"required"`
	ServiceType string    `json:"service_type" binding:"required,servicecode"`
}

type StartVisitRequest struct {
	CaregiverID uuid.UUID  `json:"caregiver_id" binding:"required"`
	ClientID    uuid.UUID  `json:"client_id" binding:"required"`
	VisitID     *uuid.UUID `json:"visit_id"`
	ServiceType string     `json:"service_type" binding:"omitempty,servicecode"`
	Location    Location   `json:"location"`
}

type EndVisitRequest struct {
	VisitID   uuid.UUID `json:"-"`
	Location  Location  `json:"location"`
	Notes     string    `json:"notes" binding:"max=4000"`
	Signature string    `json:"signature"`
}
