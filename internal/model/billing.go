package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AuthorizationStatus string

const (
	AuthorizationStatusActive    AuthorizationStatus = "ACTIVE"
	AuthorizationStatusExpired   AuthorizationStatus = "EXPIRED"
	AuthorizationStatusExhausted AuthorizationStatus = "EXHAUSTED"
)

// Authorization is a payer-approved unit budget for one client and service code.
// StartDate and EndDate are inclusive calendar days.
type Authorization struct {
	Base
	OrganizationID uuid.UUID           `db:"organization_id" json:"organization_id"`
	ContactID      uuid.UUID           `db:"contact_id" json:"contact_id"`
	ServiceCode    string              `db:"service_code" json:"service_code"`
	StartDate      time.Time           `db:"start_date" json:"start_date"`
	EndDate        time.Time           `db:"end_date" json:"end_date"`
	TotalUnits     int                 `db:"total_units" json:"total_units"`
	UsedUnits      int                 `db:"used_units" json:"used_units"`
	Status         AuthorizationStatus `db:"status" json:"status"`
}

// Covers reports whether t falls on a day inside the authorization range.
func (a *Authorization) Covers(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(DateOf(a.StartDate)) && !d.After(DateOf(a.EndDate))
}

func (a *Authorization) Remaining() int {
	return a.TotalUnits - a.UsedUnits
}

type ClaimStatus string

const (
	ClaimStatusDraft     ClaimStatus = "DRAFT"
	ClaimStatusSubmitted ClaimStatus = "SUBMITTED"
)

type Claim struct {
	Base
	ClaimNumber      string          `db:"claim_number" json:"claim_number"`
	OrganizationID   uuid.UUID       `db:"organization_id" json:"organization_id"`
	ContactID        uuid.UUID       `db:"contact_id" json:"contact_id"`
	VisitID          uuid.UUID       `db:"visit_id" json:"visit_id"`
	AuthorizationID  *uuid.UUID      `db:"authorization_id" json:"authorization_id,omitempty"`
	Units            int             `db:"units" json:"units"`
	TotalBilled      decimal.Decimal `db:"total_billed" json:"total_billed"`
	ServiceDateStart time.Time       `db:"service_date_start" json:"service_date_start"`
	ServiceDateEnd   time.Time       `db:"service_date_end" json:"service_date_end"`
	Status           ClaimStatus     `db:"status" json:"status"`
	PayerName        string          `db:"payer_name" json:"payer_name"`
	SubmittedAt      *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
}

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

type RuleID string

const (
	RuleMissingSignature RuleID = "MISSING_SIGNATURE"
	RuleOverlapCaregiver RuleID = "OVERLAPPING_SHIFT_CAREGIVER"
	RuleOverlapClient    RuleID = "OVERLAPPING_SHIFT_CLIENT"
	RuleNoAuthorization  RuleID = "NO_AUTHORIZATION"
	RuleAuthExceeded     RuleID = "AUTH_EXCEEDED"
	RuleInvalidInterval  RuleID = "INVALID_INTERVAL"
)

// BillingFinding is one validator result. It is never persisted.
type BillingFinding struct {
	VisitID  uuid.UUID `json:"visit_id"`
	RuleID   RuleID    `json:"rule_id"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// HasErrors reports whether any finding is ERROR severity.
func HasErrors(findings []BillingFinding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// SkippedVisit explains why claim generation passed over a visit.
type SkippedVisit struct {
	VisitID uuid.UUID `json:"visit_id"`
	Reason  string    `json:"reason"`
}

type ClaimRun struct {
	Created int            `json:"created"`
	Claims  []*Claim       `json:"claims"`
	Skipped []SkippedVisit `json:"skipped"`
}
