package model

import (
	"time"

	"github.com/google/uuid"
)

type Caregiver struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	Name           string    `db:"name" json:"name"`
	ProviderID     string    `db:"provider_id" json:"provider_id"`
}

type Client struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	Name           string    `db:"name" json:"name"`
	PayerID        string    `db:"payer_id" json:"payer_id"`
	PayerName      string    `db:"payer_name" json:"payer_name"`
}

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
	RoleBiller      Role = "biller"
	RoleCaregiver   Role = "caregiver"
	RoleSystem      Role = "system"
)

// Principal is the acting identity for one engine call.
type Principal struct {
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           Role      `json:"role"`
}

type DashboardStats struct {
	OrganizationID         uuid.UUID `json:"organization_id"`
	MissedVisits           int       `json:"missed_visits"`
	ExpiringAuthorizations int       `json:"expiring_authorizations"`
	UnbilledVerified       int       `json:"unbilled_verified"`
	AsOf                   time.Time `json:"as_of"`
}

type ExceptionKind string

const (
	ExceptionLateStart ExceptionKind = "LATE_START"
	ExceptionMissed    ExceptionKind = "MISSED"
	ExceptionBilling   ExceptionKind = "BILLING"
)

type VisitException struct {
	Kind           ExceptionKind    `json:"kind"`
	VisitID        uuid.UUID        `json:"visit_id"`
	Status         VisitStatus      `json:"status"`
	CaregiverID    uuid.UUID        `json:"caregiver_id"`
	CaregiverName  string           `json:"caregiver_name"`
	ClientID       uuid.UUID        `json:"client_id"`
	ClientName     string           `json:"client_name"`
	ScheduledStart *time.Time       `json:"scheduled_start,omitempty"`
	Findings       []BillingFinding `json:"findings,omitempty"`
}
