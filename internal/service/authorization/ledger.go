// Package authorization answers whether a visit fits a client's payer
// authorization and consumes units when a claim is billed.
package authorization

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

// AuthExceededError carries the budget that a proposal did not fit.
type AuthExceededError struct {
	AuthorizationID uuid.UUID
	Total           int
	Used            int
	Proposed        int
}

func (e *AuthExceededError) Error() string {
	return fmt.Sprintf("authorization units exceeded: %d used + %d proposed > %d total", e.Used, e.Proposed, e.Total)
}

func (e *AuthExceededError) Unwrap() error {
	return apperrors.ErrAuthExceeded
}

type Ledger struct {
	auths repository.AuthorizationRepository
}

func NewLedger(auths repository.AuthorizationRepository) *Ledger {
	return &Ledger{auths: auths}
}

// Lookup returns the active authorization covering visitStart, or
// ErrNoAuthorization.
func (l *Ledger) Lookup(ctx context.Context, orgID, clientID uuid.UUID, serviceCode string, visitStart time.Time) (*model.Authorization, error) {
	auth, err := l.auths.FindActive(ctx, orgID, clientID, serviceCode, visitStart)
	if err != nil {
		return nil, fmt.Errorf("failed to find authorization: %w", err)
	}
	if auth == nil {
		return nil, apperrors.ErrNoAuthorization
	}
	return auth, nil
}

// CheckBudget is read-only. It returns ErrNoAuthorization, an
// *AuthExceededError, or nil when the proposed units fit.
func (l *Ledger) CheckBudget(ctx context.Context, orgID, clientID uuid.UUID, serviceCode string, visitStart time.Time, proposedUnits int) (*model.Authorization, error) {
	auth, err := l.Lookup(ctx, orgID, clientID, serviceCode, visitStart)
	if err != nil {
		return nil, err
	}
	if auth.UsedUnits+proposedUnits > auth.TotalUnits {
		return auth, &AuthExceededError{
			AuthorizationID: auth.ID,
			Total:           auth.TotalUnits,
			Used:            auth.UsedUnits,
			Proposed:        proposedUnits,
		}
	}
	return auth, nil
}

// Consume atomically adds units to the authorization. It fails with
// ErrAuthExceeded when the row no longer has room.
func (l *Ledger) Consume(ctx context.Context, authorizationID uuid.UUID, units int) error {
	if units < 0 {
		return apperrors.NewBadRequest("units must not be negative", nil)
	}
	if units == 0 {
		return nil
	}
	ok, err := l.auths.ConsumeUnits(ctx, authorizationID, units)
	if err != nil {
		return fmt.Errorf("failed to consume authorization units: %w", err)
	}
	if !ok {
		return fmt.Errorf("authorization %s: %w", authorizationID, apperrors.ErrAuthExceeded)
	}
	return nil
}
