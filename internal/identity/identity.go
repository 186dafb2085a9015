// Package identity carries the acting principal through a request and
// enforces organization scoping.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal, or
// ErrUnauthenticated.
func FromContext(ctx context.Context) (model.Principal, error) {
	p, ok := ctx.Value(ctxKey{}).(model.Principal)
	if !ok {
		return model.Principal{}, apperrors.ErrUnauthenticated
	}
	if err := Check(p); err != nil {
		return model.Principal{}, err
	}
	return p, nil
}

// Check rejects a principal that cannot be resolved to a user and organization.
func Check(p model.Principal) error {
	if p.UserID == uuid.Nil || p.OrganizationID == uuid.Nil || p.Role == "" {
		return apperrors.ErrUnauthenticated
	}
	return nil
}

// Require fails unless p is resolvable and belongs to orgID.
func Require(p model.Principal, orgID uuid.UUID) error {
	if err := Check(p); err != nil {
		return err
	}
	if p.OrganizationID != orgID {
		return fmt.Errorf("organization %s: %w", orgID, apperrors.ErrNotAuthorizedForOrg)
	}
	return nil
}

// RequireRole fails unless p holds one of roles.
func RequireRole(p model.Principal, roles ...model.Role) error {
	if err := Check(p); err != nil {
		return err
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return fmt.Errorf("role %s: %w", p.Role, apperrors.ErrForbiddenRole)
}

// System is the principal background jobs act as within one organization.
func System(orgID uuid.UUID) model.Principal {
	return model.Principal{UserID: SystemUserID, OrganizationID: orgID, Role: model.RoleSystem}
}

var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-0000000005e5")
