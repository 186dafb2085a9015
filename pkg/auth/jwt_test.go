package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/model"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "evv-api")
	p := model.Principal{UserID: uuid.New(), OrganizationID: uuid.New(), Role: model.RoleBiller}

	token, err := svc.GenerateAccessToken(p, time.Hour)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, p, got.Principal)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.ExpiresAt, 2*time.Second)
}

func TestValidateTokenRejects(t *testing.T) {
	p := model.Principal{UserID: uuid.New(), OrganizationID: uuid.New(), Role: model.RoleAdmin}
	svc := NewJWTService("secret", "evv-api")

	expired, err := svc.GenerateAccessToken(p, -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewJWTService("other", "evv-api").GenerateAccessToken(p, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	otherIssuer, err := NewJWTService("secret", "someone-else").GenerateAccessToken(p, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(otherIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
