package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

type JWTService interface {
	GenerateAccessToken(p model.Principal, ttl time.Duration) (string, error)
	ValidateToken(token string) (*Session, error)
}

// Session is a verified token: who is acting and until when.
type Session struct {
	Principal model.Principal
	ExpiresAt time.Time
}

// TokenClaims carries the principal. The subject is the user id.
type TokenClaims struct {
	jwt.RegisteredClaims
	OrganizationID uuid.UUID  `json:"organization_id"`
	Role           model.Role `json:"role"`
}

type jwtService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTService signs and verifies HS256 tokens.
func NewJWTService(secret, issuer string) JWTService {
	return &jwtService{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (s *jwtService) GenerateAccessToken(p model.Principal, ttl time.Duration) (string, error) {
	now := s.now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrganizationID: p.OrganizationID,
		Role:           p.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *jwtService) ValidateToken(token string) (*Session, error) {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return &Session{
		Principal: model.Principal{
			UserID:         userID,
			OrganizationID: claims.OrganizationID,
			Role:           claims.Role,
		},
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
