package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/evv-api/internal/identity"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/pkg/auth"
	"github.com/jwalitptl/evv-api/pkg/httputil"
)

const ContextPrincipal = "principal"

// AuthMiddleware resolves bearer tokens to a principal. Verified tokens are
// cached until the earlier of their expiry and the cache TTL.
type AuthMiddleware struct {
	tokens auth.JWTService
	cache  *cache.Cache
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthMiddleware(tokens auth.JWTService, ttl time.Duration) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		cache:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Authenticate verifies the JWT and stores the principal in the request context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithMessage(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.RespondWithMessage(c, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		p, ok := m.resolve(parts[1])
		if !ok {
			httputil.RespondWithMessage(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(ContextPrincipal, p)
		c.Request = c.Request.WithContext(identity.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func (m *AuthMiddleware) resolve(token string) (model.Principal, bool) {
	if cached, found := m.cache.Get(token); found {
		return cached.(model.Principal), true
	}

	session, err := m.tokens.ValidateToken(token)
	if err != nil {
		return model.Principal{}, false
	}
	if identity.Check(session.Principal) != nil {
		return model.Principal{}, false
	}

	ttl := session.ExpiresAt.Sub(m.now())
	if ttl > m.ttl {
		ttl = m.ttl
	}
	if ttl > 0 {
		m.cache.Set(token, session.Principal, ttl)
	}
	return session.Principal, true
}

// RequireRole rejects principals outside roles before the handler runs.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := identity.FromContext(c.Request.Context())
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		if err := identity.RequireRole(p, roles...); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		c.Next()
	}
}
