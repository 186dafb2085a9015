package claim

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/handler"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/pkg/httputil"
)

type Service interface {
	CreateClaimsFromVisits(ctx context.Context, p model.Principal, orgID uuid.UUID) (*model.ClaimRun, error)
	GenerateBatch(ctx context.Context, p model.Principal, orgID uuid.UUID) (int64, error)
	ListClaims(ctx context.Context, p model.Principal, orgID uuid.UUID, status *model.ClaimStatus) ([]*model.Claim, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects r to be scoped under /organizations/:orgId.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	claims := r.Group("/claims")
	{
		claims.GET("", h.ListClaims)
		claims.POST("/generate", h.GenerateClaims)
		claims.POST("/submit", h.SubmitClaims)
	}
}

func (h *Handler) GenerateClaims(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	orgID, ok := handler.ParseID(c, "orgId")
	if !ok {
		return
	}

	run, err := h.service.CreateClaimsFromVisits(c.Request.Context(), p, orgID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, run)
}

func (h *Handler) SubmitClaims(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	orgID, ok := handler.ParseID(c, "orgId")
	if !ok {
		return
	}

	n, err := h.service.GenerateBatch(c.Request.Context(), p, orgID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"submitted": n})
}

func (h *Handler) ListClaims(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	orgID, ok := handler.ParseID(c, "orgId")
	if !ok {
		return
	}

	var status *model.ClaimStatus
	if raw := c.Query("status"); raw != "" {
		s := model.ClaimStatus(strings.ToUpper(raw))
		if s != model.ClaimStatusDraft && s != model.ClaimStatusSubmitted {
			httputil.RespondWithMessage(c, http.StatusBadRequest, "invalid claim status")
			return
		}
		status = &s
	}

	claims, err := h.service.ListClaims(c.Request.Context(), p, orgID, status)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if claims == nil {
		claims = []*model.Claim{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, claims)
}
