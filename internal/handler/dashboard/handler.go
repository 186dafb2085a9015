package dashboard

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/handler"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/pkg/httputil"
)

type Service interface {
	GetDashboardStats(ctx context.Context, p model.Principal, orgID uuid.UUID) (*model.DashboardStats, error)
	ListExceptions(ctx context.Context, p model.Principal, orgID uuid.UUID) ([]model.VisitException, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects r to be scoped under /organizations/:orgId.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.GetStats)
	r.GET("/exceptions", h.ListExceptions)
}

func (h *Handler) GetStats(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	orgID, ok := handler.ParseID(c, "orgId")
	if !ok {
		return
	}

	stats, err := h.service.GetDashboardStats(c.Request.Context(), p, orgID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, stats)
}

func (h *Handler) ListExceptions(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	orgID, ok := handler.ParseID(c, "orgId")
	if !ok {
		return
	}

	exceptions, err := h.service.ListExceptions(c.Request.Context(), p, orgID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if exceptions == nil {
		exceptions = []model.VisitException{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, exceptions)
}
