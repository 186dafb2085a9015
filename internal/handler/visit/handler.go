package visit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/handler"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/pkg/httputil"
)

// Service is the visit lifecycle as the HTTP layer sees it.
type Service interface {
	Schedule(ctx context.Context, p model.Principal, req model.ScheduleVisitRequest) (*model.Visit, error)
	Start(ctx context.Context, p model.Principal, req model.StartVisitRequest) (*model.Visit, error)
	End(ctx context.Context, p model.Principal, req model.EndVisitRequest) (*model.Visit, error)
	ManualSync(ctx context.Context, p model.Principal, visitID uuid.UUID) (*model.Visit, error)
	Verify(ctx context.Context, p model.Principal, visitID uuid.UUID) (*model.Visit, error)
	Validate(ctx context.Context, p model.Principal, visitID uuid.UUID) ([]model.BillingFinding, error)
	Get(ctx context.Context, p model.Principal, visitID uuid.UUID) (*model.Visit, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	visits := r.Group("/visits")
	{
		visits.POST("", h.ScheduleVisit)
		visits.POST("/start", h.StartVisit)
		visits.GET("/:id", h.GetVisit)
		visits.POST("/:id/end", h.EndVisit)
		visits.POST("/:id/sync", h.SyncVisit)
		visits.POST("/:id/verify", h.VerifyVisit)
		visits.GET("/:id/findings", h.GetFindings)
	}
}

func (h *Handler) ScheduleVisit(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.ScheduleVisitRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	visit, err := h.service.Schedule(c.Request.Context(), p, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, visit)
}

func (h *Handler) StartVisit(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.StartVisitRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	visit, err := h.service.Start(c.Request.Context(), p, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, visit)
}

func (h *Handler) GetVisit(c *gin.Context) {
	h.byID(c, h.service.Get)
}

// EndVisit returns 200 with the visit even when the aggregator push failed;
// the status field tells the caller whether the visit was submitted.
func (h *Handler) EndVisit(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.EndVisitRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	req.VisitID = id

	visit, err := h.service.End(c.Request.Context(), p, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, visit)
}

func (h *Handler) SyncVisit(c *gin.Context) {
	h.byID(c, h.service.ManualSync)
}

func (h *Handler) VerifyVisit(c *gin.Context) {
	h.byID(c, h.service.Verify)
}

func (h *Handler) GetFindings(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	findings, err := h.service.Validate(c.Request.Context(), p, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{
		"visit_id":   id,
		"findings":   findings,
		"has_errors": model.HasErrors(findings),
	})
}

func (h *Handler) byID(c *gin.Context, op func(context.Context, model.Principal, uuid.UUID) (*model.Visit, error)) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	visit, err := op(c.Request.Context(), p, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, visit)
}
