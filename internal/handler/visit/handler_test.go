package visit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/evv-api/internal/identity"
	"github.com/jwalitptl/evv-api/internal/middleware"
	"github.com/jwalitptl/evv-api/internal/model"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

type fakeService struct {
	ended    model.EndVisitRequest
	findings []model.BillingFinding
	err      error
}

func (f *fakeService) Schedule(_ context.Context, _ model.Principal, req model.ScheduleVisitRequest) (*model.Visit, error) {
	return &model.Visit{Base: model.Base{ID: uuid.New()}, ClientID: req.ClientID, Status: model.VisitStatusScheduled}, f.err
}

func (f *fakeService) Start(context.Context, model.Principal, model.StartVisitRequest) (*model.Visit, error) {
	return &model.Visit{Base: model.Base{ID: uuid.New()}, Status: model.VisitStatusInProgress}, f.err
}

func (f *fakeService) End(_ context.Context, _ model.Principal, req model.EndVisitRequest) (*model.Visit, error) {
	f.ended = req
	return &model.Visit{Base: model.Base{ID: req.VisitID}, Status: model.VisitStatusSubmitted}, f.err
}

func (f *fakeService) ManualSync(_ context.Context, _ model.Principal, id uuid.UUID) (*model.Visit, error) {
	return &model.Visit{Base: model.Base{ID: id}}, f.err
}

func (f *fakeService) Verify(_ context.Context, _ model.Principal, id uuid.UUID) (*model.Visit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Visit{Base: model.Base{ID: id}, Status: model.VisitStatusVerified}, nil
}

func (f *fakeService) Validate(context.Context, model.Principal, uuid.UUID) ([]model.BillingFinding, error) {
	return f.findings, f.err
}

func (f *fakeService) Get(_ context.Context, _ model.Principal, id uuid.UUID) (*model.Visit, error) {
	return &model.Visit{Base: model.Base{ID: id}}, f.err
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := middleware.RegisterValidators(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func setup(svc Service, withPrincipal bool) *gin.Engine {
	r := gin.New()
	if withPrincipal {
		r.Use(func(c *gin.Context) {
			p := model.Principal{UserID: uuid.New(), OrganizationID: uuid.New(), Role: model.RoleCaregiver}
			c.Request = c.Request.WithContext(identity.WithPrincipal(c.Request.Context(), p))
			c.Next()
		})
	}
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEndVisitTakesIDFromPath(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc, true)
	id := uuid.New()

	w := do(r, http.MethodPost, "/api/v1/visits/"+id.String()+"/end", `{"signature":"Bob","notes":"ok"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, svc.ended.VisitID)
	assert.Equal(t, "Bob", svc.ended.Signature)
}

func TestFindingsReportErrors(t *testing.T) {
	svc := &fakeService{findings: []model.BillingFinding{{
		RuleID: model.RuleMissingSignature, Severity: model.SeverityError, Message: "client signature is missing",
	}}}
	r := setup(svc, true)

	w := do(r, http.MethodGet, "/api/v1/visits/"+uuid.NewString()+"/findings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"has_errors":true`)
	assert.Contains(t, w.Body.String(), string(model.RuleMissingSignature))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperrors.ErrVisitNotFound, http.StatusNotFound},
		{"bad transition", apperrors.ErrInvalidTransition, http.StatusConflict},
		{"other org", apperrors.ErrNotAuthorizedForOrg, http.StatusForbidden},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setup(&fakeService{err: tt.err}, true)
			w := do(r, http.MethodPost, "/api/v1/visits/"+uuid.NewString()+"/verify", "")
			assert.Equal(t, tt.want, w.Code)
			assert.NotContains(t, w.Body.String(), assert.AnError.Error())
		})
	}
}

func TestRejectsBadInput(t *testing.T) {
	r := setup(&fakeService{}, true)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/visits/123", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/visits/start", `{"caregiver_id":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/visits", `{}`).Code)
}

func TestRequiresPrincipal(t *testing.T) {
	r := setup(&fakeService{}, false)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/visits/"+uuid.NewString(), "").Code)
}
