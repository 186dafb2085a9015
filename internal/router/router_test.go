package router

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/evv-api/internal/handler"
	claimHandler "github.com/jwalitptl/evv-api/internal/handler/claim"
	dashboardHandler "github.com/jwalitptl/evv-api/internal/handler/dashboard"
	visitHandler "github.com/jwalitptl/evv-api/internal/handler/visit"
	"github.com/jwalitptl/evv-api/internal/middleware"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository/memory"
	"github.com/jwalitptl/evv-api/internal/service/claim"
	"github.com/jwalitptl/evv-api/internal/service/dashboard"
	"github.com/jwalitptl/evv-api/internal/service/event"
	"github.com/jwalitptl/evv-api/internal/service/evvsync"
	"github.com/jwalitptl/evv-api/internal/service/units"
	"github.com/jwalitptl/evv-api/internal/service/validation"
	"github.com/jwalitptl/evv-api/internal/service/visit"
	"github.com/jwalitptl/evv-api/pkg/aggregator"
	"github.com/jwalitptl/evv-api/pkg/auth"
	"github.com/jwalitptl/evv-api/pkg/clock"
	"github.com/jwalitptl/evv-api/pkg/logger"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

type acceptAll struct{}

func (acceptAll) SubmitVisit(_ context.Context, p aggregator.VisitPayload) (*aggregator.Receipt, error) {
	return &aggregator.Receipt{TransactionID: "TX-" + p.VisitID}, nil
}

type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    int             `json:"-"`
}

func (r Response) IsSuccess() bool {
	return r.Status == "success"
}

type apiSuite struct {
	t      *testing.T
	engine *gin.Engine
	tokens auth.JWTService
	clock  *clock.ManagedClock
	reg    *prometheus.Registry

	org       uuid.UUID
	caregiver uuid.UUID
	client    uuid.UUID
}

func newAPISuite(t *testing.T) *apiSuite {
	t.Helper()
	require.NoError(t, middleware.RegisterValidators())

	ctx := context.Background()
	clk := clock.NewManaged(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	store.SetNow(clk.Now)
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	log := logger.Nop()

	s := &apiSuite{
		t:         t,
		tokens:    auth.NewJWTService("secret", "evv-api"),
		clock:     clk,
		reg:       reg,
		org:       uuid.New(),
		caregiver: uuid.New(),
		client:    uuid.New(),
	}
	store.AddCaregiver(model.Caregiver{ID: s.caregiver, OrganizationID: s.org, Name: "Ann", ProviderID: "STAFF-1"})
	store.AddClient(model.Client{ID: s.client, OrganizationID: s.org, Name: "Bob", PayerID: "MCD-1", PayerName: "Medicaid"})
	require.NoError(t, store.Authorizations().Create(ctx, &model.Authorization{
		OrganizationID: s.org, ContactID: s.client, ServiceCode: "T1019",
		StartDate: clk.Now().AddDate(0, 0, -1), EndDate: clk.Now().AddDate(0, 0, 30),
		TotalUnits: 10,
	}))

	validator := validation.NewValidator(store, units.Default, m)
	events := event.NewEventService(store.Outbox(), log)
	visits := visit.NewService(store, validator, evvsync.NewAdapter(acceptAll{}, units.Default, m), events,
		clk, visit.Config{StartGrace: time.Hour}, log, m)
	claims := claim.NewService(store, validator, events, units.Default, clk,
		claim.Config{UnitRate: decimal.RequireFromString("6.25"), BlockOnErrors: true}, log, m)
	dash := dashboard.NewService(store, validator, clk, dashboard.Config{
		LateStartThreshold: 15 * time.Minute, ExpiringWindow: 30 * 24 * time.Hour,
	})

	r := NewRouter(
		middleware.NewAuthMiddleware(s.tokens, time.Minute),
		handler.NewHandler(store, reg),
		visitHandler.NewHandler(visits),
		claimHandler.NewHandler(claims),
		dashboardHandler.NewHandler(dash),
		RouterConfig{
			Mode:           gin.TestMode,
			RateLimit:      rate.Inf,
			RequestTimeout: 5 * time.Second,
			CORSConfig:     middleware.DefaultCORSConfig(nil),
			MetricsPrefix:  "evv_http",
			Registerer:     reg,
		},
	)
	s.engine = r.Engine()
	return s
}

func (s *apiSuite) token(userID uuid.UUID, role model.Role) string {
	tok, err := s.tokens.GenerateAccessToken(model.Principal{UserID: userID, OrganizationID: s.org, Role: role}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *apiSuite) makeRequest(method, path string, body interface{}, token string) Response {
	s.t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp Response
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	resp.Code = w.Code
	return resp
}

func decode[T any](t *testing.T, r Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(r.Data, &out))
	return out
}

func TestVisitBillingFlow(t *testing.T) {
	s := newAPISuite(t)
	coordinator := s.token(uuid.New(), model.RoleCoordinator)
	worker := s.token(s.caregiver, model.RoleCaregiver)
	biller := s.token(uuid.New(), model.RoleBiller)

	createResp := s.makeRequest(http.MethodPost, "/api/v1/visits", map[string]interface{}{
		"client_id":    s.client,
		"caregiver_id": s.caregiver,
		"start":        s.clock.Now(),
		"end":          s.clock.Now().Add(time.Hour),
		"service_type": "T1019",
	}, coordinator)
	require.True(t, createResp.IsSuccess(), "Failed to schedule visit: %s", createResp.Message)
	assert.Equal(t, http.StatusCreated, createResp.Code)
	scheduled := decode[model.Visit](t, createResp)

	startResp := s.makeRequest(http.MethodPost, "/api/v1/visits/start", map[string]interface{}{
		"client_id":    s.client,
		"caregiver_id": s.caregiver,
		"location":     map[string]float64{"lat": 40.1, "lng": -74.2},
	}, worker)
	require.True(t, startResp.IsSuccess(), "Failed to start visit: %s", startResp.Message)
	assert.Equal(t, scheduled.ID, decode[model.Visit](t, startResp).ID)

	again := s.makeRequest(http.MethodPost, "/api/v1/visits/start", map[string]interface{}{
		"client_id": s.client, "caregiver_id": s.caregiver, "service_type": "T1019",
	}, worker)
	assert.Equal(t, http.StatusConflict, again.Code)

	s.clock.WarpForward(68 * time.Minute)
	endResp := s.makeRequest(http.MethodPost, "/api/v1/visits/"+scheduled.ID.String()+"/end", map[string]interface{}{
		"signature": "Bob",
		"notes":     "bathing assistance",
	}, worker)
	require.True(t, endResp.IsSuccess(), "Failed to end visit: %s", endResp.Message)
	assert.Equal(t, model.VisitStatusSubmitted, decode[model.Visit](t, endResp).Status)

	findingsResp := s.makeRequest(http.MethodGet, "/api/v1/visits/"+scheduled.ID.String()+"/findings", nil, coordinator)
	require.True(t, findingsResp.IsSuccess())
	findings := decode[struct {
		Findings  []model.BillingFinding `json:"findings"`
		HasErrors bool                   `json:"has_errors"`
	}](t, findingsResp)
	assert.Empty(t, findings.Findings)
	assert.False(t, findings.HasErrors)

	verifyResp := s.makeRequest(http.MethodPost, "/api/v1/visits/"+scheduled.ID.String()+"/verify", nil, coordinator)
	require.True(t, verifyResp.IsSuccess(), verifyResp.Message)

	orgPath := "/api/v1/organizations/" + s.org.String()

	denied := s.makeRequest(http.MethodPost, orgPath+"/claims/generate", nil, worker)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	genResp := s.makeRequest(http.MethodPost, orgPath+"/claims/generate", nil, biller)
	require.True(t, genResp.IsSuccess(), genResp.Message)
	run := decode[model.ClaimRun](t, genResp)
	require.Equal(t, 1, run.Created)
	assert.Equal(t, 5, run.Claims[0].Units)
	assert.Equal(t, "31.25", run.Claims[0].TotalBilled.StringFixed(2))

	submitResp := s.makeRequest(http.MethodPost, orgPath+"/claims/submit", nil, biller)
	require.True(t, submitResp.IsSuccess())
	assert.JSONEq(t, `{"submitted":1}`, string(submitResp.Data))

	listResp := s.makeRequest(http.MethodGet, orgPath+"/claims?status=submitted", nil, biller)
	require.True(t, listResp.IsSuccess())
	assert.Len(t, decode[[]model.Claim](t, listResp), 1)

	statsResp := s.makeRequest(http.MethodGet, orgPath+"/dashboard", nil, coordinator)
	require.True(t, statsResp.IsSuccess())
	assert.Equal(t, 0, decode[model.DashboardStats](t, statsResp).UnbilledVerified)
}

func TestRequestRejections(t *testing.T) {
	s := newAPISuite(t)
	coordinator := s.token(uuid.New(), model.RoleCoordinator)

	resp := s.makeRequest(http.MethodGet, "/api/v1/visits/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = s.makeRequest(http.MethodGet, "/api/v1/visits/"+uuid.NewString(), nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = s.makeRequest(http.MethodGet, "/api/v1/visits/not-a-uuid", nil, coordinator)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.makeRequest(http.MethodGet, "/api/v1/visits/"+uuid.NewString(), nil, coordinator)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "visit not found", resp.Message)

	resp = s.makeRequest(http.MethodPost, "/api/v1/visits", map[string]interface{}{
		"client_id":    s.client,
		"caregiver_id": s.caregiver,
		"start":        s.clock.Now(),
		"end":          s.clock.Now().Add(time.Hour),
		"service_type": "bathing",
	}, coordinator)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "validation failed", resp.Message)

	other := uuid.New()
	resp = s.makeRequest(http.MethodGet, "/api/v1/organizations/"+other.String()+"/dashboard", nil, coordinator)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newAPISuite(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// One request so the router metrics have a sample.
	s.makeRequest(http.MethodGet, "/api/v1/visits/"+uuid.NewString(), nil, "")

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "evv_http_requests_total"))
}
