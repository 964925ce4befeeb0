package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "github.com/gearlog/ticket-service/internal/api/http"
	"github.com/gearlog/ticket-service/internal/api/http/handlers"
	"github.com/gearlog/ticket-service/internal/auth"
	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/events"
	"github.com/gearlog/ticket-service/internal/observability"
	"github.com/gearlog/ticket-service/internal/repository/memstore"
	"github.com/gearlog/ticket-service/internal/service"
)

const userHeader = "X-Test-User"

var now = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app     *fiber.App
	store   *memstore.Store
	metrics *observability.Metrics
}

func newTestServer(t *testing.T, debug bool, pingers map[string]handlers.Pinger) *testServer {
	t.Helper()
	companyA, companyB := "company-a", "company-b"
	store := memstore.New()
	store.AddUser(domain.User{ID: "user-a1", CompanyID: &companyA, Name: "Ana"})
	store.AddUser(domain.User{ID: "user-a2", CompanyID: &companyA, Name: "Tom"})
	store.AddUser(domain.User{ID: "user-b1", CompanyID: &companyB, Name: "Bea"})
	store.AddUser(domain.User{ID: "root", Name: "Root"})

	actors := map[string]domain.Actor{
		"user-a1": {UserID: "user-a1", CompanyID: &companyA},
		"user-a2": {UserID: "user-a2", CompanyID: &companyA, Capabilities: []domain.Capability{domain.CapabilityAdmin}},
		"user-b1": {UserID: "user-b1", CompanyID: &companyB},
		"root":    {UserID: "root", Capabilities: []domain.Capability{domain.CapabilitySuperAdmin}},
	}
	authenticate := func(c *fiber.Ctx) error {
		actor, ok := actors[c.Get(userHeader)]
		if !ok {
			return c.Next()
		}
		return auth.WithActor(actor)(c)
	}

	clock := service.ClockFunc(func() time.Time { return now })
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	tickets := service.NewTicketService(service.TicketDependencies{Store: store, Dispatcher: dispatcher, Clock: clock})
	compliance := service.NewComplianceService(service.ComplianceDependencies{Store: store, Clock: clock, Location: time.UTC})

	metrics := observability.NewMetrics()
	app := fiber.New()
	httptransport.RegisterMiddlewares(app, httptransport.MiddlewareConfig{
		Logger:  zap.NewNop(),
		Metrics: metrics,
		Timeout: time.Second,
		Debug:   debug,
	})
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-service", "test", pingers),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Dashboard:      handlers.NewDashboardHandler(compliance),
		AuthMiddleware: authenticate,
	})
	return &testServer{app: app, store: store, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	if len(payload) > 0 {
		require.NoError(t, json.Unmarshal(payload, &decoded), string(payload))
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func createTicket(t *testing.T, s *testServer, user string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/tickets", user, map[string]any{
		"title":       "Laptop screen cracked",
		"description": "Dropped during transport",
		"priority":    "high",
		"type":        "damage",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["data"].(map[string]any)["id"].(string)
}

func TestTickets_CreateAndGet(t *testing.T) {
	s := newTestServer(t, false, nil)

	id := createTicket(t, s, "user-a1")
	status, body := s.do(t, http.MethodGet, "/tickets/"+id, "user-a1", nil)

	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "open", data["status"])
	assert.Equal(t, "high", data["priority"])
	assert.Equal(t, "company-a", data["company_id"])
	assert.NotNil(t, data["first_response_deadline"])
	assert.NotNil(t, data["resolution_deadline"])
	assert.Equal(t, false, data["sla_violated"])
}

func TestTickets_RequiresAuthentication(t *testing.T) {
	s := newTestServer(t, false, nil)

	status, body := s.do(t, http.MethodGet, "/tickets", "", nil)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestTickets_OtherCompanyGetsNotFound(t *testing.T) {
	s := newTestServer(t, false, nil)
	id := createTicket(t, s, "user-a1")

	status, body := s.do(t, http.MethodGet, "/tickets/"+id, "user-b1", nil)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestTickets_CloseWithoutResolution(t *testing.T) {
	s := newTestServer(t, false, nil)
	id := createTicket(t, s, "user-a1")

	status, body := s.do(t, http.MethodPost, "/tickets/"+id+"/status", "user-a1", map[string]any{"status": "closed"})

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "RESOLUTION_REQUIRED", errorCode(body))
}

func TestTickets_LifecycleTrail(t *testing.T) {
	s := newTestServer(t, false, nil)
	id := createTicket(t, s, "user-a1")

	status, _ := s.do(t, http.MethodPost, "/tickets/"+id+"/assign", "user-a1", map[string]any{"assigned_to": "user-a2"})
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/tickets/"+id+"/comments", "user-a2", map[string]any{"body": "On it"})
	require.Equal(t, http.StatusCreated, status)
	status, body := s.do(t, http.MethodPost, "/tickets/"+id+"/status", "user-a2",
		map[string]any{"status": "resolved", "resolution": "Screen replaced"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resolved", body["data"].(map[string]any)["status"])

	status, body = s.do(t, http.MethodGet, "/tickets/"+id+"/comments", "user-a1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, body = s.do(t, http.MethodGet, "/tickets/"+id+"/logs", "user-a1", nil)
	require.Equal(t, http.StatusOK, status)
	logs := body["data"].([]any)
	last := logs[len(logs)-1].(map[string]any)
	assert.Equal(t, "status_changed", last["action"])
	assert.Equal(t, "resolved", last["new_value"].(map[string]any)["status"])

	status, body = s.do(t, http.MethodGet, "/tickets/"+id+"/sla", "user-a1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotNil(t, body["data"].(map[string]any)["first_response_at"])
}

func TestTickets_CrossTenantAssignment(t *testing.T) {
	s := newTestServer(t, false, nil)
	id := createTicket(t, s, "user-a1")

	status, body := s.do(t, http.MethodPost, "/tickets/"+id+"/assign", "user-a1", map[string]any{"assigned_to": "user-b1"})

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "CROSS_TENANT_ASSIGNMENT", errorCode(body))
	assert.NotEmpty(t, body["error"].(map[string]any)["details"])
}

func TestTickets_DeleteRequiresAdmin(t *testing.T) {
	s := newTestServer(t, false, nil)
	id := createTicket(t, s, "user-a1")

	status, body := s.do(t, http.MethodDelete, "/tickets/"+id, "user-a1", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = s.do(t, http.MethodDelete, "/tickets/"+id, "user-a2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]any)["deleted"])
	assert.Equal(t, 0, s.store.TicketCount())
}

func TestTickets_ListFiltersAndPaging(t *testing.T) {
	s := newTestServer(t, false, nil)
	for i := 0; i < 3; i++ {
		createTicket(t, s, "user-a1")
	}
	createTicket(t, s, "user-b1")

	status, body := s.do(t, http.MethodGet, "/tickets?status=open&priority=high&page=1&page_size=2", "user-a1", nil)

	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["limit"])
	assert.Equal(t, float64(0), meta["offset"])

	status, body = s.do(t, http.MethodGet, "/tickets?all_tenants=true", "user-a1", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = s.do(t, http.MethodGet, "/tickets?all_tenants=true", "root", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 4)
}

func TestDashboard_Scoping(t *testing.T) {
	s := newTestServer(t, false, nil)
	createTicket(t, s, "user-a1")
	createTicket(t, s, "user-b1")

	status, body := s.do(t, http.MethodGet, "/dashboard", "user-a1", nil)
	require.Equal(t, http.StatusOK, status)
	kpis := body["data"].(map[string]any)["kpis"].(map[string]any)
	assert.Equal(t, float64(1), kpis["total"])

	status, _ = s.do(t, http.MethodGet, "/dashboard?all_tenants=true", "user-a1", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = s.do(t, http.MethodGet, "/dashboard?all_tenants=true", "root", nil)
	require.Equal(t, http.StatusOK, status)
	kpis = body["data"].(map[string]any)["kpis"].(map[string]any)
	assert.Equal(t, float64(2), kpis["total"])
}

func TestErrors_InternalDetailsOnlyInDebug(t *testing.T) {
	for name, debug := range map[string]bool{"debug": true, "production": false} {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, debug, nil)
			s.store.FailNext(memstore.OpTicketCreate, errors.New("disk full"))

			status, body := s.do(t, http.MethodPost, "/tickets", "user-a1", map[string]any{
				"title": "x", "description": "y", "type": "other",
			})

			assert.Equal(t, http.StatusInternalServerError, status)
			errBody := body["error"].(map[string]any)
			assert.Equal(t, "INTERNAL_ERROR", errBody["code"])
			if debug {
				assert.Contains(t, errBody["details"].(map[string]any)["debug"], "disk full")
			} else {
				assert.NotContains(t, errBody, "details")
			}
		})
	}
}

func TestErrors_UnknownRouteAndMetrics(t *testing.T) {
	s := newTestServer(t, false, nil)

	status, body := s.do(t, http.MethodGet, "/nope", "user-a1", nil)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
	snap := s.metrics.Snapshot()
	assert.NotEmpty(t, snap.Errors)
	assert.NotEmpty(t, snap.Requests)
}

func TestHealth_Ready(t *testing.T) {
	s := newTestServer(t, false, map[string]handlers.Pinger{
		"postgres": stubPinger{},
		"redis":    stubPinger{err: errors.New("connection refused")},
	})

	status, _ := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := s.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "ok", details["postgres"])
	assert.Equal(t, "connection refused", details["redis"])
}
