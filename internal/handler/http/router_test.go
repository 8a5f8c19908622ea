package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/sse"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handlerTestSecret = "test-secret-key-for-jwt"

// stubPayrollService records the last caller and answers from the func fields.
type stubPayrollService struct {
	payroll.PayrollService

	lastCaller payroll.CallerContext
	calculate  func(req payroll.CalculatePayrollRequest) (payroll.Entry, error)
	transition func(req payroll.TransitionRequest) (payroll.Entry, error)
	periods    func(filter payroll.PeriodFilter) (payroll.PeriodListResponse, error)
	getEntry   func(id string) (payroll.Entry, error)
}

func (s *stubPayrollService) CalculatePayroll(ctx context.Context, caller payroll.CallerContext, req payroll.CalculatePayrollRequest) (payroll.Entry, error) {
	s.lastCaller = caller
	return s.calculate(req)
}

func (s *stubPayrollService) TransitionEntry(ctx context.Context, caller payroll.CallerContext, req payroll.TransitionRequest) (payroll.Entry, error) {
	s.lastCaller = caller
	return s.transition(req)
}

func (s *stubPayrollService) GetPayrollPeriods(ctx context.Context, caller payroll.CallerContext, filter payroll.PeriodFilter) (payroll.PeriodListResponse, error) {
	s.lastCaller = caller
	return s.periods(filter)
}

func (s *stubPayrollService) GetPayrollByID(ctx context.Context, caller payroll.CallerContext, id string) (payroll.Entry, error) {
	s.lastCaller = caller
	return s.getEntry(id)
}

type stubCatalogService struct {
	payroll.CatalogService

	lastCaller      payroll.CallerContext
	createDeduction func(req payroll.CreateDeductionRequest) (payroll.Deduction, error)
}

func (s *stubCatalogService) CreateDeduction(ctx context.Context, caller payroll.CallerContext, req payroll.CreateDeductionRequest) (payroll.Deduction, error) {
	s.lastCaller = caller
	return s.createDeduction(req)
}

type testServer struct {
	handler http.Handler
	jwt     jwt.Service
	hub     *sse.Hub
	payroll *stubPayrollService
	catalog *stubCatalogService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	jwtSvc := jwt.NewJWTService(handlerTestSecret, time.Hour)
	hub := sse.NewHub()
	payrollSvc := &stubPayrollService{}
	catalogSvc := &stubCatalogService{}

	router := NewRouter(jwtSvc, RouterOptions{AppName: "payroll-engine-test", Env: "test"},
		NewPayrollHandler(payrollSvc), NewCatalogHandler(catalogSvc), NewEventsHandler(hub, jwtSvc))

	return &testServer{handler: router, jwt: jwtSvc, hub: hub, payroll: payrollSvc, catalog: catalogSvc}
}

func (s *testServer) token(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(claims)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Page       int   `json:"page"`
		TotalItems int64 `json:"total_items"`
		TotalPages int   `json:"total_pages"`
	} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

var (
	adminClaims    = jwt.Claims{UserID: "user-admin", EmployeeID: "emp-admin", Role: payroll.RolePayrollAdmin}
	employeeClaims = jwt.Claims{UserID: "user-1", EmployeeID: "emp-1", Role: payroll.RoleEmployee}
)

func TestRouter_RequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/api/v1/payroll/calculate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = srv.do(t, http.MethodPost, "/api/v1/payroll/calculate", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// An SSE token is not accepted as an access token.
	sseToken, _, err := srv.jwt.GenerateSSEToken(adminClaims)
	require.NoError(t, err)
	w = srv.do(t, http.MethodPost, "/api/v1/payroll/calculate", sseToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_AdminRoutesRejectEmployees(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, employeeClaims)

	for _, path := range []string{
		"/api/v1/payroll/calculate",
		"/api/v1/payroll/batches",
		"/api/v1/payroll/deductions",
		"/api/v1/payroll/overtime",
	} {
		w := srv.do(t, http.MethodPost, path, token, map[string]string{})
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestPayrollHandler_Calculate(t *testing.T) {
	srv := newTestServer(t)
	dept := "dept-eng"
	srv.payroll.calculate = func(req payroll.CalculatePayrollRequest) (payroll.Entry, error) {
		return payroll.Entry{
			ID:         "entry-1",
			EmployeeID: req.EmployeeID,
			Month:      req.Month,
			Year:       req.Year,
			Status:     payroll.EntryStatusPending,
			Totals:     payroll.Totals{NetPay: decimal.RequireFromString("603300")},
		}, nil
	}

	claims := adminClaims
	claims.DepartmentID = &dept
	w := srv.do(t, http.MethodPost, "/api/v1/payroll/calculate", srv.token(t, claims), payroll.CalculatePayrollRequest{
		EmployeeID: "emp-1", Month: 6, Year: 2024, SalaryGradeID: "grade-l1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, "emp-1", entry["employeeId"])
	assert.Equal(t, "603300", entry["totals"].(map[string]interface{})["netPay"])

	assert.Equal(t, "user-admin", srv.payroll.lastCaller.UserID)
	require.NotNil(t, srv.payroll.lastCaller.DepartmentScope)
	assert.Equal(t, "dept-eng", *srv.payroll.lastCaller.DepartmentScope)
}

func TestPayrollHandler_InvalidBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/calculate", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+srv.token(t, adminClaims))
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayrollHandler_CalculateErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		retryAfter bool
	}{
		{"in progress", &payroll.CalculationInProgressError{EmployeeID: "emp-1", PeriodID: "p"}, http.StatusConflict, true},
		{"already paid", &payroll.AlreadyPaidError{EntryID: "e", EmployeeID: "emp-1"}, http.StatusConflict, false},
		{"missing grade", &payroll.MissingGradeError{GradeID: "g"}, http.StatusNotFound, false},
		{"integrity", &payroll.CatalogIntegrityError{Code: "paye", Reason: "circular depends_on"}, http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.payroll.calculate = func(req payroll.CalculatePayrollRequest) (payroll.Entry, error) {
				return payroll.Entry{}, tt.err
			}

			w := srv.do(t, http.MethodPost, "/api/v1/payroll/calculate", srv.token(t, adminClaims), payroll.CalculatePayrollRequest{})
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.retryAfter {
				assert.NotEmpty(t, w.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestPayrollHandler_TransitionUsesPathID(t *testing.T) {
	srv := newTestServer(t)
	var got payroll.TransitionRequest
	srv.payroll.transition = func(req payroll.TransitionRequest) (payroll.Entry, error) {
		got = req
		return payroll.Entry{ID: req.EntryID, Status: req.Status}, nil
	}

	reason := "wrong grade"
	w := srv.do(t, http.MethodPost, "/api/v1/payroll/entries/entry-42/transitions", srv.token(t, adminClaims),
		map[string]interface{}{"status": "rejected", "reason": reason})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "entry-42", got.EntryID)
	assert.Equal(t, payroll.EntryStatusRejected, got.Status)
	require.NotNil(t, got.Reason)
	assert.Equal(t, reason, *got.Reason)
}

func TestPayrollHandler_ListPeriods(t *testing.T) {
	srv := newTestServer(t)
	var got payroll.PeriodFilter
	srv.payroll.periods = func(filter payroll.PeriodFilter) (payroll.PeriodListResponse, error) {
		got = filter
		return payroll.PeriodListResponse{
			Periods:    []payroll.Period{{ID: "p-1", Month: 6, Year: 2024}},
			TotalCount: 3,
			Page:       2,
			Limit:      2,
			TotalPages: 2,
		}, nil
	}

	w := srv.do(t, http.MethodGet, "/api/v1/payroll/periods?year=2024&status=draft&page=2&limit=2", srv.token(t, adminClaims), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NotNil(t, got.Year)
	assert.Equal(t, 2024, *got.Year)
	require.NotNil(t, got.Status)
	assert.Equal(t, payroll.PeriodStatusDraft, *got.Status)
	assert.Equal(t, 2, got.Page)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(3), env.Meta.TotalItems)
	assert.Equal(t, 2, env.Meta.TotalPages)
}

func TestPayrollHandler_EmployeeCanReadOwnEntry(t *testing.T) {
	srv := newTestServer(t)
	srv.payroll.getEntry = func(id string) (payroll.Entry, error) {
		if id == "mine" {
			return payroll.Entry{ID: id, EmployeeID: "emp-1"}, nil
		}
		return payroll.Entry{}, payroll.ErrForbidden
	}
	token := srv.token(t, employeeClaims)

	w := srv.do(t, http.MethodGet, "/api/v1/payroll/entries/mine", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "emp-1", srv.payroll.lastCaller.EmployeeID)

	w = srv.do(t, http.MethodGet, "/api/v1/payroll/entries/theirs", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCatalogHandler_CreateDeductionValidation(t *testing.T) {
	srv := newTestServer(t)
	srv.catalog.createDeduction = func(req payroll.CreateDeductionRequest) (payroll.Deduction, error) {
		return payroll.Deduction{}, req.Validate()
	}

	w := srv.do(t, http.MethodPost, "/api/v1/payroll/deductions", srv.token(t, adminClaims), map[string]interface{}{
		"code": "loan", "name": "Staff loan", "category": "voluntary",
		"rule":           map[string]interface{}{"method": "fixed"},
		"effective_date": "2024-01-01",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Details, "rule.value")
	assert.Equal(t, "user-admin", srv.catalog.lastCaller.UserID)
	assert.Equal(t, payroll.RolePayrollAdmin, srv.catalog.lastCaller.Role)
}

func TestEventsHandler_StreamRequiresSSEToken(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/v1/payroll/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Access tokens are refused on the stream.
	w = srv.do(t, http.MethodGet, "/api/v1/payroll/events?token="+srv.token(t, adminClaims), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventsHandler_IssueTokenAndStream(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/api/v1/payroll/events/token", srv.token(t, employeeClaims), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tok SSETokenResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &tok))
	assert.Equal(t, 300, tok.ExpiresIn)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payroll/events?token="+tok.Token, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handler.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return srv.hub.SubscriberCount(sse.EmployeeTopic("emp-1")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.hub.SubscriberCount(sse.TopicAllPayroll))

	srv.hub.Publish(sse.EmployeeTopic("emp-1"), sse.Event{
		Event: payroll.EventTypePayroll,
		Data:  payroll.Event{Type: payroll.EventTypePayroll, PayrollID: "entry-1", Status: payroll.EntryStatusPaid},
	})
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: payroll")
	assert.Contains(t, body, `"payrollId":"entry-1"`)
	assert.Equal(t, 0, srv.hub.TotalSubscribers())
}

func TestTopicsFor(t *testing.T) {
	dept := "dept-eng"
	tests := []struct {
		name   string
		caller payroll.CallerContext
		want   []string
	}{
		{"global admin", payroll.CallerContext{Role: payroll.RoleAdmin}, []string{sse.TopicAllPayroll}},
		{"scoped admin", payroll.CallerContext{Role: payroll.RolePayrollAdmin, EmployeeID: "emp-9", DepartmentScope: &dept},
			[]string{sse.DepartmentTopic(dept), sse.EmployeeTopic("emp-9")}},
		{"employee", payroll.CallerContext{Role: payroll.RoleEmployee, EmployeeID: "emp-1"}, []string{sse.EmployeeTopic("emp-1")}},
		{"nobody", payroll.CallerContext{Role: payroll.RoleEmployee}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, topicsFor(tt.caller))
		})
	}
}
