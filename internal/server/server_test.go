package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/observability"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/session"
	sessiondomain "github.com/smallbiznis/creditgate/internal/session/domain"
	subscriptiondomain "github.com/smallbiznis/creditgate/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testInternalSecret = "internal-secret"

type fakeQuotaService struct {
	validateResult quotadomain.ValidateResult
	validateErr    error
	commitResult   quotadomain.CommitResult
	commitErr      error
	snapshot       quotadomain.Snapshot

	lastValidate quotadomain.ValidateRequest
	lastCommit   quotadomain.CommitRequest
}

func (f *fakeQuotaService) Validate(ctx context.Context, req quotadomain.ValidateRequest) (quotadomain.ValidateResult, error) {
	f.lastValidate = req
	return f.validateResult, f.validateErr
}

func (f *fakeQuotaService) Commit(ctx context.Context, req quotadomain.CommitRequest) (quotadomain.CommitResult, error) {
	f.lastCommit = req
	return f.commitResult, f.commitErr
}

func (f *fakeQuotaService) Snapshot(ctx context.Context, tenant quotadomain.TenantKey) (quotadomain.Snapshot, error) {
	snap := f.snapshot
	snap.Tenant = tenant
	return snap, nil
}

type fakeAPIKeyService struct{}

func (fakeAPIKeyService) Issue(ctx context.Context, req apikeydomain.IssueRequest) (*apikeydomain.SecretResponse, error) {
	if req.Name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	return &apikeydomain.SecretResponse{ID: "1", APIKey: apikeydomain.LivePrefix + "new"}, nil
}

func (fakeAPIKeyService) Authenticate(ctx context.Context, raw string) (*apikeydomain.Principal, error) {
	switch raw {
	case "cbx_live_good":
		return &apikeydomain.Principal{KeyID: 7, WorkspaceID: "ws_1"}, nil
	case "cbx_test_good":
		return &apikeydomain.Principal{KeyID: 8, WorkspaceID: "ws_1", IsTest: true}, nil
	default:
		return nil, apikeydomain.ErrInvalidAPIKey
	}
}

func (fakeAPIKeyService) List(ctx context.Context, workspaceID string) ([]apikeydomain.Response, error) {
	return []apikeydomain.Response{}, nil
}

func (fakeAPIKeyService) Revoke(ctx context.Context, workspaceID string, id snowflake.ID) error {
	if workspaceID != "ws_1" {
		return apikeydomain.ErrNotFound
	}
	return nil
}

type fakeSessionService struct {
	revoked []string
}

func (f *fakeSessionService) Issue(ctx context.Context, userID string) (*sessiondomain.IssueResponse, error) {
	if userID == "" {
		return nil, sessiondomain.ErrInvalidUser
	}
	return &sessiondomain.IssueResponse{
		Token:     "sess_new",
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeSessionService) Authenticate(ctx context.Context, raw string) (*sessiondomain.Principal, error) {
	if raw != "sess_good" {
		return nil, sessiondomain.ErrInvalidSession
	}
	return &sessiondomain.Principal{UserID: "user_1"}, nil
}

func (f *fakeSessionService) Revoke(ctx context.Context, raw string) error {
	f.revoked = append(f.revoked, raw)
	return nil
}

type mockSubscriptionService struct {
	mock.Mock
}

func (m *mockSubscriptionService) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*subscriptiondomain.Response)
	return resp, args.Error(1)
}

func (m *mockSubscriptionService) Freeze(ctx context.Context, tenant quotadomain.TenantKey) (*subscriptiondomain.Response, error) {
	return m.transition("Freeze", tenant)
}

func (m *mockSubscriptionService) Unfreeze(ctx context.Context, tenant quotadomain.TenantKey) (*subscriptiondomain.Response, error) {
	return m.transition("Unfreeze", tenant)
}

func (m *mockSubscriptionService) Cancel(ctx context.Context, tenant quotadomain.TenantKey) (*subscriptiondomain.Response, error) {
	return m.transition("Cancel", tenant)
}

func (m *mockSubscriptionService) transition(method string, tenant quotadomain.TenantKey) (*subscriptiondomain.Response, error) {
	args := m.MethodCalled(method, tenant)
	resp, _ := args.Get(0).(*subscriptiondomain.Response)
	return resp, args.Error(1)
}

type testServer struct {
	engine        *gin.Engine
	quota         *fakeQuotaService
	sessions      *fakeSessionService
	subscriptions *mockSubscriptionService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{Auth: config.AuthConfig{InternalAPISecret: testInternalSecret}}
	ts := &testServer{
		engine:        NewEngine(observability.Config{}, nil),
		quota:         &fakeQuotaService{},
		sessions:      &fakeSessionService{},
		subscriptions: &mockSubscriptionService{},
	}
	NewServer(ServerParams{
		Gin:           ts.engine,
		Cfg:           cfg,
		Log:           zaptest.NewLogger(t),
		QuotaSvc:      ts.quota,
		APIKeySvc:     fakeAPIKeyService{},
		SessionSvc:    ts.sessions,
		Sessions:      session.NewManager(cfg),
		Subscriptions: ts.subscriptions,
	})
	return ts
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerInternalAPIKey, testInternalSecret)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func workspaceAuth() map[string]string {
	return map[string]string{"Authorization": "Bearer cbx_live_good"}
}

func userAuth() map[string]string {
	return map[string]string{session.HeaderName: "sess_good"}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func validateBody() map[string]string {
	return map[string]string{
		"request_id":   "req_1",
		"feature_key":  "api.extract_keywords",
		"endpoint":     "/v1/extract",
		"method":       "POST",
		"payload_hash": "abc",
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInternalRoutesRequireSharedSecret(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/internal/workspace/usage/validate", validateBody(), map[string]string{
		headerInternalAPIKey: "wrong",
		"Authorization":      "Bearer cbx_live_good",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestInternalRoutesRefuseWhenSecretUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:           engine,
		Log:           zaptest.NewLogger(t),
		QuotaSvc:      &fakeQuotaService{},
		APIKeySvc:     fakeAPIKeyService{},
		SessionSvc:    &fakeSessionService{},
		Sessions:      session.NewManager(config.Config{}),
		Subscriptions: &mockSubscriptionService{},
	})

	req := httptest.NewRequest(http.MethodGet, "/internal/workspace/quota", nil)
	req.Header.Set("Authorization", "Bearer cbx_live_good")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkspaceRoutesRequireAPIKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/internal/workspace/usage/validate", validateBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/internal/workspace/usage/validate", validateBody(), map[string]string{
		"Authorization": "Bearer cbx_live_unknown",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidateAllowReturnsReservationAndHeaders(t *testing.T) {
	ts := newTestServer(t)
	windowStart := time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)
	ts.quota.validateResult = quotadomain.ValidateResult{
		Access:          quotadomain.AccessAllow,
		UsageID:         snowflake.ID(42),
		CreditsReserved: 4,
		Message:         "Access granted.",
		RateLimit: &quotadomain.RateLimitStatus{
			Minute: quotadomain.RateWindow{Kind: quotadomain.WindowMinute, Limit: int64Ptr(10), Count: 3, WindowStart: windowStart},
			Day:    quotadomain.RateWindow{Kind: quotadomain.WindowDay, Count: 3, WindowStart: windowStart},
		},
	}

	rec := ts.do(http.MethodPost, "/internal/workspace/usage/validate", validateBody(), workspaceAuth())
	require.Equal(t, http.StatusOK, rec.Code)

	var body validateUsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, quotadomain.AccessAllow, body.Access)
	require.NotNil(t, body.UsageID)
	assert.Equal(t, "42", *body.UsageID)
	require.NotNil(t, body.CreditsReserved)
	assert.Equal(t, int64(4), *body.CreditsReserved)

	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit-Minute"))
	assert.Equal(t, "7", rec.Header().Get("X-RateLimit-Remaining-Minute"))
	assert.Equal(t, "1780394460", rec.Header().Get("X-RateLimit-Reset-Minute"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit-Day"))

	assert.Equal(t, quotadomain.NewTenantKey(quotadomain.TenantWorkspace, "ws_1"), ts.quota.lastValidate.Tenant)
	assert.Equal(t, "req_1", ts.quota.lastValidate.RequestID)
	assert.False(t, ts.quota.lastValidate.IsTest)
}

func TestValidateFlagsTestKeys(t *testing.T) {
	ts := newTestServer(t)
	ts.quota.validateResult = quotadomain.ValidateResult{Access: quotadomain.AccessAllow, UsageID: 1, IsTest: true}

	rec := ts.do(http.MethodPost, "/internal/workspace/usage/validate", validateBody(), map[string]string{
		"Authorization": "Bearer cbx_test_good",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.quota.lastValidate.IsTest)
	assert.Contains(t, rec.Body.String(), `"is_test":true`)
}

func TestValidateDenialStatuses(t *testing.T) {
	cases := []struct {
		kind   quotadomain.DenialKind
		status int
	}{
		{quotadomain.DenialNoSubscription, http.StatusPaymentRequired},
		{quotadomain.DenialSubscriptionFrozen, http.StatusPaymentRequired},
		{quotadomain.DenialRateLimited, http.StatusTooManyRequests},
		{quotadomain.DenialQuotaExceeded, http.StatusTooManyRequests},
		{quotadomain.DenialReservationClosed, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			ts := newTestServer(t)
			ts.quota.validateResult = quotadomain.ValidateResult{
				Access: quotadomain.AccessDeny,
				Denial: &quotadomain.Denial{Kind: tc.kind, Message: "denied", RetryAfter: 1500 * time.Millisecond},
			}

			rec := ts.do(http.MethodPost, "/internal/user/usage/validate", validateBody(), userAuth())
			assert.Equal(t, tc.status, rec.Code)

			var body validateUsageResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, quotadomain.AccessDeny, body.Access)
			assert.Equal(t, string(tc.kind), body.Reason)
			assert.Equal(t, "denied", body.Message)
			assert.Nil(t, body.UsageID)
			assert.Nil(t, body.CreditsReserved)

			if tc.kind == quotadomain.DenialRateLimited {
				assert.Equal(t, "2", rec.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestValidateErrorMapping(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		respType string
	}{
		{quotadomain.ErrIdempotencyConflict, http.StatusConflict, "conflict"},
		{quotadomain.ErrInvalidFeatureKey, http.StatusBadRequest, "validation_error"},
		{quotadomain.ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{quotadomain.ErrFeatureNotPriced, http.StatusInternalServerError, "configuration_error"},
		{assert.AnError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			ts := newTestServer(t)
			ts.quota.validateErr = tc.err

			rec := ts.do(http.MethodPost, "/internal/workspace/usage/validate", validateBody(), workspaceAuth())
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.respType, decodeError(t, rec).Type)
		})
	}
}

func TestValidateRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/internal/workspace/usage/validate", bytes.NewBufferString("{"))
	req.Header.Set(headerInternalAPIKey, testInternalSecret)
	req.Header.Set("Authorization", "Bearer cbx_live_good")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_request", payload.Errors[0].Code)
}

func TestCommitForwardsOutcome(t *testing.T) {
	ts := newTestServer(t)
	ts.quota.commitResult = quotadomain.CommitResult{
		UsageID:        42,
		Status:         quotadomain.UsageStatusSuccess,
		CreditsCharged: 4,
		Message:        "Usage committed.",
	}

	rec := ts.do(http.MethodPost, "/internal/user/usage/commit", map[string]any{
		"usage_id":    "42",
		"success":     true,
		"metrics":     map[string]any{"model_used": "gpt", "latency_ms": 120},
		"result_data": map[string]any{"keywords": []string{"go"}},
	}, userAuth())
	require.Equal(t, http.StatusOK, rec.Code)

	var body commitUsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Usage committed.", body.Message)

	assert.Equal(t, quotadomain.NewTenantKey(quotadomain.TenantUser, "user_1"), ts.quota.lastCommit.Tenant)
	assert.Equal(t, snowflake.ID(42), ts.quota.lastCommit.UsageID)
	assert.True(t, ts.quota.lastCommit.Success)
	require.NotNil(t, ts.quota.lastCommit.Metrics)
	assert.Equal(t, "gpt", ts.quota.lastCommit.Metrics.ModelUsed)
	assert.JSONEq(t, `{"keywords":["go"]}`, string(ts.quota.lastCommit.ResultData))
}

func TestCommitDropsNullResultData(t *testing.T) {
	ts := newTestServer(t)
	ts.quota.commitResult = quotadomain.CommitResult{Status: quotadomain.UsageStatusFailed}

	rec := ts.do(http.MethodPost, "/internal/workspace/usage/commit", map[string]any{
		"usage_id":    "42",
		"success":     false,
		"failure":     map[string]any{"failure_type": "timeout", "reason": "upstream slow"},
		"result_data": nil,
	}, workspaceAuth())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, ts.quota.lastCommit.ResultData)
	require.NotNil(t, ts.quota.lastCommit.Failure)
	assert.Equal(t, quotadomain.FailureType("timeout"), ts.quota.lastCommit.Failure.Type)
}

func TestCommitErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		body   map[string]any
		err    error
		status int
	}{
		{"unknown usage", map[string]any{"usage_id": "42", "success": true}, quotadomain.ErrUsageNotFound, http.StatusNotFound},
		{"not owned", map[string]any{"usage_id": "42", "success": true}, quotadomain.ErrUsageNotOwned, http.StatusForbidden},
		{"bad failure type", map[string]any{"usage_id": "42", "success": false}, quotadomain.ErrInvalidFailureType, http.StatusBadRequest},
		{"malformed usage id", map[string]any{"usage_id": "abc", "success": true}, nil, http.StatusBadRequest},
		{"missing success", map[string]any{"usage_id": "42"}, nil, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.quota.commitErr = tc.err
			rec := ts.do(http.MethodPost, "/internal/workspace/usage/commit", tc.body, workspaceAuth())
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestGetQuotaReturnsSnapshotForCaller(t *testing.T) {
	ts := newTestServer(t)
	ts.quota.snapshot = quotadomain.Snapshot{PlanCode: "career_plus", CreditsAllocation: 100, CreditsRemaining: 90}

	rec := ts.do(http.MethodGet, "/internal/user/quota", nil, userAuth())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data quotadomain.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "career_plus", body.Data.PlanCode)
	assert.Equal(t, quotadomain.NewTenantKey(quotadomain.TenantUser, "user_1"), body.Data.Tenant)
}

func TestSessionCookieIsAccepted(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/internal/user/quota", nil)
	req.Header.Set(headerInternalAPIKey, testInternalSecret)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "sess_good"})
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscriptionRoutes(t *testing.T) {
	ts := newTestServer(t)
	workspace := quotadomain.NewTenantKey(quotadomain.TenantWorkspace, "ws_1")
	user := quotadomain.NewTenantKey(quotadomain.TenantUser, "user_1")

	ts.subscriptions.On("Activate", subscriptiondomain.ActivateRequest{Tenant: workspace, PlanID: "5"}).
		Return(&subscriptiondomain.Response{ID: "10", PlanID: "5", Status: quotadomain.SubscriptionStatusActive}, nil).Once()
	rec := ts.do(http.MethodPut, "/internal/subscriptions/workspace/ws_1", map[string]string{"plan_id": "5"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(quotadomain.SubscriptionStatusActive))

	ts.subscriptions.On("Cancel", user).
		Return(&subscriptiondomain.Response{ID: "10", Status: quotadomain.SubscriptionStatusCanceled}, nil).Once()
	rec = ts.do(http.MethodPost, "/internal/subscriptions/user/user_1/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(quotadomain.SubscriptionStatusCanceled))

	rec = ts.do(http.MethodPost, "/internal/subscriptions/team/t_1/freeze", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "tenant", payload.Errors[0].Field)

	ts.subscriptions.On("Freeze", user).Return(nil, subscriptiondomain.ErrInvalidTransition).Once()
	rec = ts.do(http.MethodPost, "/internal/subscriptions/user/user_1/freeze", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.subscriptions.On("Unfreeze", user).Return(nil, subscriptiondomain.ErrNotFound).Once()
	rec = ts.do(http.MethodPost, "/internal/subscriptions/user/user_1/unfreeze", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.subscriptions.On("Activate", subscriptiondomain.ActivateRequest{Tenant: user, PlanID: "6"}).
		Return(nil, subscriptiondomain.ErrPlanProductMismatch).Once()
	rec = ts.do(http.MethodPut, "/internal/subscriptions/user/user_1", map[string]string{"plan_id": "6"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "plan_id", decodeError(t, rec).Errors[0].Field)

	ts.subscriptions.On("Activate", subscriptiondomain.ActivateRequest{Tenant: user, PlanID: "7"}).
		Return(nil, subscriptiondomain.ErrPlanNotFound).Once()
	rec = ts.do(http.MethodPut, "/internal/subscriptions/user/user_1", map[string]string{"plan_id": "7"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.subscriptions.AssertExpectations(t)
}

func TestAPIKeyRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/internal/workspaces/ws_1/api-keys", map[string]any{"name": "prod"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), apikeydomain.LivePrefix)

	rec = ts.do(http.MethodPost, "/internal/workspaces/ws_1/api-keys", map[string]any{"name": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/internal/workspaces/ws_1/api-keys", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodDelete, "/internal/workspaces/ws_1/api-keys/7", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodDelete, "/internal/workspaces/ws_2/api-keys/7", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodDelete, "/internal/workspaces/ws_1/api-keys/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionLifecycleRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/internal/users/user_1/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), session.DefaultCookieName+"=sess_new")

	rec = ts.do(http.MethodDelete, "/internal/user/session", nil, userAuth())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"sess_good"}, ts.sessions.revoked)

	rec = ts.do(http.MethodDelete, "/internal/user/session", nil, map[string]string{session.HeaderName: "sess_bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
