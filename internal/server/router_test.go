package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/repository"
	"github.com/bianutri/backend/internal/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

type testAPI struct {
	t      *testing.T
	store  *repository.SQLiteStore
	router http.Handler
	auth   *service.AuthService
	cfg    domain.TrialConfig
}

func newTestAPI(t *testing.T, cfg domain.TrialConfig) *testAPI {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	auth := service.NewAuthService(testSecret)
	trials := service.NewTrialService(store, cfg, zerolog.Nop())
	svc := NewServices(store, store, auth, trials, zerolog.Nop())
	t.Cleanup(svc.Close)

	opts := DefaultOptions([]string{"*"})
	opts.GlobalRPS, opts.TrialRPS = 0, 0

	return &testAPI{
		t:      t,
		store:  store,
		router: NewRouter(svc, opts, zerolog.Nop()),
		auth:   auth,
		cfg:    cfg,
	}
}

func defaultTrialConfig() domain.TrialConfig {
	return domain.TrialConfig{
		LimitSeconds:        60,
		Minutes:             1,
		HeartbeatSeconds:    15,
		MaxIncrementSeconds: 300,
	}
}

func (a *testAPI) token(userID string) string {
	tok, err := a.auth.IssueToken(userID, userID+"@example.com", time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *testAPI) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(userID))
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

// onboard registers a phone for userID and starts the trial.
func (a *testAPI) onboard(userID, phone string) {
	a.t.Helper()
	rr := a.do(http.MethodPut, "/api/profile/phone", userID, map[string]string{"phone": phone})
	require.Equal(a.t, http.StatusOK, rr.Code, rr.Body.String())
	rr = a.do(http.MethodPost, "/api/trial/start", userID, nil)
	require.Equal(a.t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestHealthAndPublicRoutes(t *testing.T) {
	api := newTestAPI(t, defaultTrialConfig())

	rr := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["database"])

	rr = api.do(http.MethodGet, "/api/plans", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var plans []domain.Plan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &plans))
	assert.Len(t, plans, 3)

	rr = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t, defaultTrialConfig())

	for _, path := range []string{"/api/profile", "/api/access", "/api/subscription"} {
		rr := api.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr := api.do(http.MethodPost, "/api/trial/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTrialConfigMatchesEnforcedLimit(t *testing.T) {
	cfg := defaultTrialConfig()
	cfg.LimitSeconds = 45
	api := newTestAPI(t, cfg)

	rr := api.do(http.MethodGet, "/api/trial/config", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var served domain.TrialConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &served))
	assert.Equal(t, 45, served.LimitSeconds)

	api.onboard("user-1", "11999990000")
	rr = api.do(http.MethodPost, "/api/trial/increment", "user-1", map[string]int{"seconds": 300})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp domain.IncrementTrialResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, served.LimitSeconds, resp.SecondsUsed, "served limit is the enforced limit")
	assert.True(t, resp.Exhausted)
}

func TestTrialLifecycle(t *testing.T) {
	api := newTestAPI(t, defaultTrialConfig())

	rr := api.do(http.MethodGet, "/api/profile", "user-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "phone_required", decodeBody(t, rr)["trial_status"])

	rr = api.do(http.MethodGet, "/api/access", "user-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "phone_required", decodeBody(t, rr)["status"])

	rr = api.do(http.MethodPost, "/api/trial/start", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "phone_required", decodeBody(t, rr)["error"])

	api.onboard("user-1", "(11) 99999-0000")

	rr = api.do(http.MethodPost, "/api/trial/increment", "user-1", map[string]int{"seconds": 30})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, float64(30), body["trial_seconds_used"])
	assert.Nil(t, body["trial_used_at"])

	rr = api.do(http.MethodGet, "/api/access", "user-1", nil)
	assert.Equal(t, "allowed", decodeBody(t, rr)["status"])

	rr = api.do(http.MethodPost, "/api/trial/increment", "user-1", map[string]int{"seconds": 30})
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, float64(60), body["trial_seconds_used"])
	assert.NotNil(t, body["trial_used_at"])
	assert.Equal(t, true, body["exhausted"])

	rr = api.do(http.MethodGet, "/api/access", "user-1", nil)
	assert.Equal(t, "paywall", decodeBody(t, rr)["status"])

	rr = api.do(http.MethodPost, "/api/trial/start", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, "trial_already_used", body["error"])
	assert.Equal(t, float64(60), body["trial_seconds_used"])
	assert.NotNil(t, body["trial_used_at"])
}

func TestTrialErrors(t *testing.T) {
	api := newTestAPI(t, defaultTrialConfig())
	rr := api.do(http.MethodPut, "/api/profile/phone", "user-1", map[string]string{"phone": "11999990000"})
	require.Equal(t, http.StatusOK, rr.Code)

	t.Run("increment before start", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/trial/increment", "user-1", map[string]int{"seconds": 400})
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "trial_not_started", decodeBody(t, rr)["error"])
	})

	t.Run("zero seconds", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/trial/increment", "user-1", map[string]int{"seconds": 0})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, "invalid_seconds", body["error"])
		assert.Equal(t, "seconds must be between 1 and 300", body["message"])
	})

	t.Run("acting on another user", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/trial/start", "user-1", map[string]string{"user_id": "user-2"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "forbidden", decodeBody(t, rr)["error"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/trial/increment", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+api.token("user-1"))
		rr := httptest.NewRecorder()
		api.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid phone", func(t *testing.T) {
		rr := api.do(http.MethodPut, "/api/profile/phone", "user-3", map[string]string{"phone": "0000000000000"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "invalid_phone", decodeBody(t, rr)["error"])
	})
}

func TestTrialActionEndpoint(t *testing.T) {
	api := newTestAPI(t, defaultTrialConfig())
	rr := api.do(http.MethodPut, "/api/profile/phone", "user-1", map[string]string{"phone": "11999990000"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(http.MethodPost, "/api/trial", "user-1", map[string]string{"action": "start", "user_id": "user-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, decodeBody(t, rr)["trial_started_at"])

	rr = api.do(http.MethodPost, "/api/trial", "user-1", map[string]interface{}{"action": "increment", "seconds": 15})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(15), decodeBody(t, rr)["trial_seconds_used"])

	rr = api.do(http.MethodPost, "/api/trial", "user-1", map[string]string{"action": "reset"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid action", decodeBody(t, rr)["error"])

	rr = api.do(http.MethodGet, "/api/trial", "user-1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPhoneDedupAcrossAccounts(t *testing.T) {
	api := newTestAPI(t, defaultTrialConfig())

	rr := api.do(http.MethodPost, "/api/phone/check", "", map[string]string{"phone": "11999990000"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["available"])

	// B registers the same phone before A exhausts it.
	rr = api.do(http.MethodPut, "/api/profile/phone", "user-b", map[string]string{"phone": "11999990000"})
	require.Equal(t, http.StatusOK, rr.Code)

	api.onboard("user-a", "11999990000")
	rr = api.do(http.MethodPost, "/api/trial/increment", "user-a", map[string]int{"seconds": 60})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(http.MethodPost, "/api/trial/start", "user-b", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "phone_already_used", decodeBody(t, rr)["error"])

	rr = api.do(http.MethodPut, "/api/profile/phone", "user-c", map[string]string{"phone": "+55 11 99999-0000"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "phone_already_used", decodeBody(t, rr)["error"])

	rr = api.do(http.MethodPost, "/api/phone/check", "", map[string]string{"phone": "11999990000"})
	assert.Equal(t, false, decodeBody(t, rr)["available"])
}

func TestSubscriptionGrantsAccess(t *testing.T) {
	api := newTestAPI(t, defaultTrialConfig())

	rr := api.do(http.MethodGet, "/api/subscription", "user-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "none", decodeBody(t, rr)["status"])

	err := api.store.UpsertSubscription(context.Background(), &domain.Subscription{
		UserID:     "user-1",
		PlanID:     "monthly",
		Status:     domain.SubscriptionStatusActive,
		ValidUntil: time.Now().Add(30 * 24 * time.Hour),
		UpdatedAt:  time.Now(),
	})
	require.NoError(t, err)

	rr = api.do(http.MethodGet, "/api/access", "user-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "allowed", body["status"])
	assert.Equal(t, true, body["subscription_active"])

	rr = api.do(http.MethodGet, "/api/subscription", "user-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, "monthly", body["plan_id"])
	assert.Equal(t, true, body["active"])
}

func TestCloseStopsRateLimiters(t *testing.T) {
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "limits.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	auth := service.NewAuthService(testSecret)
	trials := service.NewTrialService(store, defaultTrialConfig(), zerolog.Nop())
	svc := NewServices(store, store, auth, trials, zerolog.Nop())
	NewRouter(svc, DefaultOptions([]string{"*"}), zerolog.Nop())

	limiters := svc.limiters
	require.Len(t, limiters, 2)

	svc.Close()
	svc.Close()
	for _, rl := range limiters {
		select {
		case <-rl.Done():
		default:
			t.Fatal("limiter cleanup is still running")
		}
	}
	assert.Empty(t, svc.limiters)
}
