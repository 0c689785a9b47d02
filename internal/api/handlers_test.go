package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Harvey-AU/ad-metrics-sync/internal/auth"
	"github.com/Harvey-AU/ad-metrics-sync/internal/mocks"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret-with-enough-bytes"

type testDeps struct {
	db        *mocks.MockDB
	scheduler *mocks.MockScheduler
	tokens    *mocks.MockTokenManager
	googleAds *mocks.MockConnectionTester
}

func newTestHandler(t *testing.T) (*Handler, *testDeps) {
	t.Helper()

	validator, err := auth.New(context.Background(), auth.Config{Secret: testSecret})
	require.NoError(t, err)

	deps := &testDeps{
		db:        new(mocks.MockDB),
		scheduler: new(mocks.MockScheduler),
		tokens:    new(mocks.MockTokenManager),
		googleAds: new(mocks.MockConnectionTester),
	}
	h := NewHandler(deps.db, deps.scheduler, deps.tokens, deps.googleAds, validator)
	h.now = func() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.Local) }

	t.Cleanup(func() {
		deps.db.AssertExpectations(t)
		deps.scheduler.AssertExpectations(t)
		deps.tokens.AssertExpectations(t)
		deps.googleAds.AssertExpectations(t)
	})
	return h, deps
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

// serve routes a request through the real mux
func serve(h *Handler, method, target, body, authorization string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHome(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "Ad metrics sync is running!", rec.Body.String())

	rec = serve(h, http.MethodPost, "/", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatus(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "System running", body["message"])
	assert.Equal(t, "2026-10-19 08:30:00", body["time"])
}

func TestTestDB(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		h, deps := newTestHandler(t)
		deps.db.On("TestConnection", mock.Anything).Return("ok", nil)

		rec := serve(h, http.MethodGet, "/test-db", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Database connected (ok)!", rec.Body.String())
	})

	t.Run("failure", func(t *testing.T) {
		h, deps := newTestHandler(t)
		deps.db.On("TestConnection", mock.Anything).Return("", errors.New("connection refused"))

		rec := serve(h, http.MethodGet, "/test-db", "", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ad-metrics-sync", body["service"])
	assert.Equal(t, Version, body["version"])
}

func TestDatabaseHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{name: "healthy", wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "unhealthy", pingErr: errors.New("ping failed"), wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlDB, sqlMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer sqlDB.Close()

			ping := sqlMock.ExpectPing()
			if tt.pingErr != nil {
				ping.WillReturnError(tt.pingErr)
			}

			h, deps := newTestHandler(t)
			deps.db.On("GetDB").Return(sqlDB)

			rec := serve(h, http.MethodGet, "/health/db", "", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, decodeBody(t, rec)["status"])
			assert.NoError(t, sqlMock.ExpectationsWereMet())
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestNilDependenciesAnswer503(t *testing.T) {
	h := NewHandler(new(mocks.MockDB), nil, nil, nil, nil)

	for _, target := range []string{"/v1/sync/status", "/v1/meta/token", "/v1/connections/google-ads"} {
		rec := serve(h, http.MethodGet, target, "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestNewRouterAppliesMiddleware(t *testing.T) {
	h, _ := newTestHandler(t)
	router := NewRouter(h, NewRateLimiter(1, 1), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:5555"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
