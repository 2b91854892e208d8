package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sapphybara/change-and-charm-api/config"
	"github.com/sapphybara/change-and-charm-api/internal/ratelimit"
	"github.com/sapphybara/change-and-charm-api/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		Env: config.EnvTest,
		Auth: config.AuthConfig{
			JWTSecret:       "server-test-secret-0123456789abcdef",
			TokenTTL:        time.Hour,
			CookieTTL:       time.Hour,
			ResetTokenTTL:   10 * time.Minute,
			BcryptCost:      4,
			CookieName:      "jwt",
			ResetPathPrefix: "/api/users/resetPassword/",
		},
		Storage:   config.StorageConfig{MaxPhotoSize: 1 << 20},
		RateLimit: config.RateLimitConfig{Max: 2, Window: time.Hour},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()

	dbConn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbConn.Close() })

	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)

	deps := newDeps(cfg, dbConn, nil, nil)
	deps.Limiter = ratelimit.New(ratelimit.NewMemoryStore(), cfg.RateLimit.Max, cfg.RateLimit.Window)
	deps.Metrics = metrics
	return NewRouter(cfg, deps), mock
}

func serve(router http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	rec := serve(router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	for _, target := range []string{"/nowhere", "/api/nowhere"} {
		t.Run(target, func(t *testing.T) {
			rec := serve(router, http.MethodGet, target)
			require.Equal(t, http.StatusNotFound, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "fail", body["status"])
			assert.Equal(t, "Cannot find "+target+" on the server", body["message"])
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	rec := serve(router, http.MethodGet, "/healthz")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRateLimitAppliesToAPI(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	for range 2 {
		rec := serve(router, http.MethodGet, "/api/nowhere")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("RateLimit-Limit"))
	}

	rec := serve(router, http.MethodGet, "/api/nowhere")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), ratelimit.DefaultMessage)

	// probes stay outside the limited prefix
	rec = serve(router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	serve(router, http.MethodGet, "/healthz")
	rec := serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}

func TestProtectedRouteRequiresSession(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	rec := serve(router, http.MethodGet, "/api/users/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "You are not logged in")
}
