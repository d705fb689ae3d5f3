package backend_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relabs-tech/kumii/core/backend"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})

	for _, path := range []string{"/health", "/api/health"} {
		var health struct {
			Status      string `json:"status"`
			Environment string `json:"environment"`
			Database    string `json:"database"`
		}
		res, err := ts.client.Get(path, &health)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "development", health.Environment)
		assert.Equal(t, "connected", health.Database)
	}

	ts.store.pingErr = errors.New("connection refused")
	res, err := ts.client.Get("/health", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	assert.Contains(t, string(res.Data), `"unhealthy"`)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})

	res, err := ts.client.Get("/nothing/here", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, "Resource not found", res.Error)

	res, _ = ts.as(ts.user).Get("/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, "Resource not found", res.Error)

	res, _ = ts.as(ts.user).Put("/api/chat/conversations", map[string]string{}, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, res.Status)
	assert.Equal(t, "Method not allowed", res.Error)
}

// TestVersion verifies that the /api/version endpoint works
func TestVersion(t *testing.T) {
	ts := newTestService(t, backend.Configuration{Environment: "test"})
	var version struct {
		Version     string `json:"version"`
		Environment string `json:"environment"`
	}
	_, err := ts.as(ts.user).Get("/api/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "unset", version.Version)
	assert.Equal(t, "test", version.Environment)

	backend.Version = "another version"
	defer func() { backend.Version = "unset" }()
	_, err = ts.as(ts.user).Get("/api/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "another version", version.Version)
}

func TestAuthorizationRoute(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	var auth struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	_, err := ts.as(ts.moderator).Get("/api/authorization", &auth)
	require.NoError(t, err)
	assert.Equal(t, ts.moderator.UserID.String(), auth.ID)
	assert.Equal(t, "moderator", auth.Role)
}

func TestAuthentication(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	h := ts.backend.Handler()

	serve := func(token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := serve("")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Missing or invalid authorization header")

	w = serve("forged")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid or expired token")

	w = serve("user-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ts.user.Email)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestService(t, backend.Configuration{Environment: "production", CORSOrigins: []string{"https://app.kumii.test"}})
	h := ts.backend.Handler()

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "https://app.kumii.test")
	r.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "https://app.kumii.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	ts := newTestService(t, backend.Configuration{Environment: "production", RateLimitMax: 2})
	h := ts.backend.Handler()

	serve := func(path string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Authorization", "Bearer user-token")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, serve("/api/version"))
	assert.Equal(t, http.StatusOK, serve("/api/version"))
	assert.Equal(t, http.StatusTooManyRequests, serve("/api/version"))

	// health is exempt
	assert.Equal(t, http.StatusOK, serve("/api/health"))
	assert.Equal(t, http.StatusOK, serve("/health"))
}

func TestRecovery(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	ts.backend.Router().HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})
	h := ts.backend.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
	assert.Contains(t, w.Body.String(), "kaboom")
}

func TestBodyLimit(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	h := ts.backend.Handler()
	conversation := ts.directConversation(t)

	body := `{"content":"` + strings.Repeat("a", 11*1024*1024) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/api/chat/conversations/"+conversation+"/messages", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer user-token")
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMetrics(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	_, err := ts.as(ts.user).Get("/api/version", nil)
	require.NoError(t, err)

	res, err := ts.client.Get("/metrics", nil)
	require.NoError(t, err)
	assert.Contains(t, string(res.Body), `kumii_http_requests_total{method="GET",route="/api/version",status="200"} 1`)
}

func TestStatistics(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})

	res, _ := ts.as(ts.moderator).Get("/api/admin/statistics", nil)
	assert.Equal(t, http.StatusForbidden, res.Status)

	var stats struct {
		Tables []struct {
			Table string `json:"table"`
			Count int64  `json:"count"`
		} `json:"tables"`
	}
	res, err := ts.as(ts.admin).Get("/api/admin/statistics", &stats)
	require.NoError(t, err)
	require.Len(t, stats.Tables, 1)
	assert.Equal(t, int64(4), stats.Tables[0].Count)

	etag := res.Header.Get("ETag")
	require.NotEmpty(t, etag)
	res, _ = ts.as(ts.admin).WithHeader("If-None-Match", etag).Get("/api/admin/statistics", nil)
	assert.Equal(t, http.StatusNotModified, res.Status)
}

func TestJobHealthWithoutQueue(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})

	res, _ := ts.as(ts.user).Get("/api/health/jobs", nil)
	assert.Equal(t, http.StatusForbidden, res.Status)

	var health struct {
		Jobs struct {
			Failed int64 `json:"failed"`
		} `json:"jobs"`
	}
	_, err := ts.as(ts.admin).Get("/api/health/jobs?details=true", &health)
	require.NoError(t, err)
	assert.Equal(t, int64(0), health.Jobs.Failed)

	var purged struct {
		Purged int64 `json:"purged"`
	}
	_, err = ts.as(ts.admin).Delete("/api/health/jobs", &purged)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged.Purged)

	res, _ = ts.as(ts.admin).Get("/api/health/jobs?details=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, []envelope.FieldError{{Field: "details", Message: `Expected boolean, received "maybe"`}}, res.Details)
}

func TestInvalidPathAndQuery(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})

	res, _ := ts.as(ts.user).Get("/api/chat/conversations/not-a-uuid/messages", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "Invalid URL parameters", res.Error)
	assert.Equal(t, []envelope.FieldError{{Field: "id", Message: "Invalid uuid"}}, res.Details)

	res, _ = ts.as(ts.user).Get("/api/notifications?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "Invalid query parameters", res.Error)
	assert.Equal(t, []envelope.FieldError{{Field: "limit", Message: `Expected integer, received "abc"`}}, res.Details)

	res, _ = ts.as(ts.user).Get("/api/notifications?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, []envelope.FieldError{{Field: "limit", Message: "Must be less than or equal to 100"}}, res.Details)
}

func TestInvalidBody(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})

	res, _ := ts.as(ts.user).Post("/api/moderation/reports", []byte(`{"reportType":`), nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "Validation failed", res.Error)
	assert.Equal(t, "Invalid JSON", res.Details[0].Message)

	res, _ = ts.as(ts.user).Post("/api/moderation/reports", map[string]string{"reportType": "spam", "reason": "short"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "Validation failed", res.Error)
	assert.GreaterOrEqual(t, len(res.Details), 2)
}

func TestRequestWithoutBody(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	n := ts.store.addNotification(ts.user.UserID, "thabo mentioned you")
	h := ts.backend.Handler()

	r, err := http.NewRequest(http.MethodPatch, "/api/notifications/"+n.ID.String()+"/read", nil)
	require.NoError(t, err)
	require.Nil(t, r.Body)
	r.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.store.notifications[n.ID].Read)
}

func TestQueryDefaultsAndConversion(t *testing.T) {
	ts := newTestService(t, backend.Configuration{})
	board := ts.store.addBoard(nil)
	ts.thread(t, board.ID)

	// empty values fall back to the defaults
	res, err := ts.as(ts.user).Get("/api/forum/threads?limit=&offset=&sort=&unknown=1", nil)
	require.NoError(t, err)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, 20, res.Pagination.Limit)
	assert.Equal(t, 0, res.Pagination.Offset)

	res, _ = ts.as(ts.user).Get("/api/forum/threads?offset=x&limit=1.5", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, []envelope.FieldError{
		{Field: "limit", Message: `Expected integer, received "1.5"`},
		{Field: "offset", Message: `Expected integer, received "x"`},
	}, res.Details)

	res, _ = ts.as(ts.user).Get("/api/notifications?unread_only=yes", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, []envelope.FieldError{{Field: "unread_only", Message: `Expected boolean, received "yes"`}}, res.Details)
}
