package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/service"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(origins []string) *gin.Engine {
	cfg := &config.Config{
		GinMode:        gin.TestMode,
		JWTSecret:      "test-secret",
		JWTExpiry:      time.Hour,
		AllowedOrigins: origins,
	}
	// Handlers are never reached by these requests.
	return SetupRouter(service.NewAuthService(cfg), nil, &Handlers{}, cfg)
}

func TestHealthCarriesRequestID(t *testing.T) {
	r := newTestRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "probe-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "probe-1", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter([]string{"https://portal.school.test"})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://portal.school.test", true},
		{"https://evil.test", false},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/staff/exams", nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		r.ServeHTTP(w, req)

		if tt.allowed {
			assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"), tt.origin)
		} else {
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), tt.origin)
		}
	}
}

func TestProtectedGroupsRequireToken(t *testing.T) {
	r := newTestRouter(nil)

	for _, path := range []string{
		"/api/v1/staff/exams",
		"/api/v1/student/exams/9b2e7c1e-4f7a-4d36-9a59-1a3f0c0b6c11/state",
		"/ws/v1/student/exams/9b2e7c1e-4f7a-4d36-9a59-1a3f0c0b6c11/stream",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Contains(t, w.Body.String(), "TOKEN_REQUIRED", path)
	}
}
