package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/health"
	"github.com/hydrogen-services/hydrogen/internal/pool"
	"github.com/hydrogen-services/hydrogen/internal/router"
)

func testConfig() *config.Config {
	return &config.Config{
		Defaults: config.PoolDefaults{
			MinConnections: 2,
			MaxConnections: 20,
		},
		Databases: map[string]config.DatabaseConfig{
			"db_1": {
				Type:     "postgresql",
				Host:     "localhost",
				Port:     5432,
				DBName:   "db1",
				Username: "user1",
				Password: "secret123",
				Enabled:  true,
			},
		},
	}
}

func newTestServer() (*Server, *mux.Router) {
	cfg := testConfig()

	r := router.New(cfg)
	pm := pool.NewManager(cfg.Defaults)
	hc := health.NewChecker(r, nil, nil, config.HealthCheckConfig{
		Interval: time.Minute, FailureThreshold: 3, ConnectionTimeout: time.Second,
	})

	s := NewServer(r, pm, hc, nil, nil, config.ListenConfig{})

	mr := mux.NewRouter()
	mr.HandleFunc("/databases", s.listDatabases).Methods("GET")
	mr.HandleFunc("/databases/{name}", s.getDatabase).Methods("GET")
	mr.HandleFunc("/databases/{name}/drain", s.drainDatabase).Methods("POST")
	mr.HandleFunc("/databases/{name}/disable", s.disableDatabase).Methods("POST")
	mr.HandleFunc("/databases/{name}/enable", s.enableDatabase).Methods("POST")
	mr.HandleFunc("/health", s.healthHandler).Methods("GET")
	mr.HandleFunc("/ready", s.readyHandler).Methods("GET")
	mr.HandleFunc("/api/auth/login", s.loginHandler).Methods("POST")

	return s, mr
}

func TestListDatabases(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/databases", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var result []databaseResponse
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(result) != 1 {
		t.Errorf("expected 1 database, got %d", len(result))
	}
}

func TestGetDatabase(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/databases/db_1", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var result databaseResponse
	json.NewDecoder(rr.Body).Decode(&result)
	if result.Name != "db_1" {
		t.Errorf("expected db_1, got %s", result.Name)
	}
}

func TestGetDatabaseNotFound(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/databases/nonexistent", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestDisableEnableDatabase(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("POST", "/databases/db_1/disable", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest("POST", "/databases/db_1/enable", nil)
	rr = httptest.NewRecorder()
	mr.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDisableDatabaseNotFound(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("POST", "/databases/nonexistent/disable", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/ready", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	// With databases but no health checks yet, all are "unknown" which counts as healthy.
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginHandlerNoAuthService(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with no auth service configured, got %d", rr.Code)
	}
}

// --- Security Tests ---

func newTestServerWithAuth(apiKey string) (*Server, http.Handler) {
	cfg := testConfig()

	r := router.New(cfg)
	pm := pool.NewManager(cfg.Defaults)
	hc := health.NewChecker(r, nil, nil, config.HealthCheckConfig{
		Interval: time.Minute, FailureThreshold: 3, ConnectionTimeout: time.Second,
	})

	lc := config.ListenConfig{APIKey: apiKey}
	s := NewServer(r, pm, hc, nil, nil, lc)

	mr := mux.NewRouter()
	mr.HandleFunc("/databases", s.listDatabases).Methods("GET")
	mr.HandleFunc("/databases/{name}", s.getDatabase).Methods("GET")
	mr.HandleFunc("/health", s.healthHandler).Methods("GET")
	mr.HandleFunc("/ready", s.readyHandler).Methods("GET")
	mr.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	handler := s.bodyLimitMiddleware(s.authMiddleware(mr))
	return s, handler
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, handler := newTestServerWithAuth("test-secret-key")

	req := httptest.NewRequest("GET", "/databases", nil)
	req.Header.Set("Authorization", "Bearer test-secret-key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, handler := newTestServerWithAuth("test-secret-key")

	req := httptest.NewRequest("GET", "/databases", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with missing token, got %d", rr.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	_, handler := newTestServerWithAuth("test-secret-key")

	req := httptest.NewRequest("GET", "/databases", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid token, got %d", rr.Code)
	}
}

func TestAuthMiddleware_HealthExemptFromAuth(t *testing.T) {
	_, handler := newTestServerWithAuth("test-secret-key")

	// Health, ready, and metrics endpoints should not require auth.
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code == http.StatusUnauthorized {
			t.Errorf("%s should not require auth, got 401", path)
		}
	}
}

func TestAuthMiddleware_NoKeyConfigured(t *testing.T) {
	_, handler := newTestServerWithAuth("")

	req := httptest.NewRequest("GET", "/databases", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 when no API key configured, got %d", rr.Code)
	}
}

func TestPasswordRedaction_ListDatabases(t *testing.T) {
	_, handler := newTestServerWithAuth("")

	req := httptest.NewRequest("GET", "/databases", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	if strings.Contains(body, "secret123") {
		t.Error("response should not contain plaintext password")
	}
	if !strings.Contains(body, passwordRedacted) {
		t.Error("response should contain redacted password marker")
	}
}

func TestPasswordRedaction_GetDatabase(t *testing.T) {
	_, handler := newTestServerWithAuth("")

	req := httptest.NewRequest("GET", "/databases/db_1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	if strings.Contains(body, "secret123") {
		t.Error("response should not contain plaintext password")
	}
	if !strings.Contains(body, passwordRedacted) {
		t.Error("response should contain redacted password marker")
	}
}

func TestRequestBodySizeLimit(t *testing.T) {
	_, mr := newTestServer()
	handler := (&Server{}).bodyLimitMiddleware(mr)

	bigBody := strings.Repeat("a", 2*1024*1024)
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(bigBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable && rr.Code != http.StatusBadRequest {
		t.Errorf("expected oversized body to be rejected, got %d", rr.Code)
	}
}
