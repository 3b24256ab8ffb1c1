package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydrogen-services/hydrogen/internal/auth"
	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/health"
	"github.com/hydrogen-services/hydrogen/internal/herr"
	"github.com/hydrogen-services/hydrogen/internal/metrics"
	"github.com/hydrogen-services/hydrogen/internal/pool"
	"github.com/hydrogen-services/hydrogen/internal/router"
)

// maxRequestBody caps the size of any request body this server reads, so a
// slow or hostile client can't exhaust memory decoding JSON.
const maxRequestBody = 1 << 20 // 1MiB

// passwordRedacted is what every database descriptor's password field shows
// in an API response, never the real value.
const passwordRedacted = "***REDACTED***"

// Server is Hydrogen's admin/introspection REST API plus the Auth Service's
// four HTTP endpoints (spec.md §6). It never touches SQL itself; every
// handler delegates to the router, pool manager, health checker, or auth
// service it was built with.
type Server struct {
	router      *router.Router
	poolMgr     *pool.Manager
	healthCheck *health.Checker
	metrics     *metrics.Collector
	authSvc     *auth.Service
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
}

// NewServer creates a new API server. authSvc may be nil when no database in
// the registry has been designated to back the Auth Service; the four
// /api/auth/* routes then always answer 503.
func NewServer(r *router.Router, pm *pool.Manager, hc *health.Checker, m *metrics.Collector, authSvc *auth.Service, lc config.ListenConfig) *Server {
	return &Server{
		router:      r,
		poolMgr:     pm,
		healthCheck: hc,
		metrics:     m,
		authSvc:     authSvc,
		startTime:   time.Now(),
		listenCfg:   lc,
	}
}

// Start starts the HTTP API server.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	// Auth Service endpoints (spec.md §6).
	r.HandleFunc("/api/auth/login", s.loginHandler).Methods("POST")
	r.HandleFunc("/api/auth/register", s.registerHandler).Methods("POST")
	r.HandleFunc("/api/auth/renew", s.renewHandler).Methods("POST")
	r.HandleFunc("/api/auth/logout", s.logoutHandler).Methods("POST")

	// Database registry admin/introspection.
	r.HandleFunc("/databases", s.listDatabases).Methods("GET")
	r.HandleFunc("/databases/{name}", s.getDatabase).Methods("GET")
	r.HandleFunc("/databases/{name}/drain", s.drainDatabase).Methods("POST")
	r.HandleFunc("/databases/{name}/disable", s.disableDatabase).Methods("POST")
	r.HandleFunc("/databases/{name}/enable", s.enableDatabase).Methods("POST")

	// Server status & config
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/config", s.configHandler).Methods("GET")

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.listenCfg.APIBind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.bodyLimitMiddleware(s.authMiddleware(r)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] REST API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Middleware ---

// authMiddleware enforces the configured bearer API key on every route
// except health, readiness, and metrics, which monitoring systems must be
// able to reach without a credential. No key configured means no auth check.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if s.listenCfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != s.listenCfg.APIKey {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bodyLimitMiddleware caps every request body at maxRequestBody.
func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

// --- Auth Service Handlers ---

type loginBody struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
	Timezone string `json:"timezone"`
	Database string `json:"database"`
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if s.authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service not configured")
		return
	}

	var body loginBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.authSvc.Login(r.Context(), auth.LoginRequest{
		LoginID:   body.LoginID,
		Password:  body.Password,
		APIKey:    body.APIKey,
		Timezone:  body.Timezone,
		Database:  body.Database,
		ClientIP:  clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.AuthRejected(body.Database, herr.KindOf(err).String())
		}
		writeHerr(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.AuthTokenIssued(body.Database, "login")
	}
	writeJSON(w, http.StatusOK, result)
}

type registerBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	APIKey   string `json:"api_key"`
	Database string `json:"database"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if s.authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service not configured")
		return
	}

	var body registerBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.authSvc.Register(r.Context(), auth.RegisterRequest{
		Username: body.Username,
		Password: body.Password,
		Email:    body.Email,
		FullName: body.FullName,
		APIKey:   body.APIKey,
		Database: body.Database,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.AuthRejected(body.Database, herr.KindOf(err).String())
		}
		writeHerr(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.AuthTokenIssued(body.Database, "register")
	}
	writeJSON(w, http.StatusCreated, result)
}

type renewBody struct {
	Database string `json:"database"`
}

func (s *Server) renewHandler(w http.ResponseWriter, r *http.Request) {
	if s.authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service not configured")
		return
	}

	var body renewBody
	// A renew body is optional: database, when omitted, is taken from the
	// token's own claims.
	_ = decodeJSON(w, r, &body)

	token := r.Header.Get("Authorization")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authorization header required")
		return
	}

	result, err := s.authSvc.Renew(r.Context(), token, body.Database)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AuthRejected(body.Database, herr.KindOf(err).String())
		}
		writeHerr(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.AuthTokenIssued(body.Database, "renew")
		s.metrics.AuthTokenRevoked(body.Database, "renew_superseded")
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if s.authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service not configured")
		return
	}

	token := r.Header.Get("Authorization")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authorization header required")
		return
	}

	if err := s.authSvc.Logout(r.Context(), token); err != nil {
		writeHerr(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.AuthTokenRevoked("", "logout")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// --- Database registry handlers ---

type databaseResponse struct {
	Name     string             `json:"name"`
	Config   config.DatabaseConfig `json:"config"`
	Stats    *pool.Stats        `json:"stats,omitempty"`
	Health   *health.DatabaseHealth `json:"health,omitempty"`
	Disabled bool               `json:"disabled"`
}

func redactedConfig(dc config.DatabaseConfig) config.DatabaseConfig {
	dc.Password = passwordRedacted
	return dc
}

func (s *Server) databaseResponseFor(name string, dc config.DatabaseConfig) databaseResponse {
	dr := databaseResponse{
		Name:     name,
		Config:   redactedConfig(dc),
		Disabled: s.router.IsDisabled(name),
	}
	if stats, ok := s.poolMgr.DatabaseStats(name); ok {
		dr.Stats = &stats
	}
	if s.healthCheck != nil {
		h := s.healthCheck.GetStatus(name)
		dr.Health = &h
	}
	return dr
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	databases := s.router.ListDatabases()

	result := make([]databaseResponse, 0, len(databases))
	for name, dc := range databases {
		result = append(result, s.databaseResponseFor(name, dc))
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	dc, err := s.router.Resolve(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "database not found")
		return
	}

	writeJSON(w, http.StatusOK, s.databaseResponseFor(name, dc))
}

func (s *Server) drainDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !s.poolMgr.DrainDatabase(name) {
		writeError(w, http.StatusNotFound, "database not found or no active pool")
		return
	}

	log.Printf("[api] database %s drained", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "drained", "database": name})
}

func (s *Server) disableDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !s.router.DisableDatabase(name) {
		writeError(w, http.StatusNotFound, "database not found")
		return
	}

	log.Printf("[api] database %s disabled", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled", "database": name})
}

func (s *Server) enableDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !s.router.EnableDatabase(name) {
		writeError(w, http.StatusNotFound, "database not found")
		return
	}

	log.Printf("[api] database %s enabled", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled", "database": name})
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":    boolToStatus(allHealthy),
		"databases": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	// Ready if at least one database is healthy, or none are registered yet.
	databases := s.router.ListDatabases()
	if len(databases) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for name := range databases {
		if s.healthCheck.IsHealthy(name) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status & Config Handlers ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()
	databases := s.router.ListDatabases()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":  int(uptime),
		"go_version":      runtime.Version(),
		"goroutines":      runtime.NumGoroutine(),
		"memory_mb":       float64(mem.Alloc) / 1024 / 1024,
		"num_databases":   len(databases),
		"api_port":        s.listenCfg.APIPort,
		"auth_configured": s.authSvc != nil,
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	defaults := s.router.Defaults()
	databases := s.router.ListDatabases()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api_port": s.listenCfg.APIPort,
		"defaults": map[string]interface{}{
			"min_connections": defaults.MinConnections,
			"max_connections": defaults.MaxConnections,
			"idle_timeout":    defaults.IdleTimeout.String(),
			"max_lifetime":    defaults.MaxLifetime.String(),
			"acquire_timeout": defaults.AcquireTimeout.String(),
		},
		"database_count": len(databases),
	})
}

// --- Helpers ---

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// writeHerr maps a herr.Error to its HTTP status, including the
// retry_after hint rate-limited responses carry (spec.md §6:
// "{ success:false, error, retry_after? }").
func writeHerr(w http.ResponseWriter, err error) {
	var herrErr *herr.Error
	if errors.As(err, &herrErr) {
		body := map[string]interface{}{"success": false, "error": herrErr.Message, "kind": herrErr.Kind.String()}
		if herrErr.RetryAfter > 0 {
			body["retry_after"] = herrErr.RetryAfter
		}
		writeJSON(w, herrErr.Kind.HTTPStatus(), body)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
