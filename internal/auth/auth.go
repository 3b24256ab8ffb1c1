// Package auth implements the Auth Service (spec.md §4.6): login, register,
// renew, and logout, backed by JWTs from internal/crypto and persistence
// through internal/dqm rather than a direct database/sql connection — every
// lookup Auth makes is itself a query submitted through the same Database
// Queue Manager the rest of Hydrogen uses.
package auth

import (
	"context"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/dqm"
	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// Status bits on accounts.status_bits (spec.md §3 schema sketch names the
// column but not its bit layout; these two are the ones login checks).
const (
	StatusEnabled    = 1 << 0
	StatusAuthorized = 1 << 1
)

// Service is one Auth Service instance, bound to the database its
// accounts/sessions/rate-limit tables live in.
type Service struct {
	dqm      *dqm.Manager
	adapter  engine.Adapter
	database string
	cfg      config.AuthConfig
	now      func() time.Time
}

// NewService builds a Service. m is the DQM for the database holding the
// accounts/jwt_store/login_attempts/ip_lists/api_keys tables; adapter is the
// same dialect adapter m's pool was built with, needed for the one
// privileged transactional path (Renew's delete-old/insert-new swap) that
// bypasses queue scheduling the way the migration engine's Lead path does.
func NewService(m *dqm.Manager, adapter engine.Adapter, database string, cfg config.AuthConfig) *Service {
	return &Service{dqm: m, adapter: adapter, database: database, cfg: cfg, now: time.Now}
}

func (s *Service) jwtLifetime() time.Duration {
	return time.Duration(s.cfg.JWTLifetimeSeconds) * time.Second
}

func (s *Service) rateLimitWindow() time.Duration {
	return time.Duration(s.cfg.RateLimitWindow) * time.Second
}

// query is a small convenience wrapper over dqm.Manager.Execute for the
// literal, app-issued SQL Auth runs — never a query_ref lookup, since these
// statements are Auth's own private schema, not QTC-cached conduit queries.
func (s *Service) query(ctx context.Context, sqlText string, params []engine.Param) ([]engine.Row, *engine.Result, error) {
	req := dqm.NewRequest(nil, sqlText, params, 5000, dqm.TagFast)
	res, err := s.dqm.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !res.Success {
		return nil, nil, res.Err
	}
	return res.Rows, &engine.Result{RowsAffected: res.AffectedRows}, nil
}

func strParam(name, value string) engine.Param {
	return engine.Param{Name: name, Kind: engine.KindString, Value: value}
}

func intParam(name string, value int64) engine.Param {
	return engine.Param{Name: name, Kind: engine.KindInteger, Value: value}
}

func timeParam(name string, value time.Time) engine.Param {
	return engine.Param{Name: name, Kind: engine.KindString, Value: value.UTC().Format("2006-01-02 15:04:05")}
}

func stringColumn(row engine.Row, col string) string {
	v, _ := row[col].(string)
	return v
}

func int64Column(row engine.Row, col string) int64 {
	switch n := row[col].(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// genericCredentialsError is what login always returns for both an unknown
// account and a correct account with a wrong password (spec.md §7
// "Propagation policy": "no user enumeration").
func genericCredentialsError() error {
	return herr.New(herr.Unauthorized, "invalid credentials")
}
