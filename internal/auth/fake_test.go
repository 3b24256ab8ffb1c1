package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/dqm"
	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
	"github.com/hydrogen-services/hydrogen/internal/pool"
)

// fakeStore is an in-memory stand-in for Auth's schema, driven directly off
// the literal SQL this package issues (sql.go). It is deliberately
// string-switched rather than a real SQL engine: these statements are fixed
// and few enough that matching on them exactly is simpler than embedding a
// parser, and it keeps the test at the same level of abstraction as the
// dqm package's own fakeAdapter/fakeHandle pair.
type fakeStore struct {
	mu sync.Mutex

	accounts map[int64]*fakeAccount
	contacts []fakeContact
	jwts     map[string]fakeJWT
	attempts []fakeAttempt
	ips      []fakeIP
	apiKeys  map[string]time.Time // key_text -> valid_until (zero = no expiry)
}

type fakeAccount struct {
	name         string
	passwordHash string
	statusBits   int64
}

type fakeContact struct {
	accountID   int64
	contactType string
	contact     string
	contactHash string
}

type fakeJWT struct {
	accountID int64
	expiresAt time.Time
}

type fakeAttempt struct {
	loginID, clientIP string
	ts                time.Time
	success           bool
}

type fakeIP struct {
	ip, kind  string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[int64]*fakeAccount),
		jwts:     make(map[string]fakeJWT),
		apiKeys:  map[string]time.Time{"valid-key": {}},
	}
}

func paramVal(params []engine.Param, name string) (any, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func paramStr(params []engine.Param, name string) string {
	v, _ := paramVal(params, name)
	s, _ := v.(string)
	return s
}

func paramInt(params []engine.Param, name string) int64 {
	v, _ := paramVal(params, name)
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func parseTS(params []engine.Param, name string) time.Time {
	s := paramStr(params, name)
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

type fakeHandle struct {
	store *fakeStore
}

func (h *fakeHandle) Execute(ctx context.Context, sql string, params []engine.Param) ([]engine.Row, *engine.Result, error) {
	return h.store.exec(sql, params)
}
func (h *fakeHandle) Prepare(ctx context.Context, sql string) (engine.PreparedStatement, error) {
	return nil, herr.New(herr.Internal, "not implemented")
}
func (h *fakeHandle) Begin(ctx context.Context) (engine.Tx, error) {
	return &fakeTx{store: h.store}, nil
}
func (h *fakeHandle) Ping(ctx context.Context) error { return nil }
func (h *fakeHandle) Close() error                   { return nil }

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) Execute(ctx context.Context, sql string, params []engine.Param) ([]engine.Row, *engine.Result, error) {
	return t.store.exec(sql, params)
}
func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

func (s *fakeStore) exec(sql string, params []engine.Param) ([]engine.Row, *engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch sql {
	case sqlVerifyAPIKey:
		key := paramStr(params, "api_key")
		validUntil, ok := s.apiKeys[key]
		if !ok {
			return nil, nil, nil
		}
		now := parseTS(params, "now")
		if !validUntil.IsZero() && !validUntil.After(now) {
			return nil, nil, nil
		}
		return []engine.Row{{"system_id": "sys", "app_id": "app"}}, nil, nil

	case sqlIPEntry:
		ip := paramStr(params, "ip")
		var rows []engine.Row
		for _, e := range s.ips {
			if e.ip == ip {
				row := engine.Row{"kind": e.kind}
				if !e.expiresAt.IsZero() {
					row["expires_at"] = e.expiresAt.UTC().Format("2006-01-02 15:04:05")
				} else {
					row["expires_at"] = nil
				}
				rows = append(rows, row)
			}
		}
		return rows, nil, nil

	case sqlInsertTempBlock:
		s.ips = append(s.ips, fakeIP{ip: paramStr(params, "ip"), kind: "tempblock", expiresAt: parseTS(params, "expires_at")})
		return nil, &engine.Result{RowsAffected: 1}, nil

	case sqlCountFailedAttempts:
		loginID := paramStr(params, "login_id")
		clientIP := paramStr(params, "client_ip")
		since := parseTS(params, "since")
		var n int64
		for _, a := range s.attempts {
			if a.loginID == loginID && a.clientIP == clientIP && a.ts.After(since) && !a.success {
				n++
			}
		}
		return []engine.Row{{"n": n}}, nil, nil

	case sqlInsertAttempt:
		s.attempts = append(s.attempts, fakeAttempt{
			loginID:  paramStr(params, "login_id"),
			clientIP: paramStr(params, "client_ip"),
			ts:       parseTS(params, "ts"),
			success:  paramInt(params, "success") == 1,
		})
		return nil, &engine.Result{RowsAffected: 1}, nil

	case sqlLookupAccount:
		loginID := paramStr(params, "login_id")
		contactHash := paramStr(params, "contact_hash")
		for id, acct := range s.accounts {
			if acct.name == loginID {
				return []engine.Row{{"id": id, "name": acct.name, "password_hash": acct.passwordHash, "status_bits": acct.statusBits}}, nil, nil
			}
		}
		for _, c := range s.contacts {
			if c.contactHash == contactHash {
				acct := s.accounts[c.accountID]
				return []engine.Row{{"id": c.accountID, "name": acct.name, "password_hash": acct.passwordHash, "status_bits": acct.statusBits}}, nil, nil
			}
		}
		return nil, nil, nil

	case sqlAccountEmail:
		accountID := paramInt(params, "account_id")
		for _, c := range s.contacts {
			if c.accountID == accountID && c.contactType == "email" {
				return []engine.Row{{"contact": c.contact}}, nil, nil
			}
		}
		return nil, nil, nil

	case sqlNextAccountID:
		var max int64
		for id := range s.accounts {
			if id > max {
				max = id
			}
		}
		return []engine.Row{{"next_id": max + 1}}, nil, nil

	case sqlInsertAccount:
		id := paramInt(params, "id")
		s.accounts[id] = &fakeAccount{
			name:         paramStr(params, "name"),
			passwordHash: paramStr(params, "password_hash"),
			statusBits:   paramInt(params, "status_bits"),
		}
		return nil, &engine.Result{RowsAffected: 1}, nil

	case sqlInsertContact:
		s.contacts = append(s.contacts, fakeContact{
			accountID:   paramInt(params, "account_id"),
			contactType: paramStr(params, "contact_type"),
			contact:     paramStr(params, "contact"),
			contactHash: paramStr(params, "contact_hash"),
		})
		return nil, &engine.Result{RowsAffected: 1}, nil

	case sqlNameTaken:
		name := paramStr(params, "name")
		for _, a := range s.accounts {
			if a.name == name {
				return []engine.Row{{"1": 1}}, nil, nil
			}
		}
		return nil, nil, nil

	case sqlContactTaken:
		contactType := paramStr(params, "contact_type")
		contact := paramStr(params, "contact")
		for _, c := range s.contacts {
			if c.contactType == contactType && c.contact == contact {
				return []engine.Row{{"1": 1}}, nil, nil
			}
		}
		return nil, nil, nil

	case sqlInsertJWT:
		hash := paramStr(params, "token_hash")
		s.jwts[hash] = fakeJWT{accountID: paramInt(params, "account_id"), expiresAt: parseTS(params, "expires_at")}
		return nil, &engine.Result{RowsAffected: 1}, nil

	case sqlTokenActive:
		hash := paramStr(params, "token_hash")
		if _, ok := s.jwts[hash]; ok {
			return []engine.Row{{"1": 1}}, nil, nil
		}
		return nil, nil, nil

	case sqlDeleteToken:
		hash := paramStr(params, "token_hash")
		delete(s.jwts, hash)
		return nil, &engine.Result{RowsAffected: 1}, nil

	default:
		return nil, nil, herr.Newf(herr.Internal, "fakeStore: unhandled statement %q", sql)
	}
}

type fakeAdapter struct {
	store *fakeStore
}

func (a *fakeAdapter) Dialect() string { return "postgresql" }
func (a *fakeAdapter) Connect(ctx context.Context, params engine.ConnParams) (engine.Handle, error) {
	return &fakeHandle{store: a.store}, nil
}
func (a *fakeAdapter) HealthCheck(ctx context.Context, h engine.Handle) error { return h.Ping(ctx) }
func (a *fakeAdapter) Rewrite(sqlText string, params []engine.Param) (string, []engine.Param, error) {
	return sqlText, params, nil
}
func (a *fakeAdapter) SubstituteMacros(sql string) string      { return sql }
func (a *fakeAdapter) SupportsMultiStatementTransaction() bool { return true }

func newTestService(t interface {
	Cleanup(func())
	Helper()
}) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	a := &fakeAdapter{store: store}
	dc := config.DatabaseConfig{Type: "postgresql", Host: "localhost", Port: 5432, DBName: "testdb", Username: "user"}
	defaults := config.PoolDefaults{
		MinConnections: 0, MaxConnections: 4,
		IdleTimeout: time.Minute, MaxLifetime: 5 * time.Minute, AcquireTimeout: 2 * time.Second,
	}
	p := pool.NewPool("testdb", a, dc, defaults)
	t.Cleanup(p.Close)

	m := dqm.NewManager("testdb", p, a, nil, dqm.DefaultConfig())
	t.Cleanup(m.Shutdown)

	cfg := config.AuthConfig{HMACSecret: "test-secret", JWTLifetimeSeconds: 3600, RateLimitWindow: 900, MaxAttempts: 5}
	svc := NewService(m, a, "testdb", cfg)
	return svc, store
}
