package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
listen:
  api_port: 8080

defaults:
  min_connections: 2
  max_connections: 20
  idle_timeout: 5m
  max_lifetime: 30m
  acquire_timeout: 10s

databases:
  acuranzo:
    type: postgresql
    host: localhost
    port: 5432
    dbname: testdb
    username: testuser
    password: testpass

auth:
  hmac_secret: k
  jwt_lifetime_seconds: 1800
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.APIPort != 8080 {
		t.Errorf("expected api port 8080, got %d", cfg.Listen.APIPort)
	}
	if cfg.Defaults.MaxConnections != 20 {
		t.Errorf("expected max connections 20, got %d", cfg.Defaults.MaxConnections)
	}
	if cfg.Defaults.IdleTimeout != 5*time.Minute {
		t.Errorf("expected idle timeout 5m, got %v", cfg.Defaults.IdleTimeout)
	}

	db, ok := cfg.Databases["acuranzo"]
	if !ok {
		t.Fatal("acuranzo database not found")
	}
	if db.Type != "postgresql" {
		t.Errorf("expected type postgresql, got %s", db.Type)
	}
	if db.Host != "localhost" {
		t.Errorf("expected host localhost, got %s", db.Host)
	}

	if cfg.Auth.HMACSecret != "k" {
		t.Errorf("expected hmac_secret k, got %s", cfg.Auth.HMACSecret)
	}
	if cfg.Auth.JWTLifetimeSeconds != 1800 {
		t.Errorf("expected jwt_lifetime_seconds 1800, got %d", cfg.Auth.JWTLifetimeSeconds)
	}
	// unset auth defaults still apply
	if cfg.Auth.RateLimitWindow != 900 {
		t.Errorf("expected default rate_limit_window 900, got %d", cfg.Auth.RateLimitWindow)
	}
	if cfg.Auth.MaxAttempts != 5 {
		t.Errorf("expected default max_attempts 5, got %d", cfg.Auth.MaxAttempts)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_DB_PASSWORD", "secret123")
	defer os.Unsetenv("TEST_DB_PASSWORD")

	yaml := `
databases:
  test:
    type: postgresql
    host: localhost
    port: 5432
    dbname: testdb
    username: user
    password: ${TEST_DB_PASSWORD}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	db := cfg.Databases["test"]
	if db.Password != "secret123" {
		t.Errorf("expected password secret123, got %s", db.Password)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "invalid type",
			yaml: `
databases:
  d1:
    type: oracle
    host: localhost
    port: 5432
    dbname: db
    username: user
`,
		},
		{
			name: "missing host",
			yaml: `
databases:
  d1:
    type: postgresql
    port: 5432
    dbname: db
    username: user
`,
		},
		{
			name: "missing port",
			yaml: `
databases:
  d1:
    type: postgresql
    host: localhost
    dbname: db
    username: user
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadSQLiteSkipsHostPortValidation(t *testing.T) {
	yaml := `
databases:
  local:
    type: sqlite
    dbname: /var/lib/hydrogen/local.db
`
	path := writeTemp(t, yaml)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	yaml := `
databases: {}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.APIPort != 8080 {
		t.Errorf("expected default api port 8080, got %d", cfg.Listen.APIPort)
	}
	if cfg.Defaults.MinConnections != 2 {
		t.Errorf("expected default min connections 2, got %d", cfg.Defaults.MinConnections)
	}
	if cfg.Auth.JWTLifetimeSeconds != 3600 {
		t.Errorf("expected default jwt_lifetime_seconds 3600, got %d", cfg.Auth.JWTLifetimeSeconds)
	}
	if cfg.Auth.RateLimitWindow != 900 {
		t.Errorf("expected default rate_limit_window 900, got %d", cfg.Auth.RateLimitWindow)
	}
	if cfg.Auth.MaxAttempts != 5 {
		t.Errorf("expected default max_attempts 5, got %d", cfg.Auth.MaxAttempts)
	}
}

func TestDatabaseConfigEffectiveValues(t *testing.T) {
	defaults := PoolDefaults{
		MinConnections: 2,
		MaxConnections: 20,
		IdleTimeout:    5 * time.Minute,
		MaxLifetime:    30 * time.Minute,
		AcquireTimeout: 10 * time.Second,
		DialTimeout:    5 * time.Second,
	}

	maxConn := 50
	db := DatabaseConfig{
		MaxConnections: &maxConn,
	}

	if db.EffectiveMinConnections(defaults) != 2 {
		t.Error("expected default min connections")
	}
	if db.EffectiveMaxConnections(defaults) != 50 {
		t.Error("expected overridden max connections of 50")
	}
	if db.EffectiveIdleTimeout(defaults) != 5*time.Minute {
		t.Error("expected default idle timeout")
	}
	if db.EffectiveDialTimeout(defaults) != 5*time.Second {
		t.Error("expected default dial timeout of 5s")
	}

	dt := 3 * time.Second
	db.DialTimeout = &dt
	if db.EffectiveDialTimeout(defaults) != 3*time.Second {
		t.Error("expected overridden dial timeout of 3s")
	}
}

func TestDatabasePoolSizeFeedsMaxConnections(t *testing.T) {
	defaults := PoolDefaults{MinConnections: 2, MaxConnections: 20}
	db := DatabaseConfig{PoolSize: 75}
	if db.EffectiveMaxConnections(defaults) != 75 {
		t.Errorf("expected pool_size to feed max connections, got %d", db.EffectiveMaxConnections(defaults))
	}
}

// --- Validation tests ---

func TestValidateMinGtMaxConns(t *testing.T) {
	yaml := `
defaults:
  min_connections: 30
  max_connections: 10
databases: {}
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error when min_connections > max_connections")
	}
}

func TestValidateInvalidPort(t *testing.T) {
	yaml := `
listen:
  api_port: 99999
databases: {}
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid listen port")
	}
}

func TestValidateDatabaseInvalidPort(t *testing.T) {
	yaml := `
databases:
  d1:
    type: postgresql
    host: localhost
    port: 70000
    dbname: db
    username: user
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid database port")
	}
}

func TestValidateInvalidDatabaseName(t *testing.T) {
	yaml := `
databases:
  "invalid database!":
    type: postgresql
    host: localhost
    port: 5432
    dbname: db
    username: user
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid database name")
	}
}

func TestValidateDatabaseMinGtMax(t *testing.T) {
	yaml := `
databases:
  d1:
    type: postgresql
    host: localhost
    port: 5432
    dbname: db
    username: user
    min_connections: 20
    max_connections: 5
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error when database min_connections > max_connections")
	}
}

func TestValidateDatabaseName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"valid-database", false},
		{"database_123", false},
		{"a", false},
		{"", true},
		{"-starts-with-dash", true},
		{"has spaces", true},
		{"has.dots", true},
		{"UPPERCASE_OK", false},
	}
	for _, tt := range tests {
		err := ValidateDatabaseName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateDatabaseName(%q) err=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}

func TestDialTimeoutDefault(t *testing.T) {
	yaml := `
databases: {}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Defaults.DialTimeout != 5*time.Second {
		t.Errorf("expected default dial timeout 5s, got %v", cfg.Defaults.DialTimeout)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}
