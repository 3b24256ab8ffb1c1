// Package config loads Hydrogen's YAML configuration: the database
// registry, pool defaults, and the auth subsystem's tunables. It keeps the
// teacher's ${VAR} env-substitution and fsnotify hot-reload machinery.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for Hydrogen.
type Config struct {
	Listen      ListenConfig              `yaml:"listen"`
	Defaults    PoolDefaults              `yaml:"defaults"`
	Databases   map[string]DatabaseConfig `yaml:"databases"`
	Auth        AuthConfig                `yaml:"auth"`
	HealthCheck HealthCheckConfig         `yaml:"health_check"`
}

// ListenConfig defines the ports and bind addresses the thin HTTP/API shell
// listens on. Hydrogen's core never dials these itself; they exist so the
// config file has one place to describe the whole deployment.
type ListenConfig struct {
	APIPort int    `yaml:"api_port"`
	APIBind string `yaml:"api_bind"`
	APIKey  string `yaml:"api_key"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// PoolDefaults defines default pool settings applied when a database doesn't
// override them.
type PoolDefaults struct {
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// DatabaseConfig is the "Database descriptor" of spec.md §3: one entry per
// registered database. Engine is immutable after registration — the
// descriptor lives for the process lifetime once loaded.
type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgresql | mysql | sqlite | db2
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DBName   string `yaml:"dbname"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema,omitempty"`
	Enabled  bool   `yaml:"enabled"`

	Migrations    string `yaml:"migrations,omitempty"` // PAYLOAD:<name> or PATH:<dir>
	TestMigration bool   `yaml:"test_migration"`
	AutoMigration bool   `yaml:"auto_migration"`
	PoolSize      int    `yaml:"pool_size,omitempty"`

	MinConnections *int           `yaml:"min_connections,omitempty"`
	MaxConnections *int           `yaml:"max_connections,omitempty"`
	IdleTimeout    *time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime    *time.Duration `yaml:"max_lifetime,omitempty"`
	AcquireTimeout *time.Duration `yaml:"acquire_timeout,omitempty"`
	DialTimeout    *time.Duration `yaml:"dial_timeout,omitempty"`
}

// AuthConfig holds the Auth Service's tunables (spec.md §4.6 "Configuration
// options recognized").
type AuthConfig struct {
	// Database names the registered database the Auth Service's tables
	// (accounts, jwt_store, rate limiting) live in. Empty disables the
	// Auth Service entirely.
	Database           string `yaml:"database"`
	HMACSecret         string `yaml:"hmac_secret"`
	JWTLifetimeSeconds int    `yaml:"jwt_lifetime_seconds"`
	RateLimitWindow    int    `yaml:"rate_limit_window"`
	MaxAttempts        int    `yaml:"max_attempts"`
}

// HealthCheckConfig tunes the periodic liveness probe run against every
// registered database.
type HealthCheckConfig struct {
	Interval          time.Duration `yaml:"interval"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// EffectiveMinConnections returns the database's min connections or the default.
func (d DatabaseConfig) EffectiveMinConnections(defaults PoolDefaults) int {
	if d.MinConnections != nil {
		return *d.MinConnections
	}
	return defaults.MinConnections
}

// EffectiveMaxConnections returns the database's max connections or the default.
// pool_size, when set, takes priority over defaults (it is the spec's own
// knob for this); an explicit max_connections override takes priority over
// pool_size.
func (d DatabaseConfig) EffectiveMaxConnections(defaults PoolDefaults) int {
	if d.MaxConnections != nil {
		return *d.MaxConnections
	}
	if d.PoolSize > 0 {
		return d.PoolSize
	}
	return defaults.MaxConnections
}

// EffectiveIdleTimeout returns the database's idle timeout or the default.
func (d DatabaseConfig) EffectiveIdleTimeout(defaults PoolDefaults) time.Duration {
	if d.IdleTimeout != nil {
		return *d.IdleTimeout
	}
	return defaults.IdleTimeout
}

// EffectiveMaxLifetime returns the database's max lifetime or the default.
func (d DatabaseConfig) EffectiveMaxLifetime(defaults PoolDefaults) time.Duration {
	if d.MaxLifetime != nil {
		return *d.MaxLifetime
	}
	return defaults.MaxLifetime
}

// EffectiveAcquireTimeout returns the database's acquire timeout or the default.
func (d DatabaseConfig) EffectiveAcquireTimeout(defaults PoolDefaults) time.Duration {
	if d.AcquireTimeout != nil {
		return *d.AcquireTimeout
	}
	return defaults.AcquireTimeout
}

// EffectiveDialTimeout returns the database's dial timeout or the default.
func (d DatabaseConfig) EffectiveDialTimeout(defaults PoolDefaults) time.Duration {
	if d.DialTimeout != nil {
		return *d.DialTimeout
	}
	return defaults.DialTimeout
}

// Redacted returns a copy of the DatabaseConfig with the password masked.
func (d DatabaseConfig) Redacted() DatabaseConfig {
	c := d
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

// Redacted returns a copy of the AuthConfig with the HMAC secret masked.
func (a AuthConfig) Redacted() AuthConfig {
	c := a
	if c.HMACSecret != "" {
		c.HMACSecret = "***REDACTED***"
	}
	return c
}

// TLSEnabled returns true if both TLS cert and key paths are configured.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8080
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.Defaults.MinConnections == 0 {
		cfg.Defaults.MinConnections = 2
	}
	if cfg.Defaults.MaxConnections == 0 {
		cfg.Defaults.MaxConnections = 20
	}
	if cfg.Defaults.IdleTimeout == 0 {
		cfg.Defaults.IdleTimeout = 5 * time.Minute
	}
	if cfg.Defaults.MaxLifetime == 0 {
		cfg.Defaults.MaxLifetime = 30 * time.Minute
	}
	if cfg.Defaults.AcquireTimeout == 0 {
		cfg.Defaults.AcquireTimeout = 10 * time.Second
	}
	if cfg.Defaults.DialTimeout == 0 {
		cfg.Defaults.DialTimeout = 5 * time.Second
	}
	if cfg.Auth.JWTLifetimeSeconds == 0 {
		cfg.Auth.JWTLifetimeSeconds = 3600
	}
	if cfg.Auth.RateLimitWindow == 0 {
		cfg.Auth.RateLimitWindow = 900
	}
	if cfg.Auth.MaxAttempts == 0 {
		cfg.Auth.MaxAttempts = 5
	}
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 30 * time.Second
	}
	if cfg.HealthCheck.FailureThreshold == 0 {
		cfg.HealthCheck.FailureThreshold = 3
	}
	if cfg.HealthCheck.ConnectionTimeout == 0 {
		cfg.HealthCheck.ConnectionTimeout = 5 * time.Second
	}
}

var validEngineTypes = map[string]bool{
	"postgresql": true,
	"mysql":      true,
	"sqlite":     true,
	"db2":        true,
}

func validate(cfg *Config) error {
	for name, db := range cfg.Databases {
		if err := ValidateDatabaseName(name); err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
		if !validEngineTypes[db.Type] {
			return fmt.Errorf("database %q: unsupported type %q (must be one of postgresql, mysql, sqlite, db2)", name, db.Type)
		}
		if db.Type == "sqlite" {
			if db.DBName == "" {
				return fmt.Errorf("database %q: dbname (file path) is required", name)
			}
			continue
		}
		if db.Host == "" {
			return fmt.Errorf("database %q: host is required", name)
		}
		if db.Port == 0 {
			return fmt.Errorf("database %q: port is required", name)
		}
		if db.Port < 1 || db.Port > 65535 {
			return fmt.Errorf("database %q: port %d out of range", name, db.Port)
		}
		if db.DBName == "" {
			return fmt.Errorf("database %q: dbname is required", name)
		}
		if db.Username == "" {
			return fmt.Errorf("database %q: username is required", name)
		}
		minC := db.EffectiveMinConnections(cfg.Defaults)
		maxC := db.EffectiveMaxConnections(cfg.Defaults)
		if minC > maxC {
			return fmt.Errorf("database %q: min_connections (%d) exceeds max_connections (%d)", name, minC, maxC)
		}
	}
	if cfg.Defaults.MinConnections > cfg.Defaults.MaxConnections && cfg.Defaults.MaxConnections != 0 {
		return fmt.Errorf("defaults: min_connections exceeds max_connections")
	}
	if cfg.Listen.APIPort != 0 && (cfg.Listen.APIPort < 1 || cfg.Listen.APIPort > 65535) {
		return fmt.Errorf("listen: api_port out of range")
	}
	return nil
}

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// ValidateDatabaseName enforces the same identifier shape the teacher used
// for tenant IDs: non-empty, alphanumeric/underscore/dash, not starting
// with a dash.
func ValidateDatabaseName(name string) error {
	if name == "" || !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
