package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/api"
	"github.com/hydrogen-services/hydrogen/internal/auth"
	"github.com/hydrogen-services/hydrogen/internal/bootstrap"
	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/dqm"
	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/health"
	"github.com/hydrogen-services/hydrogen/internal/metrics"
	"github.com/hydrogen-services/hydrogen/internal/migration"
	"github.com/hydrogen-services/hydrogen/internal/platform"
	"github.com/hydrogen-services/hydrogen/internal/pool"
	"github.com/hydrogen-services/hydrogen/internal/qtc"
	"github.com/hydrogen-services/hydrogen/internal/router"
)

// databaseRuntime bundles the per-database machinery main.go builds once at
// startup: the DQM managing that database's Lead/Workers, the QTC cache its
// dispatch classification consults, and the cache's watcher with its
// dedicated connection (both nil when that connection could not be opened).
type databaseRuntime struct {
	dqm         *dqm.Manager
	qtcCache    *qtc.Cache
	qtcWatcher  *qtc.Watcher
	watchHandle engine.Handle
}

func main() {
	configPath := flag.String("config", "configs/hydrogen.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var logSink platform.LogSink = platform.SlogSink{}
	logSink.Log(context.Background(), slog.LevelInfo, "Hydrogen starting...")

	var loader platform.ConfigLoader = platform.ConfigFileLoader{}
	cfg, err := loader.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (%d databases)", *configPath, len(cfg.Databases))

	m := metrics.New()
	r := router.New(cfg)
	pm := pool.NewManager(cfg.Defaults)
	hc := health.NewChecker(r, pm, m, cfg.HealthCheck)

	pm.SetOnPoolExhausted(func(database string) {
		m.PoolExhausted(database)
	})
	pm.StartStatsLoop(5*time.Second, func(s pool.Stats) {
		m.UpdatePoolStats(s.Database, s.Dialect, s.Active, s.Idle, s.Total, s.Waiting)
	})

	runtimes := make(map[string]*databaseRuntime, len(cfg.Databases))
	var authSvc *auth.Service

	for name, dc := range cfg.Databases {
		if !dc.Enabled {
			continue
		}

		adapter, err := engine.NewAdapter(dc.Type)
		if err != nil {
			log.Fatalf("database %s: %v", name, err)
		}

		if _, err := pm.Create(name, adapter, dc); err != nil {
			log.Fatalf("database %s: creating pool: %v", name, err)
		}
		p, _ := pm.Get(name)

		rt := bootstrapDatabase(name, dc, adapter, p, m)
		runtimes[name] = rt

		if cfg.Auth.Database == name {
			authSvc = auth.NewService(rt.dqm, adapter, name, cfg.Auth)
			log.Printf("[auth] service bound to database %s", name)
		}
	}

	if authSvc != nil {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := bootstrap.Seed(seedCtx, authSvc, cfg.Auth.Database); err != nil {
			log.Printf("Warning: demo account bootstrap failed: %v", err)
		}
		seedCancel()
	}

	hc.Start()

	apiServer := api.NewServer(r, pm, hc, m, authSvc, cfg.Listen)
	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration...")
		r.Reload(newCfg)
		pm.UpdateDefaults(newCfg.Defaults)
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("Hydrogen ready - API:%d databases:%d", cfg.Listen.APIPort, len(runtimes))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	hc.Stop()
	for name, rt := range runtimes {
		if rt.qtcWatcher != nil {
			rt.qtcWatcher.Stop()
		}
		if rt.watchHandle != nil {
			rt.watchHandle.Close()
		}
		rt.dqm.Shutdown()
		slog.Info("database shut down", "database", name)
	}
	pm.Close()

	log.Printf("Hydrogen stopped")
}

// bootstrapDatabase runs startup migrations and bootstraps the database's
// Query Table Cache over one dedicated Lead handle acquired before any
// Worker queue can spawn, then builds the DQM and starts watching the cache
// over a second connection of its own.
func bootstrapDatabase(name string, dc config.DatabaseConfig, adapter engine.Adapter, p *pool.Pool, m *metrics.Collector) *databaseRuntime {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	leadConn, err := p.Acquire(ctx)
	if err != nil {
		log.Fatalf("database %s: acquiring lead connection: %v", name, err)
	}

	migrationStart := time.Now()
	migrationErr := migration.RunStartup(ctx, adapter, leadConn.Handle(), dc)
	if m != nil {
		m.MigrationApplied(name, time.Since(migrationStart), migrationErr == nil)
	}
	if migrationErr != nil {
		log.Fatalf("database %s: startup migrations: %v", name, migrationErr)
	}

	qtcCache := qtc.New()
	if err := qtcCache.Bootstrap(ctx, leadConn.Handle(), ""); err != nil {
		slog.Warn("QTC bootstrap failed, dispatch falls back to SQL-shape classification", "database", name, "error", err)
	} else if m != nil {
		m.SetQTCSnapshot(name, qtcCache.Size(), qtcCache.Version())
	}

	p.Return(leadConn)

	dqmMgr := dqm.NewManager(name, p, adapter, qtcCache, dqm.DefaultConfig())

	// The watcher gets its own dedicated connection, dialed directly through
	// the adapter rather than borrowed from the pool: it is held open for
	// the database's entire runtime, so it must never be subject to pool
	// reaping or handed to a Worker by Acquire.
	var watcher *qtc.Watcher
	watchHandle, err := adapter.Connect(ctx, connParamsFor(dc))
	if err != nil {
		slog.Warn("QTC watcher connection failed, cache will not auto-refresh", "database", name, "error", err)
	} else {
		watcher = qtc.NewWatcher(qtcCache, func() engine.Handle {
			return watchHandle
		}, "", "", 30*time.Second)
	}

	return &databaseRuntime{dqm: dqmMgr, qtcCache: qtcCache, qtcWatcher: watcher, watchHandle: watchHandle}
}

// connParamsFor builds the dialect-agnostic connection descriptor an
// Adapter.Connect call needs from a database registry entry.
func connParamsFor(dc config.DatabaseConfig) engine.ConnParams {
	dialTimeout := 10 * time.Second
	if dc.DialTimeout != nil {
		dialTimeout = *dc.DialTimeout
	}
	return engine.ConnParams{
		Host:        dc.Host,
		Port:        dc.Port,
		DBName:      dc.DBName,
		Username:    dc.Username,
		Password:    dc.Password,
		Schema:      dc.Schema,
		DialTimeout: dialTimeout,
	}
}
