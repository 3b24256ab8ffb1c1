// Package platform models the collaborators spec.md §1 scopes out of this
// module (HTTP frontend, WebSocket endpoint, mDNS advertiser, PTY bridge,
// payload bundler, config loader, launch/landing orchestrator, logging
// sink, Swagger generator) as thin interfaces. defaults.go provides a default
// implementation of each (most are no-ops); cmd/hydrogen wires only the
// ConfigLoader and LogSink defaults, and this module owns none of those
// collaborators' internals.
package platform

import (
	"context"
	"log/slog"

	"github.com/hydrogen-services/hydrogen/internal/config"
)

// HTTPFrontend models the externally-owned HTTP server fronting the API
// (TLS termination, reverse proxying, static assets).
type HTTPFrontend interface {
	Start(addr string) error
	Stop() error
}

// WebSocketEndpoint models the externally-owned WebSocket upgrade path for
// streaming query results or live status pushes.
type WebSocketEndpoint interface {
	Upgrade(ctx context.Context) error
}

// MDNSResponder models the externally-owned mDNS/Bonjour service advertiser
// used for LAN auto-discovery of a running instance.
type MDNSResponder interface {
	Advertise(serviceName string) error
	Withdraw() error
}

// PTYBridge models the externally-owned bridge that attaches an interactive
// terminal session to a running process for operator debugging.
type PTYBridge interface {
	Attach(ctx context.Context, sessionID string) error
}

// PayloadBundler models the externally-owned tool that packages migration
// payload sets for distribution; internal/assets only resolves payloads
// already bundled into the binary, it does not build the bundle.
type PayloadBundler interface {
	Bundle(name string) ([]byte, error)
}

// ConfigLoader models the CLI/config-loading collaborator. config.Load is
// Hydrogen's own default implementation, wrapped by ConfigFileLoader.
type ConfigLoader interface {
	Load(path string) (*config.Config, error)
}

// LaunchOrchestrator models the launch/landing orchestrator that would
// sequence startup/shutdown across a fleet of collaborator processes this
// module does not own.
type LaunchOrchestrator interface {
	Launch(ctx context.Context) error
	Land(ctx context.Context) error
}

// LogSink models the externally-owned structured logging sink (e.g. a log
// shipper or centralized collector) Hydrogen's own slog output would be
// routed through in a full deployment.
type LogSink interface {
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
}

// SwaggerGenerator models the externally-owned OpenAPI/Swagger document
// generator for the HTTP API surface.
type SwaggerGenerator interface {
	Generate() ([]byte, error)
}
