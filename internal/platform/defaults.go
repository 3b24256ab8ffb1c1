package platform

import (
	"context"
	"log/slog"

	"github.com/hydrogen-services/hydrogen/internal/config"
)

// ConfigFileLoader is the default ConfigLoader: it delegates straight to
// config.Load, the YAML-plus-env-substitution reader this module already
// implements.
type ConfigFileLoader struct{}

func (ConfigFileLoader) Load(path string) (*config.Config, error) {
	return config.Load(path)
}

// SlogSink is the default LogSink: it routes through the standard slog
// package's default handler rather than owning its own transport.
type SlogSink struct{}

func (SlogSink) Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	slog.Log(ctx, level, msg, args...)
}

// NoopHTTPFrontend satisfies HTTPFrontend without fronting anything;
// cmd/hydrogen's own internal/api.Server is the real listener.
type NoopHTTPFrontend struct{}

func (NoopHTTPFrontend) Start(addr string) error { return nil }
func (NoopHTTPFrontend) Stop() error              { return nil }

// NoopWebSocketEndpoint satisfies WebSocketEndpoint; no streaming transport
// is implemented by this module.
type NoopWebSocketEndpoint struct{}

func (NoopWebSocketEndpoint) Upgrade(ctx context.Context) error { return nil }

// NoopMDNSResponder satisfies MDNSResponder; this module does not advertise
// itself on the LAN.
type NoopMDNSResponder struct{}

func (NoopMDNSResponder) Advertise(serviceName string) error { return nil }
func (NoopMDNSResponder) Withdraw() error                     { return nil }

// NoopPTYBridge satisfies PTYBridge; no interactive terminal attachment is
// implemented by this module.
type NoopPTYBridge struct{}

func (NoopPTYBridge) Attach(ctx context.Context, sessionID string) error { return nil }

// NoopPayloadBundler satisfies PayloadBundler; migration payloads ship
// pre-bundled into the binary via internal/assets, not built at runtime.
type NoopPayloadBundler struct{}

func (NoopPayloadBundler) Bundle(name string) ([]byte, error) { return nil, nil }

// NoopLaunchOrchestrator satisfies LaunchOrchestrator; cmd/hydrogen
// sequences its own startup/shutdown directly rather than delegating it.
type NoopLaunchOrchestrator struct{}

func (NoopLaunchOrchestrator) Launch(ctx context.Context) error { return nil }
func (NoopLaunchOrchestrator) Land(ctx context.Context) error   { return nil }

// NoopSwaggerGenerator satisfies SwaggerGenerator; no OpenAPI document is
// generated by this module.
type NoopSwaggerGenerator struct{}

func (NoopSwaggerGenerator) Generate() ([]byte, error) { return nil, nil }
