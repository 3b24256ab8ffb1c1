package platform

import (
	"context"
	"log/slog"
	"testing"
)

func TestNoopDefaultsSatisfyInterfaces(t *testing.T) {
	var (
		_ HTTPFrontend       = NoopHTTPFrontend{}
		_ WebSocketEndpoint  = NoopWebSocketEndpoint{}
		_ MDNSResponder      = NoopMDNSResponder{}
		_ PTYBridge          = NoopPTYBridge{}
		_ PayloadBundler     = NoopPayloadBundler{}
		_ LaunchOrchestrator = NoopLaunchOrchestrator{}
		_ SwaggerGenerator   = NoopSwaggerGenerator{}
		_ ConfigLoader       = ConfigFileLoader{}
		_ LogSink            = SlogSink{}
	)

	if err := (NoopHTTPFrontend{}).Start("localhost:0"); err != nil {
		t.Errorf("Start: %v", err)
	}
	if err := (NoopHTTPFrontend{}).Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := (NoopLaunchOrchestrator{}).Launch(context.Background()); err != nil {
		t.Errorf("Launch: %v", err)
	}
}

func TestConfigFileLoaderRejectsMissingFile(t *testing.T) {
	if _, err := (ConfigFileLoader{}).Load("/nonexistent/hydrogen.yaml"); err == nil {
		t.Error("expected error loading a nonexistent config file")
	}
}

func TestSlogSinkDoesNotPanic(t *testing.T) {
	(SlogSink{}).Log(context.Background(), slog.LevelInfo, "test message", "key", "value")
}
