package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown := Setup(context.Background(), "campuskubo-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
