package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var out bytes.Buffer
	shutdown, err := InitTracer("lintgate-test", "0.0.1", &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "analyzer.Analyze")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, `"Name":"analyzer.Analyze"`) {
		t.Errorf("span not exported: %s", got)
	}
	if !strings.Contains(got, "lintgate-test") {
		t.Errorf("service name missing from resource: %s", got)
	}
}
