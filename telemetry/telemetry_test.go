package telemetry

import (
	"context"
	"fmt"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jmossahebi/jello2/domain"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	})
	return tp, exporter
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestOpEndLogsObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})
	_, exporter := setupTestTracer(t)

	_, op := Start(context.Background(), logger, "remote", "fetch", attribute.String("jello.user_id", "u1"))
	op.SetAttributes(attribute.Int("jello.boards", 2))
	op.End(nil)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry")
	}
	if entry.Message != EventMessage {
		t.Fatalf("unexpected message: %s", entry.Message)
	}
	if entry.Data["event.name"] != "fetch" || entry.Data["event.domain"] != "remote" {
		t.Fatalf("unexpected event identity: %#v", entry.Data)
	}
	if entry.Data["status"] != "ok" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected status fields: %#v", entry.Data)
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrs["jello.user_id"] != "u1" || attrs["jello.boards"] != int64(2) {
		t.Fatalf("unexpected attributes: %#v", attrs)
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "remote.fetch" || span.Status.Code != codes.Ok {
		t.Fatalf("unexpected span %s status %v", span.Name, span.Status.Code)
	}
	if len(span.Events) != 1 || span.Events[0].Name != EventMessage {
		t.Fatalf("expected observability span event, got %#v", span.Events)
	}
	if got := attributesToMap(span.Events[0].Attributes)["event.name"]; got != "fetch" {
		t.Fatalf("unexpected span event name attribute %#v", got)
	}
}

func TestOpEndWithErrorSetsSeverity(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantText  string
		wantLevel log.Level
	}{
		{name: "permission", err: fmt.Errorf("write: %w", domain.ErrPermissionDenied), wantText: "WARN", wantLevel: log.WarnLevel},
		{name: "unavailable", err: domain.ErrUnavailable, wantText: "WARN", wantLevel: log.WarnLevel},
		{name: "other", err: domain.ErrOther, wantText: "ERROR", wantLevel: log.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			_, exporter := setupTestTracer(t)

			_, op := Start(context.Background(), logger, "remote", "write")
			op.End(tt.err)

			entry := hook.LastEntry()
			if entry == nil || entry.Level != tt.wantLevel || entry.Data["severity_text"] != tt.wantText {
				t.Fatalf("unexpected entry %#v", entry)
			}
			if entry.Data["status"] != "error" || entry.Data["error"] != tt.err.Error() {
				t.Fatalf("expected error fields, got %#v", entry.Data)
			}
			spans := exporter.GetSpans()
			if len(spans) != 1 || spans[0].Status.Code != codes.Error {
				t.Fatalf("expected errored span, got %#v", spans)
			}
		})
	}
}

func TestNilOpIsSafe(t *testing.T) {
	var op *Op
	op.SetAttributes(attribute.Bool("x", true))
	op.End(nil)
}
