package telemetry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmossahebi/jello2/domain"
)

const (
	tracerName = "github.com/jmossahebi/jello2"

	// EventMessage is the log message and span event name of every
	// observability record.
	EventMessage = "observability.event"
)

// Op tracks one storage round trip. It owns a span and emits a single
// structured log entry when it ends.
type Op struct {
	logger *log.Logger
	span   trace.Span
	name   string
	domain string
	start  time.Time
	attrs  []attribute.KeyValue
}

// Start opens a span named domain.name. The returned context carries it.
func Start(ctx context.Context, logger *log.Logger, eventDomain, name string, attrs ...attribute.KeyValue) (context.Context, *Op) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, eventDomain+"."+name, trace.WithAttributes(attrs...))
	return ctx, &Op{
		logger: logger,
		span:   span,
		name:   name,
		domain: eventDomain,
		start:  time.Now(),
		attrs:  append([]attribute.KeyValue(nil), attrs...),
	}
}

// SetAttributes adds attributes to both the span and the log entry.
func (o *Op) SetAttributes(attrs ...attribute.KeyValue) {
	if o == nil {
		return
	}
	o.attrs = append(o.attrs, attrs...)
	o.span.SetAttributes(attrs...)
}

// End records the outcome, logs the event and closes the span.
func (o *Op) End(err error) {
	if o == nil {
		return
	}
	elapsed := durationToMillis(time.Since(o.start))
	sevText, sevNumber := severityFor(err)
	status := "ok"
	if err != nil {
		status = "error"
	}

	eventAttrs := []attribute.KeyValue{
		attribute.String("event.name", o.name),
		attribute.String("event.domain", o.domain),
		attribute.String("severity_text", sevText),
		attribute.Int("severity_number", sevNumber),
		attribute.Float64("duration_ms", elapsed),
	}
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.AddEvent(EventMessage, trace.WithAttributes(append(eventAttrs, o.attrs...)...))

	if o.logger != nil {
		attrs := make(map[string]any, len(o.attrs))
		for _, kv := range o.attrs {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		fields := log.Fields{
			"event.name":      o.name,
			"event.domain":    o.domain,
			"duration_ms":     elapsed,
			"status":          status,
			"severity_text":   sevText,
			"severity_number": sevNumber,
			"attributes":      attrs,
		}
		if sc := o.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		o.logger.WithFields(fields).Log(levelFor(sevNumber), EventMessage)
	}
	o.span.End()
}

// severityFor maps an outcome onto OpenTelemetry log severities. Expected
// failures (stale credentials, transient outages) are warnings.
func severityFor(err error) (string, int) {
	switch {
	case err == nil:
		return "INFO", 9
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrUnavailable):
		return "WARN", 13
	default:
		return "ERROR", 17
	}
}

func levelFor(severity int) log.Level {
	switch {
	case severity >= 17:
		return log.ErrorLevel
	case severity >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
