// Package audit provides the scoped tracing collaborator spec.md §6
// threads through every backend and KV operation: a span per operation,
// tagged with a correlation id, so that a single create/modify/delete/
// search/reindex call can be followed end to end in exported traces.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an otel trace.Tracer, attaching a fresh correlation id to
// every span it starts.
type Tracer struct {
	tr trace.Tracer
}

// New wraps an existing trace.Tracer, e.g. one obtained from a caller's
// own TracerProvider.
func New(tr trace.Tracer) Tracer {
	return Tracer{tr: tr}
}

// IsZero reports whether t is the zero Tracer (no wrapped trace.Tracer).
func (t Tracer) IsZero() bool { return t.tr == nil }

// NewStdout builds a Tracer backed by the stdout exporter, suitable for
// local development and the cmd/idlstored default: every span is printed
// as it ends rather than shipped to a collector. Callers that want a
// silent core can instead call New(noop.NewTracerProvider().Tracer("")).
func NewStdout() (Tracer, func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return Tracer{}, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return Tracer{tr: tp.Tracer("github.com/dirserve/idlstore")}, tp.Shutdown, nil
}

// Span is the handle returned by Start: callers record outcome on it
// directly via otel's trace.Span methods (SetStatus, RecordError, ...).
type Span = trace.Span

// Start opens a span named op, tagging it with a new correlation id, and
// returns the span-scoped context, the span itself, and an end function
// the caller must invoke (typically via defer) exactly once.
func (t Tracer) Start(ctx context.Context, op string) (context.Context, Span, func()) {
	cid := uuid.New().String()
	ctx, span := t.tr.Start(ctx, op, trace.WithAttributes(attribute.String("correlation_id", cid)))
	return ctx, span, func() { span.End() }
}

// CorrelationID extracts the correlation_id attribute most recently set
// on span, or "" if none was set (span is not a recording span, e.g. a
// noop tracer).
func CorrelationID(span Span) string {
	ro, ok := span.(interface{ Attributes() []attribute.KeyValue })
	if !ok {
		return ""
	}
	for _, kv := range ro.Attributes() {
		if kv.Key == "correlation_id" {
			return kv.Value.AsString()
		}
	}
	return ""
}
