package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "safe-code-exec"

// Tracer wraps OpenTelemetry tracing for the execution service.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("codeexec.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for execution tracing.
var (
	AttrExecID     = attribute.Key("codeexec.execution.id")
	AttrBackend    = attribute.Key("codeexec.backend")
	AttrCodeHash   = attribute.Key("codeexec.code_hash")
	AttrStatus     = attribute.Key("codeexec.status")
	AttrExitCode   = attribute.Key("codeexec.exit_code")
	AttrDurationMS = attribute.Key("codeexec.duration_ms")
)
