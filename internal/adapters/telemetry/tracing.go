package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.trai.ch/xnail/internal/core/ports"
)

// SpanLogger implements sdktrace.SpanProcessor by logging every finished
// span at debug level.
type SpanLogger struct {
	logger ports.Logger
}

var _ sdktrace.SpanProcessor = (*SpanLogger)(nil)

// NewSpanLogger returns a new SpanLogger.
func NewSpanLogger(logger ports.Logger) *SpanLogger {
	return &SpanLogger{logger: logger}
}

// OnStart does nothing; spans are reported when they end.
func (l *SpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd logs the span name, duration and status.
func (l *SpanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	if !s.SpanContext().IsValid() {
		return
	}

	status := "ok"
	if s.Status().Code == codes.Error {
		status = "error"
		if desc := s.Status().Description; desc != "" {
			status += ": " + desc
		}
	}

	msg := fmt.Sprintf("span %s took %s (%s)", s.Name(), s.EndTime().Sub(s.StartTime()), status)
	for _, attr := range s.Attributes() {
		msg += fmt.Sprintf(" %s=%s", attr.Key, attr.Value.Emit())
	}
	l.logger.Debug(msg)
}

// ForceFlush does nothing.
func (l *SpanLogger) ForceFlush(context.Context) error {
	return nil
}

// Shutdown does nothing.
func (l *SpanLogger) Shutdown(context.Context) error {
	return nil
}

// InstallTracing makes a tracer provider that logs spans through logger the
// global provider. The returned function shuts it down.
func InstallTracing(logger ports.Logger) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanLogger(logger)))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
