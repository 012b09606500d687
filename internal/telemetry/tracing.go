// Package telemetry also carries the OpenTelemetry tracer setup. Adapted
// from the teacher's pkg/tracing: same exporter/resource/sampler wiring,
// with the HTTP-specific attribute helpers replaced by debugger-operation
// ones (eval round-trips, step operations, breakpoint resolution passes).
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// sanitizeLog strips newlines from user-controlled values before they reach
// a span attribute or log line, so a crafted expression string can't forge
// extra log/trace entries.
func sanitizeLog(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

// TracingConfig configures the tracer provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	ExporterType   string // "stdout" or "otlp"
	OTLPEndpoint   string
	SamplingRate   float64
	Enabled        bool
}

// DefaultTracingConfig returns the config used when launching interactively.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "netcoredbg-sub001",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		ExporterType:   "stdout",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// TracerProvider wraps the OpenTelemetry SDK provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	config   *TracingConfig
}

// InitTracing builds and installs the global tracer provider.
func InitTracing(config *TracingConfig) (*TracerProvider, error) {
	if config == nil {
		config = DefaultTracingConfig()
	}
	if !config.Enabled {
		return &TracerProvider{provider: sdktrace.NewTracerProvider(), config: config}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch config.ExporterType {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if config.OTLPEndpoint == "" {
			config.OTLPEndpoint = "localhost:4317"
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		exporter, err = otlptrace.New(context.Background(), client)
	default:
		return nil, fmt.Errorf("telemetry: unsupported exporter type %q", config.ExporterType)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: tp, config: config}, nil
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// GetTracer returns a named tracer from this provider.
func (tp *TracerProvider) GetTracer(name string) trace.Tracer {
	if tp.provider == nil {
		return otel.Tracer(name)
	}
	return tp.provider.Tracer(name)
}

// Tracer returns the debugger's global tracer.
func Tracer() trace.Tracer { return otel.Tracer("netcoredbg-sub001") }

// StartSpan starts a span on the debugger's global tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithSpan runs fn inside a span named spanName, recording fn's error (if
// any) onto the span before returning it.
func WithSpan(ctx context.Context, spanName string, fn func(context.Context) error, opts ...trace.SpanStartOption) error {
	ctx, span := StartSpan(ctx, spanName, opts...)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// EvalAttributes builds span attributes for a function-eval round-trip.
func EvalAttributes(threadID uint32, functionName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("debugger.thread_id", int64(threadID)),
		attribute.String("debugger.function", sanitizeLog(functionName)),
	}
}

// StepAttributes builds span attributes for a step operation.
func StepAttributes(threadID uint32, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("debugger.thread_id", int64(threadID)),
		attribute.String("debugger.step_mode", mode),
	}
}

// BreakpointAttributes builds span attributes for a breakpoint resolution
// pass against one module.
func BreakpointAttributes(moduleName string, requested, resolved int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("debugger.module", sanitizeLog(moduleName)),
		attribute.Int("debugger.breakpoints_requested", requested),
		attribute.Int("debugger.breakpoints_resolved", resolved),
	}
}

// RecordError marks the current span as failed.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
