// Package telemetry provides the OpenTelemetry tracing foundation for
// kubeslot. Tracing is disabled by default and enabled via environment
// variables, so CI jobs can export pipeline traces without any flags.
package telemetry

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	initOnce       sync.Once
	enabled        bool
)

// Config holds telemetry configuration
type Config struct {
	// ServiceName is the name of the service (default: kubeslot)
	ServiceName string
	// ServiceVersion is the version of the service
	ServiceVersion string
	// Environment is the target deployment environment
	Environment string
	// OTLPEndpoint is the OTLP collector endpoint (e.g., localhost:4317)
	OTLPEndpoint string
	// Debug enables stdout trace exporter for debugging
	Debug bool
}

// DefaultConfig returns the default telemetry configuration
func DefaultConfig() Config {
	return Config{
		ServiceName:    getEnvOrDefault("KUBESLOT_SERVICE_NAME", "kubeslot"),
		ServiceVersion: getEnvOrDefault("KUBESLOT_VERSION", "dev"),
		Environment:    os.Getenv("KUBESLOT_ENVIRONMENT"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Debug:          os.Getenv("KUBESLOT_TRACE_DEBUG") == "1",
	}
}

// Init initializes the telemetry system.
// If OTEL_EXPORTER_OTLP_ENDPOINT is not set, tracing is disabled (noop).
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		err = initTracer(cfg)
	})
	return err
}

func initTracer(cfg Config) error {
	if cfg.OTLPEndpoint == "" && !cfg.Debug {
		tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		enabled = false
		return nil
	}

	enabled = true

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter

	if cfg.Debug {
		exporter, err = stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return err
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)

		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return err
		}
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()), // sample everything for a CLI tool
	)

	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(cfg.ServiceName)

	return nil
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// IsEnabled returns true if tracing is enabled
func IsEnabled() bool {
	return enabled
}

// Tracer returns the global tracer instance
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("kubeslot")
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TraceGate starts a span for permission gate evaluation
func TraceGate(ctx context.Context, environment, ref string) (context.Context, trace.Span) {
	return StartSpan(ctx, "gate.resolve",
		trace.WithAttributes(
			attribute.String("gate.environment", environment),
			attribute.String("gate.ref", ref),
		),
	)
}

// TraceInspect starts a span for slot inspection
func TraceInspect(ctx context.Context, environment string) (context.Context, trace.Span) {
	return StartSpan(ctx, "slot.inspect",
		trace.WithAttributes(
			attribute.String("slot.environment", environment),
		),
	)
}

// TracePlan starts a span for rollback planning
func TracePlan(ctx context.Context, environment string) (context.Context, trace.Span) {
	return StartSpan(ctx, "rollback.plan",
		trace.WithAttributes(
			attribute.String("rollback.environment", environment),
		),
	)
}

// TraceSwitch starts a span for traffic switch operations
func TraceSwitch(ctx context.Context, environment, target string) (context.Context, trace.Span) {
	return StartSpan(ctx, "traffic.switch",
		trace.WithAttributes(
			attribute.String("traffic.environment", environment),
			attribute.String("traffic.target", target),
		),
	)
}

// TraceHealthCheck starts a span for health verification
func TraceHealthCheck(ctx context.Context, namespace, app string) (context.Context, trace.Span) {
	return StartSpan(ctx, "health.verify",
		trace.WithAttributes(
			attribute.String("health.namespace", namespace),
			attribute.String("health.app", app),
		),
	)
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.RecordError(err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
