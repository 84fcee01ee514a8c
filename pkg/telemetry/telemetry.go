// Package telemetry provides the process-wide OpenTelemetry tracer used
// around tool-runner execution (one span per toolrunner.Run call).
// It mirrors the teacher's pkg/acp/observability shape: a stdout exporter,
// always-on sampling, and a single named tracer.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/odvcencio/warden"

// Provider owns the tracer provider lifecycle for the process.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a stdout-exporting tracer provider and installs it as
// the global provider. serviceName identifies the process in span resources
// (e.g. "warden" or "warden-worker").
func NewProvider(serviceName string) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the shared tracer for this module.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span of the given name carrying the supplied string
// attributes, returning the derived context and the span to End.
func StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, trace.Span) {
	opts := make([]trace.SpanStartOption, 0, 1)
	if len(attrs) > 0 {
		kv := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kv = append(kv, attribute.String(k, v))
		}
		opts = append(opts, trace.WithAttributes(kv...))
	}
	return Tracer().Start(ctx, name, opts...)
}
