// Package telemetry installs OpenTelemetry tracing for a harvest run.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies the harvester in trace resources.
const ServiceName = "report-harvester"

// Tracing owns the tracer provider installed by Init.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Init installs a global tracer provider and the W3C trace-context and
// baggage propagators. Spans are sampled but not exported; their context
// travels with published outcome events.
func Init(ctx context.Context, version string) (*Tracing, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &Tracing{provider: tp, tracer: tp.Tracer(ServiceName)}, nil
}

// StartRun opens the root span of a run. Call end when the run finishes.
func (t *Tracing) StartRun(ctx context.Context, runID, input string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "harvest.run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("input", input),
		),
	)
	return ctx, func() { span.End() }
}

// Shutdown flushes and stops the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
