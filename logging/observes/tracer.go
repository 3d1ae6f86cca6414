package observes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// TracerOption configures the OTLP trace exporter
type TracerOption struct {
	Endpoint           string
	Name               string
	Version            string
	Environment        string
	SamplingRate       float64
	BatchTimeout       time.Duration
	ExportTimeout      time.Duration
	MaxExportBatchSize int
}

// NewTracer installs a global tracer provider exporting over OTLP/gRPC.
// The returned function flushes pending spans and shuts the provider down.
func NewTracer(ctx context.Context, opt *TracerOption) (func(context.Context) error, error) {
	if opt == nil || opt.Endpoint == "" {
		return nil, errors.New("tracer endpoint is not configured")
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opt.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opt.Name),
			attribute.String("version", opt.Version),
			attribute.String("environment", opt.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var batch []sdktrace.BatchSpanProcessorOption
	if opt.MaxExportBatchSize > 0 {
		batch = append(batch, sdktrace.WithMaxExportBatchSize(opt.MaxExportBatchSize))
	}
	if opt.BatchTimeout > 0 {
		batch = append(batch, sdktrace.WithBatchTimeout(opt.BatchTimeout))
	}
	if opt.ExportTimeout > 0 {
		batch = append(batch, sdktrace.WithExportTimeout(opt.ExportTimeout))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opt.SamplingRate))),
		sdktrace.WithBatcher(exp, batch...),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
