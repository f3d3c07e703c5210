package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Observability owns the query-level telemetry: spans for each coordinator
// query and the per-action query counter and latency histogram.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	queryCounter   otelmetric.Int64Counter
	queryDuration  otelmetric.Float64Histogram
}

type options struct {
	processors    []sdktrace.SpanProcessor
	exportMetrics bool
}

type Option func(*options)

// WithSpanProcessor adds a processor to the tracer provider.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, sp) }
}

// WithSpanExporter batches finished spans to exp. A nil exporter is ignored.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		if exp != nil {
			o.processors = append(o.processors, sdktrace.NewBatchSpanProcessor(exp))
		}
	}
}

// WithoutMetricsExport keeps instruments off the Prometheus registry.
func WithoutMetricsExport() Option {
	return func(o *options) { o.exportMetrics = false }
}

// NewSpanExporter builds the trace exporter named by the tracing config:
// "stdout" writes spans as JSON, "none" or "" disables export.
func NewSpanExporter(name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter: %q", name)
	}
}

// New wires an OTel meter exported through the Prometheus registry and a
// tracer whose spans go to the configured processors. On exporter failure it
// degrades to no-op instruments.
func New(serviceName string, opts ...Option) *Observability {
	o := options{exportMetrics: true}
	for _, opt := range opts {
		opt(&o)
	}

	tpOpts := make([]sdktrace.TracerProviderOption, 0, len(o.processors))
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	obs := &Observability{
		tracerProvider: tp,
		tracer:         tp.Tracer(serviceName),
	}

	if !o.exportMetrics {
		obs.initInstruments(noop.NewMeterProvider().Meter(serviceName))
		return obs
	}

	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		obs.initInstruments(noop.NewMeterProvider().Meter(serviceName))
		return obs
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	obs.meterProvider = provider
	obs.initInstruments(provider.Meter(serviceName))

	return obs
}

// NewNoop returns an Observability that records nothing.
func NewNoop() *Observability {
	obs := &Observability{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
	obs.initInstruments(noop.NewMeterProvider().Meter("noop"))
	return obs
}

func (o *Observability) initInstruments(meter otelmetric.Meter) {
	o.queryCounter, _ = meter.Int64Counter(
		"mengla.queries",
		otelmetric.WithDescription("Coordinator queries, by action and outcome"),
	)
	o.queryDuration, _ = meter.Float64Histogram(
		"mengla.query.duration",
		otelmetric.WithDescription("Coordinator query duration, by action and outcome"),
		otelmetric.WithUnit("s"),
		otelmetric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45),
	)
}

// StartSpan opens a span named name under ctx.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordQuery is the single record of a finished query; outcome is one of
// cache_hit, resolved, timeout or error.
func (o *Observability) RecordQuery(ctx context.Context, action, outcome string, duration time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)
	if o.queryCounter != nil {
		o.queryCounter.Add(ctx, 1, attrs)
	}
	if o.queryDuration != nil {
		o.queryDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// Shutdown flushes pending spans and stops the providers.
func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
}
