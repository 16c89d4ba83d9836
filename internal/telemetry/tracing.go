// Package telemetry sets up OpenTelemetry tracing for job runs.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracerName is the instrumentation scope used by crawler spans.
const TracerName = "github.com/JakeFAU/site-crawler"

// Config controls the tracer provider.
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// LogSpans writes every finished span to the logger at debug level.
	LogSpans bool `mapstructure:"log_spans"`
}

// InitTracerProvider installs the global tracer provider and W3C propagators.
// Extra span processors (exporters) can be attached by the caller.
func InitTracerProvider(ctx context.Context, cfg Config, logger *zap.Logger, processors ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "site-crawler"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		ratio := cfg.SampleRatio
		if ratio <= 0 {
			ratio = 1
		}
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if cfg.LogSpans {
		opts = append(opts, sdktrace.WithSpanProcessor(NewLogProcessor(logger)))
	}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// Tracer returns the crawler tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// LogFields returns zap fields carrying the trace and span ids of ctx, if any.
func LogFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// LogProcessor is a span processor that logs finished spans.
type LogProcessor struct {
	logger *zap.Logger
}

// NewLogProcessor builds a LogProcessor.
func NewLogProcessor(logger *zap.Logger) *LogProcessor {
	return &LogProcessor{logger: logger.With(zap.String("component", "tracing"))}
}

// OnStart implements sdktrace.SpanProcessor.
func (*LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd implements sdktrace.SpanProcessor.
func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := []zap.Field{
		zap.String("span", s.Name()),
		zap.String("trace_id", s.SpanContext().TraceID().String()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
		zap.String("status", s.Status().Code.String()),
	}
	for _, attr := range s.Attributes() {
		fields = append(fields, zap.String(string(attr.Key), attr.Value.Emit()))
	}
	p.logger.Debug("span finished", fields...)
}

// Shutdown implements sdktrace.SpanProcessor.
func (*LogProcessor) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (*LogProcessor) ForceFlush(context.Context) error { return nil }
