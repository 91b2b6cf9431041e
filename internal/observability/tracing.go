package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mcphub-go/internal/config"
)

// TracingManager manages OpenTelemetry tracing. A disabled manager hands out
// the span already in the context so callers never need nil checks.
type TracingManager struct {
	logger   *zap.SugaredLogger
	config   config.TracingConfig
	version  string
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
	enabled  bool
}

// NewTracingManager creates a new tracing manager
func NewTracingManager(logger *zap.SugaredLogger, cfg *config.TracingConfig, version string) (*TracingManager, error) {
	tm := &TracingManager{logger: logger, version: version}
	if cfg != nil {
		tm.config = *cfg
		tm.enabled = cfg.Enabled
	}

	if !tm.enabled {
		logger.Debug("OpenTelemetry tracing disabled")
		return tm, nil
	}

	if err := tm.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	logger.Infow("OpenTelemetry tracing initialized",
		"service_name", tm.config.ServiceName,
		"otlp_endpoint", tm.config.OTLPEndpoint,
		"sample_rate", tm.config.SampleRate)

	return tm, nil
}

func (tm *TracingManager) initTracing() error {
	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(tm.config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.version),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tm.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(tm.config.SampleRate)),
	)

	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tm.tracer = otel.Tracer(tm.config.ServiceName)
	return nil
}

// Close flushes and shuts down the tracing provider
func (tm *TracingManager) Close(ctx context.Context) error {
	if tm == nil || !tm.enabled || tm.provider == nil {
		return nil
	}
	tm.logger.Debug("Shutting down OpenTelemetry tracing")
	return tm.provider.Shutdown(ctx)
}

// StartSpan starts a new trace span
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if tm == nil || !tm.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// TraceHubRequest starts a client span for one gateway request
func (tm *TracingManager) TraceHubRequest(ctx context.Context, method, route, requestID string) (context.Context, oteltrace.Span) {
	if tm == nil || !tm.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, method+" "+route,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPTargetKey.String(route),
			attribute.String("request.id", requestID),
		),
	)
}

// TraceToolCall creates a span for tool and resource invocations
func (tm *TracingManager) TraceToolCall(ctx context.Context, serverName, capability, kind string) (context.Context, oteltrace.Span) {
	if tm == nil || !tm.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, "capability.invoke",
		oteltrace.WithAttributes(
			attribute.String("capability.server", serverName),
			attribute.String("capability.name", capability),
			attribute.String("capability.kind", kind),
		),
	)
}

// InjectHeaders writes the trace context of ctx into outgoing request headers
func (tm *TracingManager) InjectHeaders(ctx context.Context, header http.Header) {
	if tm == nil || !tm.enabled {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span oteltrace.Span, statusCode int, err error) {
	if statusCode > 0 {
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(statusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// IsEnabled returns whether tracing is enabled
func (tm *TracingManager) IsEnabled() bool {
	return tm != nil && tm.enabled
}
