// Package tracing provides OpenTelemetry-based distributed tracing
// infrastructure. It supports multiple exporters (stdout, OTLP) and provides
// domain-specific span helpers for drain passes, operation dispatch, and
// conflict resolution.
package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the quotedesk tracer.
	TracerName = "github.com/quotedesk/quotedesk"

	// Version is the semantic version of the tracer.
	Version = "1.0.0"
)

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

// Config holds tracing configuration.
type Config struct {
	Enabled      bool         // Whether tracing is enabled
	ExporterType ExporterType // Type of exporter to use
	OTLPEndpoint string       // OTLP collector endpoint (for OTLP exporter)
	ServiceName  string       // Service name for traces
	Environment  string       // Deployment environment (development, production)
	SampleRate   float64      // Sampling rate (0.0 to 1.0)
	Output       io.Writer    // Output for stdout exporter (defaults to os.Stdout)
}

// DefaultConfig returns sensible default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ExporterType: ExporterNone,
		ServiceName:  "quotedesk",
		Environment:  "development",
		SampleRate:   1.0,
	}
}

// Tracer wraps an OpenTelemetry tracer with domain-specific functionality.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	config   Config
}

// global is the package-level default tracer.
var (
	global     *Tracer
	globalOnce sync.Once
)

// Init initializes the global tracer with the provided configuration.
func Init(ctx context.Context, cfg Config) (*Tracer, error) {
	var err error
	globalOnce.Do(func() {
		global, err = New(ctx, cfg)
	})
	return global, err
}

// Default returns the global tracer, or a no-op tracer if not initialized.
func Default() *Tracer {
	if global == nil {
		return &Tracer{
			tracer: otel.Tracer(TracerName),
			config: DefaultConfig(),
		}
	}
	return global
}

// New creates a new Tracer with the provided configuration.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		return &Tracer{
			tracer: noop.NewTracerProvider().Tracer(TracerName),
			config: cfg,
		}, nil
	}

	// Create exporter
	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Create resource without merging with Default() to avoid schema URL conflicts.
	// The default resource's schema URL may conflict with our semconv version.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create sampler
	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	// Create tracer provider
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global propagator
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Set global tracer provider
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(TracerName, trace.WithInstrumentationVersion(Version)),
		provider: provider,
		config:   cfg,
	}, nil
}

// createExporter creates the appropriate exporter based on configuration.
func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		opts := []stdouttrace.Option{
			stdouttrace.WithPrettyPrint(),
		}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)

	case ExporterOTLP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithInsecure(),
		}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// Shutdown gracefully shuts down the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// Start starts a new span with the given name.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// --- Domain-specific span helpers ---

// DrainSpan represents a queue drain pass span.
type DrainSpan struct {
	span trace.Span
	ctx  context.Context
}

// StartDrainSpan starts a span for a queue drain pass.
func (t *Tracer) StartDrainSpan(ctx context.Context, pending int, trigger string) (context.Context, *DrainSpan) {
	ctx, span := t.tracer.Start(ctx, "queue.drain",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("queue.pending", pending),
			attribute.String("queue.trigger", trigger),
		),
	)

	return ctx, &DrainSpan{span: span, ctx: ctx}
}

// SetOutcome sets the per-pass delivery counters.
func (ds *DrainSpan) SetOutcome(delivered, failed, evicted int) {
	ds.span.SetAttributes(
		attribute.Int("queue.delivered", delivered),
		attribute.Int("queue.failed", failed),
		attribute.Int("queue.evicted", evicted),
	)
}

// SetAborted marks a pass that stopped before the queue was empty.
func (ds *DrainSpan) SetAborted(reason string) {
	ds.span.SetAttributes(attribute.String("queue.aborted", reason))
}

// End ends the drain span with success status.
func (ds *DrainSpan) End() {
	ds.span.SetStatus(codes.Ok, "drain pass completed")
	ds.span.End()
}

// EndWithError ends the drain span with error status.
func (ds *DrainSpan) EndWithError(err error) {
	ds.span.RecordError(err)
	ds.span.SetStatus(codes.Error, err.Error())
	ds.span.End()
}

// OperationSpan represents a single operation dispatch span.
type OperationSpan struct {
	span trace.Span
	ctx  context.Context
}

// StartOperationSpan starts a span for dispatching one queued operation.
func (t *Tracer) StartOperationSpan(ctx context.Context, opID, kind, entityType, entityID string) (context.Context, *OperationSpan) {
	ctx, span := t.tracer.Start(ctx, "operation.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("operation.id", opID),
			attribute.String("operation.kind", kind),
			attribute.String("entity.type", entityType),
			attribute.String("entity.id", entityID),
		),
	)

	return ctx, &OperationSpan{span: span, ctx: ctx}
}

// SetRetryCount sets the retry count at dispatch time.
func (os *OperationSpan) SetRetryCount(count int) {
	os.span.SetAttributes(attribute.Int("operation.retry_count", count))
}

// SetRemoteVersion sets the version the remote store holds after the write.
func (os *OperationSpan) SetRemoteVersion(version int64) {
	os.span.SetAttributes(attribute.Int64("operation.remote_version", version))
}

// End ends the operation span with success status.
func (os *OperationSpan) End() {
	os.span.SetStatus(codes.Ok, "operation delivered")
	os.span.End()
}

// EndWithError ends the operation span with error status.
func (os *OperationSpan) EndWithError(err error) {
	os.span.RecordError(err)
	os.span.SetStatus(codes.Error, err.Error())
	os.span.End()
}

// ConflictSpan represents a conflict resolution span.
type ConflictSpan struct {
	span trace.Span
	ctx  context.Context
}

// StartConflictSpan starts a span for resolving a version conflict.
func (t *Tracer) StartConflictSpan(ctx context.Context, entityType, entityID string, localVersion, remoteVersion int64) (context.Context, *ConflictSpan) {
	ctx, span := t.tracer.Start(ctx, "conflict.resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("entity.type", entityType),
			attribute.String("entity.id", entityID),
			attribute.Int64("conflict.local_version", localVersion),
			attribute.Int64("conflict.remote_version", remoteVersion),
		),
	)

	return ctx, &ConflictSpan{span: span, ctx: ctx}
}

// SetResolution sets the resolution outcome attributes.
func (cs *ConflictSpan) SetResolution(strategy string, changedFields, droppedFields int) {
	cs.span.SetAttributes(
		attribute.String("conflict.strategy", strategy),
		attribute.Int("conflict.changed_fields", changedFields),
		attribute.Int("conflict.dropped_local_fields", droppedFields),
	)
}

// End ends the conflict span with success status.
func (cs *ConflictSpan) End() {
	cs.span.SetStatus(codes.Ok, "conflict resolved")
	cs.span.End()
}

// EndWithError ends the conflict span with error status.
func (cs *ConflictSpan) EndWithError(err error) {
	cs.span.RecordError(err)
	cs.span.SetStatus(codes.Error, err.Error())
	cs.span.End()
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// SetAttribute sets an attribute on the current span.
func SetAttribute(ctx context.Context, key string, value any) {
	span := trace.SpanFromContext(ctx)
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	}
}
