// Package tracing configures OpenTelemetry for the pipeline graph engine.
// Graph commands and pipeline API calls open spans on the global provider,
// so they are no-ops until Init installs an exporter.
package tracing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name shared by engine packages.
const InstrumentationName = "github.com/flexinfer/mentatlab/services/pipelinegraph-go"

// Span attribute keys used by graph commands and pipeline API calls.
const (
	PipelineKey = attribute.Key("pipeline.uuid")
	NodeKey     = attribute.Key("node.uuid")
	NodesKey    = attribute.Key("node.uuids")
	NodeTypeKey = attribute.Key("node.type")
	SourceKey   = attribute.Key("source.uuid")
	TargetKey   = attribute.Key("target.uuid")
	SlotKey     = attribute.Key("slot")
)

// Resource attribute keys describing how an engine instance is wired.
const (
	ComponentKey     = attribute.Key("mentatlab.component")
	PipelineStoreKey = attribute.Key("pipelinegraph.pipeline_store")
	PositionStoreKey = attribute.Key("pipelinegraph.position_store")
	HistoryLimitKey  = attribute.Key("pipelinegraph.history_limit")
)

// Config holds tracing configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the gRPC collector address, e.g. "localhost:4317".
	OTLPEndpoint string
	Enabled      bool
	SampleRate   float64

	// Backends and history depth are stamped on the resource so traces
	// from differently wired instances can be told apart.
	PipelineStore string
	PositionStore string
	HistoryLimit  int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "mentatlab-pipelinegraph",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		PipelineStore:  "memory",
		PositionStore:  "memory",
		HistoryLimit:   50,
	}
}

// Provider wraps the OpenTelemetry TracerProvider.
type Provider struct {
	provider *sdktrace.TracerProvider
	logger   *slog.Logger
}

// Init installs a batching OTLP provider as the global tracer provider.
// With tracing disabled it returns a Provider whose Shutdown is a no-op.
func Init(ctx context.Context, cfg *Config, logger *slog.Logger) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return &Provider{logger: logger}, nil
	}

	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.Float64("sample_rate", cfg.SampleRate),
		slog.String("pipeline_store", cfg.PipelineStore),
		slog.String("position_store", cfg.PositionStore),
	)
	return &Provider{provider: tp, logger: logger}, nil
}

// Resource describes this engine instance: service identity plus the
// store backends and history limit it runs with.
func Resource(cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		ComponentKey.String("pipelinegraph"),
		PipelineStoreKey.String(cfg.PipelineStore),
		PositionStoreKey.String(cfg.PositionStore),
		HistoryLimitKey.Int(cfg.HistoryLimit),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// Sampler maps a sample rate onto a parent-based sampler.
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0.0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the engine tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Fail marks span as failed with err. A nil err leaves the span untouched.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	p.logger.Info("shutting down tracer provider...")
	return p.provider.Shutdown(ctx)
}

// TracerProvider returns the underlying TracerProvider, nil when disabled.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	return p.provider
}
