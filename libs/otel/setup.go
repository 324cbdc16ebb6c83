package otelx

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Namespace groups every salonbook process under one service.namespace.
const Namespace = "salonbook"

// Process roles recorded as salonbook.role on the trace resource.
const (
	RoleAPI    = "api"
	RoleReaper = "reaper"
)

type Config struct {
	Enabled       bool
	ServiceName   string
	Role          string
	Version       string
	Environment   string
	Region        string
	OTLPEndpoint  string // host:port
	Insecure      bool
	SampleRatio   float64
	ExportTimeout time.Duration
}

// ConfigFromEnv reads the tracing settings for one salonbook process. A
// ratio outside [0,1] or a malformed duration falls back to its default.
func ConfigFromEnv(serviceName, role string) Config {
	cfg := Config{
		Enabled:       boolEnv("OTEL_ENABLED", true),
		ServiceName:   serviceName,
		Role:          role,
		Version:       getenv("SALONBOOK_VERSION", "dev"),
		Environment:   getenv("DEPLOY_ENV", "local"),
		Region:        getenv("SALONBOOK_REGION", ""),
		OTLPEndpoint:  endpointEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Insecure:      boolEnv("OTEL_EXPORTER_OTLP_INSECURE", true),
		SampleRatio:   1,
		ExportTimeout: 3 * time.Second,
	}
	// Production samples a tenth of root traces unless a valid ratio is set.
	if cfg.Environment == "production" {
		cfg.SampleRatio = 0.1
	}
	if f, err := strconv.ParseFloat(getenv("OTEL_SAMPLING_RATIO", ""), 64); err == nil && f >= 0 && f <= 1 {
		cfg.SampleRatio = f
	}
	if d, err := time.ParseDuration(getenv("OTEL_EXPORT_TIMEOUT", "")); err == nil && d > 0 {
		cfg.ExportTimeout = d
	}
	return cfg
}

// Resource describes the process on every exported span.
func (c Config) Resource(ctx context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceNamespace(Namespace),
		semconv.ServiceVersion(c.Version),
		semconv.DeploymentEnvironment(c.Environment),
		attribute.String("salonbook.role", c.Role),
	}
	if c.Region != "" {
		attrs = append(attrs, attribute.String("salonbook.region", c.Region))
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.ServiceInstanceID(fmt.Sprintf("%s/%s", host, c.Role)))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// Sampler honours an incoming parent decision and otherwise samples by ratio.
func (c Config) Sampler() sdktrace.Sampler {
	switch {
	case c.SampleRatio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case c.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
	}
}

// Setup installs the W3C propagators and, when enabled, a batching OTLP
// tracer provider. Call the returned func during graceful shutdown.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := cfg.Resource(ctx)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(cfg.Sampler()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func endpointEnv(key, fallback string) string {
	v := getenv(key, fallback)
	for _, scheme := range []string{"http://", "https://", "grpc://"} {
		v = strings.TrimPrefix(v, scheme)
	}
	return strings.TrimSuffix(v, "/")
}

func boolEnv(key string, fallback bool) bool {
	switch strings.ToLower(getenv(key, "")) {
	case "":
		return fallback
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
