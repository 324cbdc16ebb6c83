package otelx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "off")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317/")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	t.Setenv("OTEL_EXPORT_TIMEOUT", "bogus")
	t.Setenv("DEPLOY_ENV", "staging")

	cfg := ConfigFromEnv("booking-service", RoleReaper)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, 3*time.Second, cfg.ExportTimeout)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, RoleReaper, cfg.Role)
	assert.Contains(t, cfg.Sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestProductionSamplesByDefault(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	t.Setenv("OTEL_SAMPLING_RATIO", "")
	assert.Equal(t, 0.1, ConfigFromEnv("booking-service", RoleAPI).SampleRatio)

	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	assert.Equal(t, 0.1, ConfigFromEnv("booking-service", RoleAPI).SampleRatio)

	t.Setenv("OTEL_SAMPLING_RATIO", "1")
	cfg := ConfigFromEnv("booking-service", RoleAPI)
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.Contains(t, cfg.Sampler().Description(), "AlwaysOnSampler")
}

func TestResourceAttributes(t *testing.T) {
	cfg := Config{ServiceName: "booking-service", Role: RoleAPI, Version: "1.4.0", Environment: "staging", Region: "eu-west-1"}
	res, err := cfg.Resource(context.Background())
	require.NoError(t, err)

	set := res.Set()
	for key, want := range map[string]string{
		string(semconv.ServiceNameKey):           "booking-service",
		string(semconv.ServiceNamespaceKey):      Namespace,
		string(semconv.ServiceVersionKey):        "1.4.0",
		string(semconv.DeploymentEnvironmentKey): "staging",
		"salonbook.role":                         RoleAPI,
		"salonbook.region":                       "eu-west-1",
	} {
		v, ok := set.Value(attribute.Key(key))
		require.True(t, ok, key)
		assert.Equal(t, want, v.AsString(), key)
	}
}

func TestSetupDisabledInstallsPropagators(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ctx := ContextWithTraceContext(context.Background(), "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "")
	traceparent, _ := TraceContextStrings(ctx)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", traceparent)
}
