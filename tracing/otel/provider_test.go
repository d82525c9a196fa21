package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProviderConfig(t *testing.T) {
	cfg := DefaultProviderConfig()

	require.Equal(t, "nodegate", cfg.ServiceName)
	require.Equal(t, "none", cfg.Exporter)
	require.Equal(t, 0.1, cfg.SampleRate)
}

func TestNewProvider_Exporters(t *testing.T) {
	for _, exporter := range []string{"none", "", "stdout", "zipkin", "otlp-grpc", "otlp-http"} {
		t.Run(exporter, func(t *testing.T) {
			provider, err := NewProvider(ProviderConfig{
				ServiceName: "test-service",
				Exporter:    exporter,
				Endpoint:    "localhost:4317",
				SampleRate:  1.0,
				Insecure:    true,
			})
			require.NoError(t, err)
			require.NotNil(t, provider)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_ = provider.Shutdown(ctx)
		})
	}
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(ProviderConfig{
		ServiceName: "test-service",
		Exporter:    "invalid",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown exporter type")
}

func TestSetupGlobalTracer(t *testing.T) {
	tracer, shutdown, err := SetupGlobalTracer(ProviderConfig{
		ServiceName: "test-service",
		Exporter:    "none",
		SampleRate:  1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	_, span := tracer.StartSpan(context.Background(), "global")
	require.True(t, span.IsRecording())
	span.End()
}
