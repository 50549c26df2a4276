package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"domainop/internal/config"
)

func TestNewTracerProvider(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.TelemetryConfig
		expectNoOp bool
	}{
		{
			name:       "returns no-op provider when telemetry disabled",
			cfg:        config.GetDefaultConfig().Telemetry,
			expectNoOp: true,
		},
		{
			name: "returns SDK provider when telemetry enabled",
			cfg: config.TelemetryConfig{
				Enabled:  true,
				Endpoint: "localhost:4318",
				Insecure: true,
				Sampling: 0.5,
			},
			expectNoOp: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, err := NewTracerProvider(context.Background(), tt.cfg, "v0.1.0")
			require.NoError(t, err)
			require.NotNil(t, tp)

			if tt.expectNoOp {
				_, ok := tp.(noop.TracerProvider)
				assert.True(t, ok, "expected no-op tracer provider")
			} else {
				_, ok := tp.(*sdktrace.TracerProvider)
				assert.True(t, ok, "expected SDK tracer provider")
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = Shutdown(ctx, tp)
		})
	}
}

func TestShutdown_NoOpProvider(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), noop.NewTracerProvider()))
}

func TestShutdown_SDKProvider(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	require.NoError(t, Shutdown(context.Background(), tp))

	_, span := tp.Tracer(TracerName).Start(context.Background(), "after-shutdown")
	assert.False(t, span.IsRecording())
}
