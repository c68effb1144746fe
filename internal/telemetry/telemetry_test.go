package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/eval-hub/model-arena/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	t.Run("none keeps the no-op provider", func(t *testing.T) {
		shutdown, err := setup(context.Background(), &config.TelemetryConfig{Exporter: ExporterNone}, "test", &bytes.Buffer{})
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	})

	t.Run("stdout writes the finished spans", func(t *testing.T) {
		out := &bytes.Buffer{}
		shutdown, err := setup(context.Background(), &config.TelemetryConfig{Exporter: ExporterStdout, ServiceName: "arena-test"}, "test", out)
		require.NoError(t, err)

		_, span := otel.Tracer("telemetry-test").Start(context.Background(), "participant.repetition")
		assert.True(t, span.SpanContext().HasTraceID())
		span.End()

		require.NoError(t, shutdown(context.Background()))
		assert.Contains(t, out.String(), "participant.repetition")
		assert.Contains(t, out.String(), "arena-test")
	})

	t.Run("unknown exporters are rejected", func(t *testing.T) {
		_, err := setup(context.Background(), &config.TelemetryConfig{Exporter: "zipkin"}, "test", &bytes.Buffer{})
		require.Error(t, err)
	})
}
