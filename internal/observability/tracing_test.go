package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracing(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitTracing(ctx, TracingConfig{ServiceName: "test", Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))

	_, err = InitTracing(ctx, TracingConfig{ServiceName: "test", Enabled: true, Exporter: "jaeger"})
	assert.Error(t, err)

	shutdown, err = InitTracing(ctx, TracingConfig{
		ServiceName: "test", Environment: "test", Enabled: true, Exporter: ExporterStdout, SampleRatio: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(ctx) })

	span, spanCtx := NewSpan(ctx, "unit")
	span.SetError(errors.New("boom"))
	span.SetError(nil)
	span.End()
	assert.Len(t, TraceIDFromContext(spanCtx), 32)
	assert.Empty(t, TraceIDFromContext(ctx))
}
