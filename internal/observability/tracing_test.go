package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanRecords(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tp := &TracerProvider{provider: provider, tracer: provider.Tracer("test")}

	ctx, span := tp.StartSpan(context.Background(), "ingest")
	_, child := tp.StartSpan(ctx, "ingest.analyze")
	child.End()
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "ingest.analyze", ended[0].Name())
	assert.Equal(t, "ingest", ended[1].Name())
	assert.Equal(t, ended[1].SpanContext().TraceID(), ended[0].SpanContext().TraceID(),
		"child span should share the parent's trace")
}

func TestStartSpanWithoutProvider(t *testing.T) {
	var tp *TracerProvider

	ctx, span := tp.StartSpan(context.Background(), "ingest")
	assert.NotNil(t, ctx)
	span.End()

	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	tp, err := InitTracing("tabgraph-backend", "test", "")
	assert.NoError(t, err)
	assert.Nil(t, tp)
}
