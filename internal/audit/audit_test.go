package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestStartReturnsUsableSpanAndEndFunc(t *testing.T) {
	tr := New(noop.NewTracerProvider().Tracer("test"))
	ctx, span, end := tr.Start(context.Background(), "create")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	end()
}

func TestNewStdoutBuildsATracer(t *testing.T) {
	tr, shutdown, err := NewStdout()
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span, end := tr.Start(context.Background(), "search")
	defer end()
	require.NotNil(t, span)
}
