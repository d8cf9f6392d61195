package otelhelper_test

import (
	"errors"
	"testing"

	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := otelhelper.StartSpan(t.Context(), tracer, "node.execute",
		attribute.String(otelhelper.NodeIDKey, "a"),
	)
	otelhelper.SetError(span, errors.New("boom"), attribute.Int(otelhelper.AttemptKey, 2))
	span.End()

	ended := recorder.Ended()
	if assert.Len(t, ended, 1) {
		assert.Equal(t, "node.execute", ended[0].Name())
		assert.Equal(t, codes.Error, ended[0].Status().Code)
		assert.Equal(t, "boom", ended[0].Status().Description)
		assert.Contains(t, ended[0].Attributes(), attribute.String(otelhelper.NodeIDKey, "a"))
	}
}

func TestNoopTracer(t *testing.T) {
	_, span := otelhelper.StartSpan(t.Context(), otelhelper.NoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.IsRecording())
}
