package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown of a disabled provider: %v", err)
	}
	_, span := StartSpan(context.Background(), "test", "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("disabled tracing must produce invalid span contexts")
	}
	span.End()
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "reeltime/test", "ListSegments")
	AddSpanAttributes(span, map[string]any{
		"project_id": "demo",
		"segments":   3,
		"ignored":    []string{"x"},
	})
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	got := ended[0]
	if got.Name() != "ListSegments" {
		t.Fatalf("unexpected span name %q", got.Name())
	}
	if len(got.Attributes()) != 2 {
		t.Fatalf("expected two attributes, got %v", got.Attributes())
	}
	if got.Status().Code != codes.Error || len(got.Events()) != 1 {
		t.Fatalf("expected an error status and one error event, got %+v", got.Status())
	}
}

func TestSampler(t *testing.T) {
	for _, rate := range []float64{-1, 0, 0.25, 1, 2} {
		if Sampler(rate) == nil {
			t.Fatalf("nil sampler for rate %v", rate)
		}
	}
	if d := Sampler(1).Description(); d == Sampler(0).Description() {
		t.Fatalf("always and never samplers must differ, both %q", d)
	}
}
