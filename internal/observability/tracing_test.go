package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerNoEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil || tracer.tracer == nil {
		t.Fatal("NewTracer() returned an unusable tracer")
	}
	if tracer.provider != nil {
		t.Error("no-op tracer should not own a provider")
	}
	if tracer.config.ServiceName != "foreman" {
		t.Errorf("ServiceName = %q, want foreman", tracer.config.ServiceName)
	}
}

func TestTracerStartSpans(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.TraceStep(context.Background(), "step-1", "create_task")
	if ctx == nil || span == nil {
		t.Fatal("TraceStep returned nil")
	}
	span.End()

	_, span = tracer.TracePlan(context.Background(), "execute", "sess-1")
	span.End()
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	ctx := context.Background()
	got, span := tracer.Start(ctx, "noop")
	if got != ctx {
		t.Error("nil tracer should return the input context")
	}
	span.End()
	if GetTraceID(ctx) != "" {
		t.Error("expected empty trace id without a span")
	}
}

func TestWithSpan(t *testing.T) {
	tracer, _ := NewTracer(TraceConfig{})
	want := errors.New("boom")

	err := WithSpan(context.Background(), tracer, "op", func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("WithSpan() error = %v, want %v", err, want)
	}

	if err := WithSpan(context.Background(), tracer, "op", func(context.Context) error { return nil }); err != nil {
		t.Errorf("WithSpan() error = %v", err)
	}
}
