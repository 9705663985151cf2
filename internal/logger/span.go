package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "aex-preference-estimator"

// SpanContext wraps a span started with StartSpan.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

func (sc *SpanContext) Context() context.Context { return sc.ctx }

func (sc *SpanContext) Span() trace.Span { return sc.span }

// Fail records err on the span and marks it as errored.
func (sc *SpanContext) Fail(err error) {
	sc.span.RecordError(err)
	sc.span.SetStatus(codes.Error, err.Error())
}

func (sc *SpanContext) End() { sc.span.End() }
