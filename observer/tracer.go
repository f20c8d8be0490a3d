package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/nevindra/rlm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an rlm.Tracer backed by the global OTEL TracerProvider.
// Call Init first; otherwise spans go to a no-op backend.
func NewTracer() rlm.Tracer {
	return TracerFrom(otel.Tracer(scopeName))
}

// TracerFrom adapts an OTEL tracer to rlm.Tracer.
func TracerFrom(t trace.Tracer) rlm.Tracer {
	return &spanTracer{inner: t}
}

type spanTracer struct {
	inner trace.Tracer
}

func (t *spanTracer) Start(ctx context.Context, name string, attrs ...rlm.SpanAttr) (context.Context, rlm.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(convertAttrs(attrs)...))
	return ctx, &spanAdapter{inner: span}
}

type spanAdapter struct {
	inner trace.Span
}

func (s *spanAdapter) SetAttr(attrs ...rlm.SpanAttr) {
	s.inner.SetAttributes(convertAttrs(attrs)...)
}

func (s *spanAdapter) Event(name string, attrs ...rlm.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(convertAttrs(attrs)...))
}

func (s *spanAdapter) Error(err error) {
	if err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *spanAdapter) End() { s.inner.End() }

func convertAttrs(attrs []rlm.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = convertAttr(a)
	}
	return out
}

// convertAttr maps a span attribute onto the closest OTEL type. Durations
// are recorded in milliseconds; anything else unknown is formatted as text.
func convertAttr(a rlm.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	case []string:
		return attribute.StringSlice(a.Key, v)
	case time.Duration:
		return attribute.Int64(a.Key, v.Milliseconds())
	default:
		return attribute.String(a.Key, fmt.Sprint(v))
	}
}

var (
	_ rlm.Tracer = (*spanTracer)(nil)
	_ rlm.Span   = (*spanAdapter)(nil)
)
