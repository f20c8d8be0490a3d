package rlm

import "context"

// Span names used by RLM. observer.NewTracer exports them through OTEL.
const (
	SpanSession    = "rlm.session"
	SpanRound      = "rlm.round"
	SpanExecute    = "rlm.execute"
	SpanSubQuery   = "rlm.sub_query"
)

// Tracer starts spans. Without one (the default) no spans are created.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span is an in-flight traced operation. End must be called exactly once.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	Event(name string, attrs ...SpanAttr)
	// Error marks the span failed. A nil error is ignored.
	Error(err error)
	End()
}

// SpanAttr is a key-value attribute. Value is a string, int, bool or float64.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(k, v string) SpanAttr          { return SpanAttr{Key: k, Value: v} }
func IntAttr(k string, v int) SpanAttr         { return SpanAttr{Key: k, Value: v} }
func BoolAttr(k string, v bool) SpanAttr       { return SpanAttr{Key: k, Value: v} }
func Float64Attr(k string, v float64) SpanAttr { return SpanAttr{Key: k, Value: v} }

func startSpan(ctx context.Context, t Tracer, name string, attrs ...SpanAttr) (context.Context, Span) {
	if t == nil {
		return ctx, nopSpan{}
	}
	return t.Start(ctx, name, attrs...)
}

type nopSpan struct{}

func (nopSpan) SetAttr(...SpanAttr)       {}
func (nopSpan) Event(string, ...SpanAttr) {}
func (nopSpan) Error(error)               {}
func (nopSpan) End()                      {}
