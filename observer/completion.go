package observer

import (
	"context"
	"time"

	"github.com/nevindra/rlm"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Completer is the entry point of an rlm session. *rlm.RLM implements it.
type Completer interface {
	Completion(ctx context.Context, input any, query string) (rlm.Result, error)
}

// ObservedCompleter wraps a Completer with a parent span covering the whole
// session. LLM and sandbox spans created inside become its children through
// context propagation.
type ObservedCompleter struct {
	inner    Completer
	inst     *Instruments
	model    string
	subModel string
}

// WrapCompleter returns an instrumented Completer. model and subModel price
// the root and llm_query usage of each result.
func WrapCompleter(inner Completer, model, subModel string, inst *Instruments) *ObservedCompleter {
	if subModel == "" {
		subModel = model
	}
	return &ObservedCompleter{inner: inner, inst: inst, model: model, subModel: subModel}
}

func (o *ObservedCompleter) Completion(ctx context.Context, input any, query string) (rlm.Result, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "rlm.completion", trace.WithAttributes(
		AttrQueryLength.Int(len(query)),
	))
	defer span.End()
	start := time.Now()

	res, err := o.inner.Completion(ctx, input, query)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	switch {
	case ctx.Err() != nil && err != nil:
		status = "cancelled"
		span.SetStatus(codes.Error, "cancelled")
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Forced:
		status = "forced"
	}

	cost := o.inst.Cost.Usage(o.model, res.Usage) + o.inst.Cost.Usage(o.subModel, res.SubUsage)
	span.SetAttributes(
		AttrSessionID.String(res.SessionID),
		AttrStatus.String(status),
		AttrRounds.Int(res.Iterations),
		AttrForced.Bool(res.Forced),
		AttrTokensInput.Int(res.Usage.InputTokens+res.SubUsage.InputTokens),
		AttrTokensOutput.Int(res.Usage.OutputTokens+res.SubUsage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.Completions.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
	o.inst.CompletionDuration.Record(ctx, durationMs)
	o.inst.CompletionRounds.Record(ctx, int64(res.Iterations))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("completion finished"))
	rec.AddAttributes(
		otellog.String("rlm.session_id", res.SessionID),
		otellog.String("rlm.status", status),
		otellog.Int("rlm.rounds", res.Iterations),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return res, err
}

var _ Completer = (*rlm.RLM)(nil)
