package observer

import (
	"context"
	"time"

	"github.com/nevindra/rlm"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRuntime wraps an rlm.Runtime so every session it starts is
// instrumented.
type ObservedRuntime struct {
	inner rlm.Runtime
	inst  *Instruments
	name  string
}

// WrapRuntime returns an instrumented runtime. name labels its metrics
// ("subprocess", "docker", "remote").
func WrapRuntime(inner rlm.Runtime, name string, inst *Instruments) *ObservedRuntime {
	return &ObservedRuntime{inner: inner, inst: inst, name: name}
}

func (o *ObservedRuntime) Start(ctx context.Context, c rlm.Context, query rlm.QueryFunc) (rlm.Sandbox, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.start", trace.WithAttributes(
		attribute.String("sandbox.runtime", o.name),
		AttrContextKind.String(string(c.Kind)),
		AttrContextBytes.Int(c.Len()),
	))
	defer span.End()

	sb, err := o.inner.Start(ctx, c, query)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.inst.SandboxSessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sandbox.runtime", o.name),
		attribute.String("status", status),
	))
	if err != nil {
		return nil, err
	}
	return &ObservedSandbox{inner: sb, inst: o.inst, runtime: o.name}, nil
}

// ObservedSandbox wraps an rlm.Sandbox with OTEL instrumentation.
type ObservedSandbox struct {
	inner   rlm.Sandbox
	inst    *Instruments
	runtime string
}

func (o *ObservedSandbox) Execute(ctx context.Context, code string) (rlm.ExecutionResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.execute", trace.WithAttributes(
		attribute.String("sandbox.runtime", o.runtime),
		AttrCodeLength.Int(len(code)),
	))
	defer span.End()
	start := time.Now()

	res, err := o.inner.Execute(ctx, code)

	durationMs := float64(time.Since(start).Milliseconds())
	status := executionStatus(res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		AttrExecStatus.String(status),
		AttrStdoutLength.Int(len(res.Stdout)),
		AttrStderrLength.Int(len(res.Stderr)),
	)

	o.inst.SandboxExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sandbox.runtime", o.runtime),
		attribute.String("status", status),
	))
	o.inst.SandboxDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("sandbox.runtime", o.runtime),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	if status != "ok" {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	rec.SetBody(otellog.StringValue("code block executed"))
	rec.AddAttributes(
		otellog.String("sandbox.runtime", o.runtime),
		otellog.String("sandbox.status", status),
		otellog.Int("sandbox.code_length", len(code)),
		otellog.Float64("sandbox.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return res, err
}

func (o *ObservedSandbox) Lookup(ctx context.Context, name string) (string, bool, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.lookup", trace.WithAttributes(
		attribute.String("sandbox.variable", name),
	))
	defer span.End()

	v, ok, err := o.inner.Lookup(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("sandbox.found", ok))
	return v, ok, err
}

func (o *ObservedSandbox) Close() error { return o.inner.Close() }

// executionStatus is "error" when the session failed, "stderr" when the code
// reported errors and "ok" otherwise.
func executionStatus(res rlm.ExecutionResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Stderr != "":
		return "stderr"
	default:
		return "ok"
	}
}

var (
	_ rlm.Runtime = (*ObservedRuntime)(nil)
	_ rlm.Sandbox = (*ObservedSandbox)(nil)
)
