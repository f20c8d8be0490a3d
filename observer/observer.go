// Package observer provides OTEL-based observability for rlm sessions.
//
// It wraps Provider, Runtime and the completion entry point with instrumented
// versions that emit traces, metrics, and logs via OpenTelemetry. Users export
// to any OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/rlm/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	TokenUsage        metric.Int64Counter
	CostTotal         metric.Float64Counter
	LLMRequests       metric.Int64Counter
	SandboxSessions   metric.Int64Counter
	SandboxExecutions metric.Int64Counter

	// Histograms
	LLMDuration     metric.Float64Histogram
	SandboxDuration metric.Float64Histogram

	// Session-level
	Completions        metric.Int64Counter
	CompletionDuration metric.Float64Histogram
	CompletionRounds   metric.Int64Histogram

	Cost *CostCalculator
}

// Init installs global OTEL trace, metric and log providers exporting over
// OTLP/HTTP. Endpoints and headers come from the standard OTEL_EXPORTER_OTLP_*
// env vars. The returned shutdown flushes all three and must be called on exit.
func Init(ctx context.Context, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("rlm")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Instruments, func(context.Context) error, error) {
		_ = shutdown(ctx)
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	shutdowns = append(shutdowns, tp.Shutdown)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	shutdowns = append(shutdowns, mp.Shutdown)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	shutdowns = append(shutdowns, lp.Shutdown)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(pricing)
	if err != nil {
		return fail(err)
	}
	return inst, shutdown, nil
}

func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	meter := otel.Meter(scopeName)
	inst := &Instruments{
		Tracer: otel.Tracer(scopeName),
		Meter:  meter,
		Logger: global.GetLoggerProvider().Logger(scopeName),
		Cost:   NewCostCalculator(pricing),
	}

	var err error
	if inst.TokenUsage, err = meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if inst.CostTotal, err = meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Cumulative LLM cost in USD"),
		metric.WithUnit("USD")); err != nil {
		return nil, err
	}
	if inst.LLMRequests, err = meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if inst.LLMDuration, err = meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.SandboxSessions, err = meter.Int64Counter("sandbox.sessions",
		metric.WithDescription("Sandbox sessions started"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if inst.SandboxExecutions, err = meter.Int64Counter("sandbox.executions",
		metric.WithDescription("Code block execution count"),
		metric.WithUnit("{execution}")); err != nil {
		return nil, err
	}
	if inst.SandboxDuration, err = meter.Float64Histogram("sandbox.duration",
		metric.WithDescription("Code block execution duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.Completions, err = meter.Int64Counter("rlm.completions",
		metric.WithDescription("Completion count"),
		metric.WithUnit("{completion}")); err != nil {
		return nil, err
	}
	if inst.CompletionDuration, err = meter.Float64Histogram("rlm.completion.duration",
		metric.WithDescription("Completion duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.CompletionRounds, err = meter.Int64Histogram("rlm.completion.rounds",
		metric.WithDescription("Rounds used per completion"),
		metric.WithUnit("{round}")); err != nil {
		return nil, err
	}
	return inst, nil
}
