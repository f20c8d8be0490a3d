package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nevindra/rlm"
	"github.com/nevindra/rlm/internal/config"
	"github.com/nevindra/rlm/observer"
	"github.com/nevindra/rlm/provider/resolve"
	"github.com/nevindra/rlm/sandbox"
	"github.com/nevindra/rlm/sandbox/remote"
	"github.com/nevindra/rlm/store/postgres"
	"github.com/nevindra/rlm/store/redis"
	"github.com/nevindra/rlm/store/sqlite"
)

// app holds everything a run needs. Close releases it in reverse order.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	completer observer.Completer
	store     rlm.TraceStore
	cost      *observer.CostCalculator
	closers   []func(context.Context) error
}

// newApp wires providers, the sandbox runtime, the trace store and, when
// enabled, OTEL instrumentation.
func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, cost: observer.NewCostCalculator(cfg.Observer.Pricing)}
	if err := a.wire(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	root, err := newProvider(cfg.LLM, a.log)
	if err != nil {
		return fmt.Errorf("root model: %w", err)
	}
	sub, err := newProvider(cfg.SubLLM, a.log)
	if err != nil {
		return fmt.Errorf("sub model: %w", err)
	}

	rt, closeRuntime, err := newRuntime(cfg.Sandbox, a.log)
	if err != nil {
		return err
	}
	a.onClose(closeRuntime)

	store, err := openStore(ctx, cfg.Store, a.log)
	if err != nil {
		return err
	}
	if store != nil {
		a.store = store
		a.onClose(func(context.Context) error { return store.Close() })
	}

	opts := []rlm.Option{
		rlm.WithMaxIterations(cfg.RLM.MaxIterations),
		rlm.WithMaxResultChars(cfg.RLM.MaxResultChars),
		rlm.WithMaxTokens(cfg.RLM.MaxTokens),
		rlm.WithLogger(a.log),
		rlm.WithLogging(cfg.RLM.EnableLogging),
	}
	if cfg.RLM.SystemPrompt != "" {
		opts = append(opts, rlm.WithSystemPrompt(cfg.RLM.SystemPrompt))
	}
	if store != nil {
		opts = append(opts, rlm.WithRecorder(store))
	}

	if !cfg.Observer.Enabled {
		opts = append(opts, rlm.WithSubProvider(sub))
		a.completer = rlm.New(root, rt, opts...)
		return nil
	}

	inst, shutdown, err := observer.Init(ctx, cfg.Observer.Pricing)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	a.onClose(shutdown)
	a.log.Info("observer enabled")

	opts = append(opts,
		rlm.WithSubProvider(observer.WrapProvider(sub, cfg.SubLLM.Model, inst)),
		rlm.WithTracer(observer.NewTracer()),
	)
	engine := rlm.New(
		observer.WrapProvider(root, cfg.LLM.Model, inst),
		observer.WrapRuntime(rt, cfg.Sandbox.Driver, inst),
		opts...,
	)
	a.completer = observer.WrapCompleter(engine, cfg.LLM.Model, cfg.SubLLM.Model, inst)
	return nil
}

func (a *app) onClose(fn func(context.Context) error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close runs the registered closers newest first.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Cost prices a result with the root and sub model rates.
func (a *app) Cost(res rlm.Result) float64 {
	return a.cost.Usage(a.cfg.LLM.Model, res.Usage) + a.cost.Usage(a.cfg.SubLLM.Model, res.SubUsage)
}

func newProvider(c config.LLMConfig, log *slog.Logger) (rlm.Provider, error) {
	return resolve.Provider(resolve.Config{
		Provider:        c.Provider,
		APIKey:          c.APIKey,
		Model:           c.Model,
		BaseURL:         c.BaseURL,
		Temperature:     c.Temperature,
		Thinking:        c.Thinking,
		ReasoningEffort: c.ReasoningEffort,
		MaxAttempts:     c.MaxAttempts,
		RetryOpts:       []rlm.RetryOption{rlm.RetryLogger(log)},
		RPM:             c.RPM,
		TPM:             c.TPM,
	})
}

// newRuntime builds the sandbox runtime for the configured driver. The
// returned closer may be nil.
func newRuntime(c config.SandboxConfig, log *slog.Logger) (rlm.Runtime, func(context.Context) error, error) {
	opts := []sandbox.Option{sandbox.WithTimeout(c.Timeout), sandbox.WithLogger(log)}
	if c.KillGrace > 0 {
		opts = append(opts, sandbox.WithKillGrace(c.KillGrace))
	}

	switch c.Driver {
	case "", "local":
		opts = append(opts, sandbox.WithPython(c.PythonBin))
		if c.Workspace != "" {
			opts = append(opts, sandbox.WithWorkspace(c.Workspace))
		}
		if c.EnvPassthrough {
			opts = append(opts, sandbox.WithEnvPassthrough())
		}
		return sandbox.NewSubprocess(opts...), nil, nil

	case "docker":
		opts = append(opts, sandbox.WithImage(c.Image))
		if c.MemoryMB > 0 {
			opts = append(opts, sandbox.WithMemoryLimit(c.MemoryMB<<20))
		}
		if c.CPUs > 0 {
			opts = append(opts, sandbox.WithCPUs(c.CPUs))
		}
		d, err := sandbox.NewDocker(opts...)
		if err != nil {
			return nil, nil, err
		}
		return d, func(context.Context) error { return d.Close() }, nil

	case "remote":
		if c.URL == "" {
			return nil, nil, errors.New("sandbox: remote driver requires a url")
		}
		return newRemoteRuntime(c, log)

	default:
		return nil, nil, fmt.Errorf("sandbox: unknown driver %q", c.Driver)
	}
}

// newRemoteRuntime connects to a sandbox server. With callback_url set the
// llm_query handler is served on callback_addr and advertised under that URL,
// for sandboxes that reach this process through a different address.
func newRemoteRuntime(c config.SandboxConfig, log *slog.Logger) (rlm.Runtime, func(context.Context) error, error) {
	opts := []remote.Option{remote.WithLogger(log)}
	if c.Timeout > 0 {
		// The client bound must exceed the server's execution timeout.
		opts = append(opts, remote.WithTimeout(c.Timeout+time.Minute))
	}
	if c.CallbackURL == "" {
		opts = append(opts, remote.WithCallbackAddr(c.CallbackAddr))
		rt := remote.NewRuntime(c.URL, opts...)
		return rt, func(context.Context) error { return rt.Close() }, nil
	}

	opts = append(opts, remote.WithCallbackExternal(c.CallbackURL))
	rt := remote.NewRuntime(c.URL, opts...)

	ln, err := net.Listen("tcp", c.CallbackAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("sandbox: callback listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/_rlm/query", rt.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	log.Debug("callback server listening", "addr", ln.Addr().String(), "public", c.CallbackURL)

	return rt, srv.Shutdown, nil
}

// openStore opens and initialises the configured trace store. The "none"
// driver returns a nil store.
func openStore(ctx context.Context, c config.StoreConfig, log *slog.Logger) (rlm.TraceStore, error) {
	var store rlm.TraceStore
	switch c.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		store = sqlite.New(c.Path, sqlite.WithLogger(log))
	case "postgres":
		var opts []postgres.Option
		if c.Schema != "" {
			opts = append(opts, postgres.WithSchema(c.Schema))
		}
		s, err := postgres.Open(ctx, c.DSN, opts...)
		if err != nil {
			return nil, err
		}
		store = s
	case "redis":
		store = redis.New(c.Addr, c.Password, c.DB, redis.WithTTL(c.TTL))
	default:
		return nil, fmt.Errorf("store: unknown driver %q", c.Driver)
	}

	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("store: init %s: %w", c.Driver, err)
	}
	return store, nil
}
