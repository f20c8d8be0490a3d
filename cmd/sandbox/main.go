// Command sandbox is a reference sandbox service for the rlm loop.
//
// It hosts persistent Python sessions behind HTTP (see remote.Server) and
// forwards llm_query calls back to the caller's callback URL. Point
// remote.NewRuntime at it to run the sandbox as a sidecar container next to
// the application.
//
// The reference sandbox is single-tenant and suitable for development and
// small deployments. Sessions run in local subprocesses with networking left
// to the container it runs in.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nevindra/rlm/internal/logging"
	"github.com/nevindra/rlm/sandbox"
	"github.com/nevindra/rlm/sandbox/remote"
)

type config struct {
	addr            string
	workspaceRoot   string
	pythonBin       string
	maxConcurrent   int
	sessionTTL      time.Duration
	cleanupInterval time.Duration
	execTimeout     time.Duration
	maxOutputBytes  int
	logLevel        string
}

func loadConfig() config {
	cfg := config{
		addr:            ":9000",
		workspaceRoot:   "/var/sandbox",
		pythonBin:       "python3",
		maxConcurrent:   4,
		sessionTTL:      time.Hour,
		cleanupInterval: 5 * time.Minute,
		execTimeout:     5 * time.Minute,
		maxOutputBytes:  1 << 20,
		logLevel:        "info",
	}
	if v := os.Getenv("SANDBOX_ADDR"); v != "" {
		cfg.addr = v
	}
	if v := os.Getenv("SANDBOX_WORKSPACE"); v != "" {
		cfg.workspaceRoot = v
	}
	if v := os.Getenv("SANDBOX_PYTHON_BIN"); v != "" {
		cfg.pythonBin = v
	}
	if v := os.Getenv("SANDBOX_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxConcurrent = n
		}
	}
	if v := os.Getenv("SANDBOX_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.sessionTTL = d
		}
	}
	if v := os.Getenv("SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.execTimeout = d
		}
	}
	if v := os.Getenv("SANDBOX_MAX_OUTPUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxOutputBytes = n
		}
	}
	if v := os.Getenv("SANDBOX_LOG_LEVEL"); v != "" {
		cfg.logLevel = v
	}
	return cfg
}

// newHandler wires the session server and the metrics endpoint.
func newHandler(srv *remote.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", srv)
	return metricsMiddleware(mux)
}

func main() {
	cfg := loadConfig()
	log := logging.New(logging.ParseLevel(cfg.logLevel))

	if err := os.MkdirAll(cfg.workspaceRoot, 0o750); err != nil {
		log.Error("create workspace", "dir", cfg.workspaceRoot, "error", err)
		os.Exit(1)
	}

	rt := sandbox.NewSubprocess(
		sandbox.WithPython(cfg.pythonBin),
		sandbox.WithWorkspace(cfg.workspaceRoot),
		sandbox.WithTimeout(cfg.execTimeout),
		sandbox.WithMaxOutput(cfg.maxOutputBytes),
		sandbox.WithLogger(log),
	)
	srv := remote.NewServer(meteredRuntime{rt: rt},
		remote.WithMaxConcurrent(cfg.maxConcurrent),
		remote.WithSessionTTL(cfg.sessionTTL),
		remote.WithCleanupInterval(cfg.cleanupInterval),
		remote.WithLogger(log),
	)
	srv.Start()

	httpSrv := &http.Server{
		Addr:              cfg.addr,
		Handler:           newHandler(srv),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening", "addr", cfg.addr, "python", cfg.pythonBin, "max_concurrent", cfg.maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}

	open := srv.Len()
	srv.Close()
	log.Info("stopped", slog.Int("sessions_closed", open))
}
