// Package remote runs sandbox sessions behind an HTTP service.
//
// Runtime is the client side: it implements rlm.Runtime by creating sessions
// on a sandbox server and serves the server's llm_query callbacks from a
// small embedded HTTP listener. Server is the service side: it hosts
// sessions started by any rlm.Runtime (usually sandbox.Subprocess) and
// forwards llm_query calls to the callback URL each session was created with.
package remote

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Runtime or a Server.
type Option func(*config)

type config struct {
	logger *slog.Logger

	// Runtime options.
	timeout         time.Duration
	callbackAddr    string // auto-start listener address (default "127.0.0.1:0")
	callbackExtAddr string // user-provided external address (skip auto-start)
	maxRetries      int    // total attempts (1 = no retry)
	retryDelay      time.Duration
	httpClient      *http.Client

	// Server options.
	maxConcurrent   int
	sessionTTL      time.Duration
	cleanupInterval time.Duration
	queryTimeout    time.Duration
	maxRequestBytes int64
}

func defaultConfig() config {
	return config{
		logger:          slog.New(slog.DiscardHandler),
		timeout:         6 * time.Minute,
		callbackAddr:    "127.0.0.1:0", // OS-assigned port
		maxRetries:      2,             // 1 retry
		retryDelay:      500 * time.Millisecond,
		maxConcurrent:   4,
		sessionTTL:      time.Hour,
		cleanupInterval: 5 * time.Minute,
		queryTimeout:    5 * time.Minute,
		maxRequestBytes: 256 << 20, // contexts can be large
	}
}

func buildConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout bounds a single Execute round trip on the client side. It
// should exceed the server's own execution timeout. Default: 6m.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithCallbackAddr sets the address for the auto-started callback HTTP server.
// The callback server answers llm_query requests from the sandbox.
// Default: "127.0.0.1:0" (OS-assigned port).
func WithCallbackAddr(addr string) Option {
	return func(c *config) { c.callbackAddr = addr }
}

// WithCallbackExternal tells Runtime that the callback handler is mounted
// on an external HTTP server at the given address. Runtime will not start
// its own listener. Use Runtime.Handler() to get the http.Handler to mount.
//
// publicAddr should be the base URL reachable from the sandbox, e.g.
// "http://app:8080". The path /_rlm/query is appended automatically.
func WithCallbackExternal(publicAddr string) Option {
	return func(c *config) { c.callbackExtAddr = publicAddr }
}

// WithMaxRetries sets the total number of attempts for idempotent sandbox
// requests. 1 means no retry; 2 means one retry on transient failure.
// Execute is never retried. Default: 2.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		if n < 1 {
			n = 1
		}
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial backoff delay between retries.
// The delay doubles on each subsequent retry. Default: 500ms.
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) { c.retryDelay = d }
}

// WithHTTPClient sets the client used for sandbox and callback requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxConcurrent caps the number of session starts and executions a
// Server runs at once. Requests beyond the cap fail fast with 503.
// Default: 4.
func WithMaxConcurrent(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithSessionTTL sets how long an idle session survives on a Server.
// Default: 1h.
func WithSessionTTL(d time.Duration) Option {
	return func(c *config) { c.sessionTTL = d }
}

// WithCleanupInterval sets how often a Server evicts idle sessions.
// Default: 5m.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithQueryTimeout bounds one llm_query callback made by a Server.
// Default: 5m.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithMaxRequestBytes caps request bodies accepted by a Server.
// Default: 256MB.
func WithMaxRequestBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRequestBytes = n
		}
	}
}
