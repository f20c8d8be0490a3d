package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nevindra/rlm"
)

// Runtime starts sessions on a remote sandbox server. It implements
// rlm.Runtime.
//
// The server reaches back over HTTP when sandboxed code calls llm_query. On
// the first Start the callback server starts automatically unless
// WithCallbackExternal was configured.
type Runtime struct {
	cfg       config
	baseURL   string
	server    *callbackServer
	startOnce sync.Once
	startErr  error
	client    *http.Client
}

// compile-time check
var _ rlm.Runtime = (*Runtime)(nil)

// NewRuntime creates a Runtime for the sandbox server at sandboxURL
// (e.g. "http://sandbox:9000").
func NewRuntime(sandboxURL string, opts ...Option) *Runtime {
	cfg := buildConfig(opts)
	client := cfg.httpClient
	if client == nil {
		client = &http.Client{}
	}
	return &Runtime{
		cfg:     cfg,
		baseURL: strings.TrimRight(sandboxURL, "/"),
		server:  newCallbackServer(),
		client:  client,
	}
}

// Handler returns the http.Handler for the /_rlm/query endpoint.
// Mount this on your own mux when using WithCallbackExternal:
//
//	mux.Handle("/_rlm/query", rt.Handler())
func (r *Runtime) Handler() http.Handler {
	return r.server.Handler()
}

// Close shuts down the auto-started callback server. Sessions still open on
// the sandbox server lose their llm_query route.
func (r *Runtime) Close() error {
	return r.server.Close()
}

// Start creates a session on the sandbox server with c bound to `context`.
// llm_query calls from that session are answered by query.
func (r *Runtime) Start(ctx context.Context, c rlm.Context, query rlm.QueryFunc) (rlm.Sandbox, error) {
	if err := r.ensureStarted(); err != nil {
		return nil, err
	}

	id := rlm.NewID()
	req := CreateSessionRequest{
		SessionID: id,
		Kind:      string(c.Kind),
		Text:      c.Text,
		Data:      c.Data,
	}
	if query != nil {
		req.CallbackURL = r.callbackURL()
		r.server.register(id, query)
	}

	var resp CreateSessionResponse
	if err := r.do(ctx, http.MethodPost, sessionsPath, req, &resp, true); err != nil {
		r.server.deregister(id)
		return nil, fmt.Errorf("remote: create session: %w", err)
	}
	r.cfg.logger.Debug("remote sandbox session created", "session_id", id, "context_bytes", c.Len())

	return &session{rt: r, id: id, path: sessionsPath + "/" + url.PathEscape(id)}, nil
}

// ensureStarted lazily starts the callback server on first Start().
func (r *Runtime) ensureStarted() error {
	r.startOnce.Do(func() {
		if r.cfg.callbackExtAddr != "" {
			return
		}
		r.startErr = r.server.Start(r.cfg.callbackAddr)
	})
	return r.startErr
}

// callbackURL returns the full URL the sandbox should POST queries to.
func (r *Runtime) callbackURL() string {
	if r.cfg.callbackExtAddr != "" {
		return strings.TrimRight(r.cfg.callbackExtAddr, "/") + callbackPath
	}
	return "http://" + r.server.Addr() + callbackPath
}

// session is a handle on one server-side session.
type session struct {
	rt     *Runtime
	id     string
	path   string
	closed atomic.Bool
	once   sync.Once
	err    error
}

func (s *session) Execute(ctx context.Context, code string) (rlm.ExecutionResult, error) {
	if s.closed.Load() {
		return rlm.ExecutionResult{}, rlm.ErrSandboxClosed
	}
	if s.rt.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.rt.cfg.timeout)
		defer cancel()
	}

	var resp ExecuteResponse
	if err := s.rt.do(ctx, http.MethodPost, s.path+"/execute", ExecuteRequest{Code: code}, &resp, false); err != nil {
		return rlm.ExecutionResult{}, fmt.Errorf("remote: execute: %w", err)
	}
	return rlm.ExecutionResult{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		Bindings: resp.Bindings,
		Elapsed:  time.Duration(resp.ElapsedMS) * time.Millisecond,
	}, nil
}

func (s *session) Lookup(ctx context.Context, name string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, rlm.ErrSandboxClosed
	}
	var resp LookupResponse
	if err := s.rt.do(ctx, http.MethodGet, s.path+"/vars/"+url.PathEscape(name), nil, &resp, true); err != nil {
		return "", false, fmt.Errorf("remote: lookup %q: %w", name, err)
	}
	return resp.Value, resp.Found, nil
}

// Close deletes the server-side session. A session the server already
// dropped is not an error.
func (s *session) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.rt.server.deregister(s.id)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.rt.do(ctx, http.MethodDelete, s.path, nil, nil, true)
		if err != nil && !errors.Is(err, rlm.ErrSandboxClosed) {
			s.err = fmt.Errorf("remote: close session: %w", err)
		}
	})
	return s.err
}

// do sends one JSON request with retry logic. Only idempotent requests pass
// retry=true.
func (r *Runtime) do(ctx context.Context, method, path string, in, out any, retry bool) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempts := 1
	if retry {
		attempts = r.cfg.maxRetries
	}
	delay := r.cfg.retryDelay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			r.cfg.logger.Warn("sandbox request failed, retrying",
				"method", method, "path", path, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := r.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("sandbox unreachable after %d attempts: %w", attempts, lastErr)
}

// doOnce performs a single request.
func (r *Runtime) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20)) // 50MB limit
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &serverError{code: resp.StatusCode, body: errorMessage(respBody)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// errorMessage extracts the error field of a JSON error body, falling back to
// the raw body.
func errorMessage(body []byte) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// serverError represents a non-2xx response from the sandbox server. A
// session the server no longer knows (404) or has lost (410) unwraps to
// rlm.ErrSandboxClosed.
type serverError struct {
	code int
	body string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("sandbox returned %d: %s", e.code, e.body)
}

func (e *serverError) Unwrap() error {
	if e.code == http.StatusNotFound || e.code == http.StatusGone {
		return rlm.ErrSandboxClosed
	}
	return nil
}

// isTransient reports whether err is a transient network/server error
// that should be retried.
func isTransient(err error) bool {
	var se *serverError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	// net/http wraps network errors; check for timeout.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection refused, reset, etc.
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "EOF")
}
