package rlm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// RetryOption configures WithRetry.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the number of attempts, first call included (default 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = max(n, 1) }
}

// RetryBaseDelay sets the first backoff (default 1s). Each later one doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout bounds the whole call, backoff included. Zero means no bound.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// RetryLogger logs each retry at WARN and giving up at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry retries p on transient failures: HTTP 408, 429, 502, 503 and 504
// and network timeouts. Backoff is exponential with jitter and never shorter
// than the server's Retry-After. The loop in RLM fails a session on the first
// provider error, so long sessions should wrap their providers:
//
//	root = rlm.WithRetry(openaicompat.NewProvider(key, model, baseURL))
//	root = rlm.WithRetry(root, rlm.RetryMaxAttempts(5), rlm.RetryTimeout(time.Minute))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	logger      *slog.Logger
}

var _ Provider = (*retryProvider)(nil)

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var err error
	for attempt := 1; ; attempt++ {
		var resp ChatResponse
		resp, err = r.inner.Chat(ctx, req)
		if err == nil || !isTransient(err) {
			return resp, err
		}
		if attempt == r.maxAttempts {
			break
		}
		delay := retryDelay(r.baseDelay, attempt-1, err)
		r.logger.Warn("retrying transient error",
			"provider", r.inner.Name(),
			"status", statusOf(err),
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return ChatResponse{}, err
		}
	}
	r.logger.Error("all retry attempts exhausted",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"err", err)
	return ChatResponse{}, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTransient(err error) bool {
	switch statusOf(err) {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay is base*2^i plus up to 50% jitter, raised to Retry-After.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	d := base << i
	if d > 0 {
		d += rand.N(d/2 + 1)
	}
	var e *ErrHTTP
	if errors.As(err, &e) && e.RetryAfter > d {
		d = e.RetryAfter
	}
	return d
}
