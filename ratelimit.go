package rlm

import (
	"context"
	"sync"
	"time"
)

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RateLimitRPM caps requests per minute.
func RateLimitRPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// RateLimitTPM caps input plus output tokens per minute. Usage is only known
// once a response arrives, so the call that crosses the budget completes and
// later calls wait.
func RateLimitTPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit makes p wait for budget before each call. llm_query fan-out
// from a single block can otherwise exceed a provider's quota in seconds:
//
//	sub = rlm.WithRateLimit(rlm.WithRetry(sub), rlm.RateLimitRPM(60), rlm.RateLimitTPM(200_000))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p, span: time.Minute}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rateLimitProvider struct {
	inner    Provider
	rpm, tpm int
	span     time.Duration

	mu     sync.Mutex
	calls  window
	tokens window
}

var _ Provider = (*rateLimitProvider)(nil)

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.admit(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil && r.tpm > 0 {
		if n := resp.Usage.InputTokens + resp.Usage.OutputTokens; n > 0 {
			r.mu.Lock()
			r.tokens.add(time.Now(), n)
			r.mu.Unlock()
		}
	}
	return resp, err
}

// admit blocks until both budgets have room, then books the call.
func (r *rateLimitProvider) admit(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-r.span)
		r.calls.prune(cutoff)
		r.tokens.prune(cutoff)

		var until time.Time
		if r.rpm > 0 && r.calls.total >= r.rpm {
			until = r.calls.freedAt(r.rpm, r.span)
		}
		if r.tpm > 0 && r.tokens.total >= r.tpm {
			if t := r.tokens.freedAt(r.tpm, r.span); t.After(until) {
				until = t
			}
		}
		if until.IsZero() {
			if r.rpm > 0 {
				r.calls.add(now, 1)
			}
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		wait := max(until.Sub(now), time.Millisecond)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// window is a time-ordered log of weighted events.
type window struct {
	events []event
	total  int
}

type event struct {
	at time.Time
	n  int
}

func (w *window) add(at time.Time, n int) {
	w.events = append(w.events, event{at: at, n: n})
	w.total += n
}

// prune drops events at or before cutoff.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.events) && !w.events[i].at.After(cutoff) {
		w.total -= w.events[i].n
		i++
	}
	w.events = w.events[i:]
}

// freedAt returns when enough events will have aged out of a window of the
// given span for the total to drop below limit.
func (w *window) freedAt(limit int, span time.Duration) time.Time {
	total := w.total
	for _, e := range w.events {
		total -= e.n
		if total < limit {
			return e.at.Add(span)
		}
	}
	return time.Now()
}
