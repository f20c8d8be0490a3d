package rlm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLimiter(p Provider, span time.Duration, opts ...RateLimitOption) *rateLimitProvider {
	r := WithRateLimit(p, opts...).(*rateLimitProvider)
	r.span = span
	return r
}

func TestWithRateLimit_PassThrough(t *testing.T) {
	inner := &scriptedProvider{name: "inner", replies: []string{"a", "b"}}
	p := WithRateLimit(inner)

	if p.Name() != "inner" {
		t.Errorf("Name() = %q, want inner", p.Name())
	}
	for _, want := range []string{"a", "b"} {
		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if resp.Content != want {
			t.Errorf("Content = %q, want %q", resp.Content, want)
		}
	}
}

func TestWithRateLimit_RPMBlocks(t *testing.T) {
	inner := &scriptedProvider{}
	p := newTestLimiter(inner, 150*time.Millisecond, RateLimitRPM(2))

	start := time.Now()
	for range 3 {
		if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
			t.Fatalf("Chat: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("third call returned after %v, want it to wait for the window", elapsed)
	}
	if inner.calls() != 3 {
		t.Errorf("calls = %d, want 3", inner.calls())
	}
}

func TestWithRateLimit_TPMBlocks(t *testing.T) {
	inner := &scriptedProvider{usage: Usage{InputTokens: 60, OutputTokens: 40}}
	p := newTestLimiter(inner, 150*time.Millisecond, RateLimitTPM(100))

	start := time.Now()
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("first call should not wait")
	}
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("second call returned after %v, want it to wait for the token budget", elapsed)
	}
}

func TestWithRateLimit_ContextCancelled(t *testing.T) {
	inner := &scriptedProvider{}
	p := newTestLimiter(inner, time.Hour, RateLimitRPM(1))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if inner.calls() != 1 {
		t.Errorf("calls = %d, want 1", inner.calls())
	}
}

func TestWithRateLimit_FailedCallsSpendNoTokens(t *testing.T) {
	inner := &scriptedProvider{usage: Usage{InputTokens: 500}, errs: map[int]error{0: errBoom}}
	p := newTestLimiter(inner, time.Hour, RateLimitTPM(100))

	if _, err := p.Chat(context.Background(), ChatRequest{}); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); err != nil {
		t.Fatalf("second call should not wait: %v", err)
	}
}

func TestWindowFreedAt(t *testing.T) {
	base := time.Unix(1000, 0)
	var w window
	w.add(base, 30)
	w.add(base.Add(time.Second), 50)
	w.add(base.Add(2*time.Second), 40)

	// Dropping the first event leaves 90, still at the limit; the second must go too.
	got := w.freedAt(90, time.Minute)
	if want := base.Add(time.Second + time.Minute); !got.Equal(want) {
		t.Errorf("freedAt = %v, want %v", got, want)
	}

	w.prune(base.Add(time.Second))
	if w.total != 40 || len(w.events) != 1 {
		t.Errorf("after prune: total=%d events=%d, want 40/1", w.total, len(w.events))
	}
}
