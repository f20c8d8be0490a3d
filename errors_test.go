package rlm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ErrLLM{Provider: "openai", Message: "rate limited"}, "openai: rate limited"},
		{&ErrHTTP{Status: 429, Body: "too many requests\n"}, "http 429: too many requests"},
		{&ErrHTTP{}, "http 0: "},
		{&ErrUnresolvedVariable{Name: "total"}, `variable "total" not found in sandbox`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("%T.Error() = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestErrHTTP_LongBody(t *testing.T) {
	e := &ErrHTTP{Status: 502, Body: "<html>" + strings.Repeat("x", 2000) + "</html>"}
	msg := e.Error()
	if len(msg) != len("http 502: ")+maxErrBody+len("...") {
		t.Errorf("len(Error()) = %d", len(msg))
	}
	if !strings.HasSuffix(msg, "...") {
		t.Errorf("Error() = %q, want truncation marker", msg[len(msg)-10:])
	}
}

func TestErrUnresolvedVariable_Wrapped(t *testing.T) {
	err := fmt.Errorf("round 2: %w", &ErrUnresolvedVariable{Name: "total"})
	var uv *ErrUnresolvedVariable
	if !errors.As(err, &uv) || uv.Name != "total" {
		t.Fatalf("errors.As = %v, %+v", errors.As(err, &uv), uv)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{" 3 ", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := ParseRetryAfter(future); d <= 50*time.Second || d > time.Minute {
		t.Errorf("ParseRetryAfter(date) = %v, want about a minute", d)
	}
}
