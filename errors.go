package rlm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type ErrHTTP struct {
	Status int
	Body   string
	// RetryAfter is the server-requested delay parsed from the Retry-After
	// header. Zero when absent.
	RetryAfter time.Duration
}

// maxErrBody caps the body quoted by ErrHTTP.Error. Gateways answer with
// whole HTML pages, and the message ends up in session traces.
const maxErrBody = 512

func (e *ErrHTTP) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > maxErrBody {
		body = body[:maxErrBody] + "..."
	}
	return fmt.Sprintf("http %d: %s", e.Status, body)
}

// ErrUnresolvedVariable is returned when a FINAL_VAR directive names a
// binding that does not exist in the sandbox.
type ErrUnresolvedVariable struct {
	Name string
}

func (e *ErrUnresolvedVariable) Error() string {
	return fmt.Sprintf("variable %q not found in sandbox", e.Name)
}

// ErrSandboxClosed is returned by sandbox operations after Close or after the
// underlying interpreter exited.
var ErrSandboxClosed = errors.New("sandbox closed")

// ErrNotFound is returned by a TraceStore when the requested session does
// not exist.
var ErrNotFound = errors.New("not found")

// ParseRetryAfter parses a Retry-After header value given either as delay
// seconds or as an HTTP date. Returns 0 when the value is empty or invalid.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
