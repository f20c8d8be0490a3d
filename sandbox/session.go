package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nevindra/rlm"
)

//go:embed prelude.py
var preludeSource string

// blockedPatterns are checked before execution to reject obviously dangerous code.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`os\.system\s*\(`),
	regexp.MustCompile(`subprocess\.\w+\s*\(`),
}

// checkBlocked returns a stderr-style message when code matches a blocked
// pattern, or "".
func checkBlocked(code string) string {
	for _, pat := range blockedPatterns {
		if pat.MatchString(code) {
			return fmt.Sprintf("blocked: code contains prohibited pattern: %s", pat.String())
		}
	}
	return ""
}

// --- Protocol types ---

// message is the single JSON-lines envelope used in both directions.
//
// Runtime to interpreter: init, execute, get, llm_result, close.
// Interpreter to runtime: ready, exec_result, value, llm_query, error.
type message struct {
	Type     string                 `json:"type"`
	ID       string                 `json:"id,omitempty"`
	Kind     string                 `json:"kind,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Data     json.RawMessage        `json:"data,omitempty"`
	Code     string                 `json:"code,omitempty"`
	Timeout  float64                `json:"timeout,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Prompt   string                 `json:"prompt,omitempty"`
	Found    bool                   `json:"found,omitempty"`
	Value    string                 `json:"value,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Stdout   string                 `json:"stdout,omitempty"`
	Stderr   string                 `json:"stderr,omitempty"`
	Bindings map[string]rlm.Binding `json:"bindings,omitempty"`
	Elapsed  float64                `json:"elapsed,omitempty"`
}

// interpreter is a running prelude process, local or in a container.
type interpreter struct {
	stdin  io.WriteCloser
	stdout io.Reader
	// stderr returns what the process wrote to stderr so far (bounded).
	stderr func() string
	// kill stops the process immediately.
	kill func() error
	// exited is closed once the process is gone.
	exited <-chan struct{}
}

// Session is a live interpreter bound to one rlm session. It implements
// rlm.Sandbox. Calls are serialized; llm_query requests from the interpreter
// are served while an Execute call waits.
type Session struct {
	cfg    config
	interp interpreter
	query  rlm.QueryFunc
	logger *slog.Logger

	callMu sync.Mutex // one Execute or Lookup at a time
	wmu    sync.Mutex // guards writes to stdin

	replies chan message
	done    chan struct{} // closed when the reader stops
	closing chan struct{} // closed by Close

	mu      sync.Mutex
	execCtx context.Context
	dead    error // set once the session is unusable

	closeOnce sync.Once
	closeErr  error
}

var _ rlm.Sandbox = (*Session)(nil)

// newSession starts the protocol reader, loads c into the interpreter and
// waits until it is ready.
func newSession(ctx context.Context, cfg config, interp interpreter, c rlm.Context, query rlm.QueryFunc) (*Session, error) {
	s := &Session{
		cfg:     cfg,
		interp:  interp,
		query:   query,
		logger:  cfg.logger,
		replies: make(chan message, 1),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		execCtx: context.Background(),
	}
	go s.readLoop()

	init := message{Type: "init", ID: rlm.NewID(), Kind: string(c.Kind)}
	if c.Kind == rlm.ContextText {
		init.Text = c.Text
	} else {
		init.Data = c.Data
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.startTimeout)
	defer cancel()
	if _, err := s.roundTrip(startCtx, init, "ready"); err != nil {
		s.kill()
		return nil, fmt.Errorf("sandbox: start interpreter: %w", err)
	}
	s.logger.Debug("sandbox ready", "context_kind", c.Kind, "context_size", c.Len())
	return s, nil
}

// Execute runs code in the session namespace. Code errors, timeouts and
// blocked calls are reported in the result's Stderr.
func (s *Session) Execute(ctx context.Context, code string) (rlm.ExecutionResult, error) {
	if msg := checkBlocked(code); msg != "" {
		return rlm.ExecutionResult{Stderr: msg}, nil
	}

	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.setExecCtx(ctx)
	defer s.setExecCtx(context.Background())

	hard := s.cfg.timeout + s.cfg.grace
	if s.cfg.timeout <= 0 {
		hard = 0
	}
	execCtx := ctx
	if hard > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, hard)
		defer cancel()
	}

	req := message{Type: "execute", ID: rlm.NewID(), Code: code, Timeout: s.cfg.timeout.Seconds()}
	reply, err := s.roundTrip(execCtx, req, "exec_result")
	if err != nil {
		if ctx.Err() == nil && execCtx.Err() == context.DeadlineExceeded {
			// The interpreter ignored its own timeout.
			s.kill()
			s.markDead(fmt.Errorf("execution exceeded %s: %w", hard, rlm.ErrSandboxClosed))
			return rlm.ExecutionResult{}, s.deadErr()
		}
		return rlm.ExecutionResult{}, err
	}

	return rlm.ExecutionResult{
		Stdout:   capOutput(reply.Stdout, s.cfg.maxOutput),
		Stderr:   capOutput(reply.Stderr, s.cfg.maxOutput),
		Bindings: reply.Bindings,
		Elapsed:  time.Duration(reply.Elapsed * float64(time.Second)),
	}, nil
}

// Lookup returns the string form of the value bound to name.
func (s *Session) Lookup(ctx context.Context, name string) (string, bool, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	reply, err := s.roundTrip(ctx, message{Type: "get", ID: rlm.NewID(), Name: name}, "value")
	if err != nil {
		return "", false, err
	}
	return reply.Value, reply.Found, nil
}

// Close asks the interpreter to exit and kills it if it does not.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.markDead(rlm.ErrSandboxClosed)
		close(s.closing)
		s.wmu.Lock()
		_ = writeJSON(s.interp.stdin, message{Type: "close"})
		s.interp.stdin.Close()
		s.wmu.Unlock()

		select {
		case <-s.interp.exited:
		case <-time.After(2 * time.Second):
			s.closeErr = s.interp.kill()
			<-s.interp.exited
		}
		s.logger.Debug("sandbox closed")
	})
	return s.closeErr
}

// roundTrip sends req and waits for the reply of type want carrying req.ID.
func (s *Session) roundTrip(ctx context.Context, req message, want string) (message, error) {
	if err := s.deadErr(); err != nil {
		return message{}, err
	}
	if err := s.send(req); err != nil {
		s.markDead(fmt.Errorf("write to interpreter: %v: %w", err, rlm.ErrSandboxClosed))
		return message{}, s.deadErr()
	}
	for {
		select {
		case reply := <-s.replies:
			if m, ok, err := s.accept(reply, req.ID, want); ok {
				return m, err
			}
		case <-s.done:
			// A reply may have been queued just before the stream ended.
			select {
			case reply := <-s.replies:
				if m, ok, err := s.accept(reply, req.ID, want); ok {
					return m, err
				}
			default:
			}
			s.markDead(s.exitError())
			return message{}, s.deadErr()
		case <-ctx.Done():
			return message{}, ctx.Err()
		}
	}
}

// accept matches reply against the pending request. ok is false for replies
// to earlier, abandoned requests.
func (s *Session) accept(reply message, id, want string) (message, bool, error) {
	if reply.ID != id {
		s.logger.Warn("sandbox: dropping stale reply", "type", reply.Type, "id", reply.ID)
		return message{}, false, nil
	}
	if reply.Type == "error" {
		return message{}, true, fmt.Errorf("sandbox: %s", reply.Error)
	}
	if reply.Type != want {
		return message{}, true, fmt.Errorf("sandbox: unexpected %q reply, want %q", reply.Type, want)
	}
	return reply, true, nil
}

// readLoop dispatches interpreter output until the stream ends.
func (s *Session) readLoop() {
	defer close(s.done)
	r := bufio.NewReader(s.interp.stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			s.dispatch(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("sandbox: read interpreter output", "error", err)
			}
			return
		}
	}
}

func (s *Session) dispatch(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		s.logger.Debug("sandbox: skipping malformed line", "error", err)
		return
	}
	switch msg.Type {
	case "llm_query":
		go s.serveQuery(msg)
	case "ready", "exec_result", "value", "error":
		select {
		case s.replies <- msg:
		case <-s.closing:
		}
	default:
		s.logger.Debug("sandbox: unknown message", "type", msg.Type)
	}
}

// serveQuery answers an llm_query from the interpreter.
func (s *Session) serveQuery(msg message) {
	s.mu.Lock()
	ctx := s.execCtx
	s.mu.Unlock()

	reply := message{Type: "llm_result", ID: msg.ID}
	if s.query == nil {
		reply.Error = "llm_query is not available"
	} else {
		reply.Value = s.query(ctx, msg.Prompt)
	}
	if err := s.send(reply); err != nil {
		s.logger.Debug("sandbox: write llm_result", "error", err)
	}
}

func (s *Session) send(m message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return writeJSON(s.interp.stdin, m)
}

func (s *Session) setExecCtx(ctx context.Context) {
	s.mu.Lock()
	s.execCtx = ctx
	s.mu.Unlock()
}

func (s *Session) markDead(err error) {
	s.mu.Lock()
	if s.dead == nil {
		s.dead = err
	}
	s.mu.Unlock()
}

func (s *Session) deadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

func (s *Session) kill() {
	if err := s.interp.kill(); err != nil {
		s.logger.Debug("sandbox: kill interpreter", "error", err)
	}
}

// exitError describes an interpreter that stopped on its own.
func (s *Session) exitError() error {
	if tail := strings.TrimSpace(s.interp.stderr()); tail != "" {
		return fmt.Errorf("interpreter exited: %s: %w", lastLines(tail, 5), rlm.ErrSandboxClosed)
	}
	return fmt.Errorf("interpreter exited: %w", rlm.ErrSandboxClosed)
}

// writeJSON writes a JSON-encoded message to the writer, followed by a newline.
func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// capOutput keeps the first max characters of s.
func capOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "\n... (truncated)"
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// limitedBuffer keeps at most max bytes of what is written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() < b.max {
		remaining := b.max - b.buf.Len()
		q := p
		if len(q) > remaining {
			q = q[:remaining]
		}
		b.buf.Write(q)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
