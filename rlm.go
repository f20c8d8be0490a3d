package rlm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultMaxIterations is the round budget used when WithMaxIterations is not set.
const DefaultMaxIterations = 20

// subQueryTimeout bounds a single llm_query call made from the sandbox.
const subQueryTimeout = 5 * time.Minute

// RLM answers queries about a large context by letting a root model drive a
// persistent sandbox over several rounds. An RLM is safe for concurrent use:
// every Completion call owns its own sandbox and transcript.
type RLM struct {
	root    Provider
	runtime Runtime
	cfg     config
}

type config struct {
	sub            Provider
	maxIterations  int
	maxResultChars int
	maxTokens      int
	systemPrompt   string
	logger         *slog.Logger
	logging        *bool
	tracer         Tracer
	recorder       Recorder
}

// Option configures an RLM.
type Option func(*config)

// WithMaxIterations sets the number of rounds before the answer is forced.
// Zero skips the rounds entirely and asks for an answer straight away.
func WithMaxIterations(n int) Option {
	return func(c *config) {
		if n < 0 {
			n = 0
		}
		c.maxIterations = n
	}
}

// WithSubProvider sets the provider that serves llm_query calls from the
// sandbox. Defaults to the root provider.
func WithSubProvider(p Provider) Option {
	return func(c *config) { c.sub = p }
}

// WithMaxResultChars bounds each execution report added to the transcript.
// Non-positive values disable truncation.
func WithMaxResultChars(n int) Option {
	return func(c *config) { c.maxResultChars = n }
}

// WithMaxTokens caps the output of every root completion.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(s string) Option {
	return func(c *config) { c.systemPrompt = s }
}

// WithLogger sets the structured logger. Without it, or with
// WithLogging(false), nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithLogging turns session logging on or off. When on and no logger was
// given, slog.Default is used.
func WithLogging(enabled bool) Option {
	return func(c *config) { c.logging = &enabled }
}

// WithTracer enables span creation for sessions, rounds and sandbox calls.
func WithTracer(t Tracer) Option {
	return func(c *config) { c.tracer = t }
}

// WithRecorder receives the trace of every session.
func WithRecorder(r Recorder) Option {
	return func(c *config) { c.recorder = r }
}

// New returns an RLM that drives root against sandboxes started by runtime.
func New(root Provider, runtime Runtime, opts ...Option) *RLM {
	c := config{
		maxIterations:  DefaultMaxIterations,
		maxResultChars: DefaultMaxResultChars,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.sub == nil {
		c.sub = root
	}
	c.logger = resolveLogger(c.logger, c.logging)
	return &RLM{root: root, runtime: runtime, cfg: c}
}

// Result is the outcome of a Completion call.
type Result struct {
	Answer string
	// Iterations is the number of rounds that ran, excluding the forced answer.
	Iterations int
	// Forced reports whether the answer came from the forced-answer request.
	Forced bool
	// Usage accumulates the root completions.
	Usage Usage
	// SubUsage accumulates the llm_query completions made from the sandbox.
	SubUsage  Usage
	SessionID string
}

// Completion answers query about input. input is resolved with NewContext and
// bound to `context` in a fresh sandbox; an empty query uses DefaultQuery.
//
// The root model is asked at most max_iterations times to act, then once more
// for a forced answer. Completion fails only when the sandbox cannot start or
// the completion service returns an error.
func (r *RLM) Completion(ctx context.Context, input any, query string) (Result, error) {
	c, err := NewContext(input)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	s := &session{
		rlm:     r,
		id:      NewID(),
		query:   query,
		context: c,
		conv:    NewConversation(r.cfg.systemPrompt),
	}
	s.logger = r.cfg.logger.With("session_id", s.id)
	return s.run(ctx)
}

// session is the state of one Completion call.
type session struct {
	rlm     *RLM
	id      string
	query   string
	context Context
	conv    *Conversation
	logger  *slog.Logger

	mu       sync.Mutex
	usage    Usage
	subUsage Usage
}

func (s *session) run(ctx context.Context) (Result, error) {
	cfg := s.rlm.cfg
	ctx, span := startSpan(ctx, cfg.tracer, SpanSession,
		StringAttr("session_id", s.id),
		StringAttr("context_kind", string(s.context.Kind)),
		IntAttr("context_size", s.context.Len()),
		IntAttr("max_iterations", cfg.maxIterations))
	defer span.End()

	s.logger.Info("query start", "query", s.query,
		"context_kind", s.context.Kind, "context_size", s.context.Len())

	sb, err := s.rlm.runtime.Start(ctx, s.context, s.subQuery)
	if err != nil {
		span.Error(err)
		return Result{SessionID: s.id}, fmt.Errorf("start sandbox: %w", err)
	}
	defer sb.Close()

	rec := Session{
		ID:          s.id,
		Query:       s.query,
		ContextKind: s.context.Kind,
		ContextSize: s.context.Len(),
		StartedAt:   NowUnix(),
	}
	s.record(ctx, "start", func(r Recorder) error { return r.StartSession(ctx, rec) })

	res, err := s.loop(ctx, sb)
	res.SessionID = s.id
	res.Usage, res.SubUsage = s.totals()

	rec.Answer = res.Answer
	rec.Iterations = res.Iterations
	rec.Forced = res.Forced
	rec.Usage, rec.SubUsage = res.Usage, res.SubUsage
	rec.FinishedAt = NowUnix()
	if err != nil {
		rec.Error = err.Error()
		span.Error(err)
	} else {
		span.SetAttr(IntAttr("iterations", res.Iterations), BoolAttr("forced", res.Forced))
	}
	s.record(ctx, "finish", func(r Recorder) error { return r.FinishSession(ctx, rec) })
	return res, err
}

func (s *session) loop(ctx context.Context, sb Sandbox) (Result, error) {
	for i := 0; i < s.rlm.cfg.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return Result{Iterations: i}, err
		}
		answer, done, err := s.round(ctx, sb, i)
		if err != nil {
			return Result{Iterations: i}, fmt.Errorf("round %d: %w", i+1, err)
		}
		if done {
			s.logger.Info("final answer", "round", i+1, "answer_len", len(answer))
			return Result{Answer: answer, Iterations: i + 1}, nil
		}
	}

	n := s.rlm.cfg.maxIterations
	answer, err := s.forceAnswer(ctx)
	if err != nil {
		return Result{Iterations: n, Forced: true}, err
	}
	return Result{Answer: answer, Iterations: n, Forced: true}, nil
}

// round runs iteration i. An empty final answer does not end the session. Code in the response executes before the
// final-answer check so a FINAL_VAR can name a binding created in the same
// response.
func (s *session) round(ctx context.Context, sb Sandbox, i int) (string, bool, error) {
	start := time.Now()
	ctx, span := startSpan(ctx, s.rlm.cfg.tracer, SpanRound, IntAttr("round", i+1))
	defer span.End()

	msgs := s.conv.Request(s.conv.NextActionPrompt(s.query, i))
	s.logger.Debug("round start", "round", i+1, "messages", len(msgs))
	resp, err := s.rlm.root.Chat(ctx, ChatRequest{Messages: msgs, MaxTokens: s.rlm.cfg.maxTokens})
	if err != nil {
		span.Error(err)
		return "", false, err
	}
	s.addUsage(resp.Usage)

	blocks := FindCodeBlocks(resp.Content)
	s.logger.Info("model response", "round", i+1, "has_code", len(blocks) > 0,
		"blocks", len(blocks), "response_len", len(resp.Content))
	span.SetAttr(IntAttr("blocks", len(blocks)))

	it := Iteration{Round: i + 1, Messages: len(msgs), Response: resp.Content, Usage: resp.Usage}
	if len(blocks) > 0 {
		for _, code := range blocks {
			it.Executions = append(it.Executions, s.execute(ctx, sb, code))
		}
	} else {
		s.conv.AppendReply(resp.Content)
	}

	answer, done := s.checkFinal(ctx, sb, resp.Content, &it)
	it.Duration = time.Since(start)
	s.record(ctx, "iteration", func(r Recorder) error { return r.RecordIteration(ctx, s.id, it) })
	return answer, done, nil
}

// execute runs one block and appends its report to the transcript. A broken
// sandbox is reported to the model as text.
func (s *session) execute(ctx context.Context, sb Sandbox, code string) CodeExecution {
	ctx, span := startSpan(ctx, s.rlm.cfg.tracer, SpanExecute, IntAttr("code_len", len(code)))
	defer span.End()

	res, err := sb.Execute(ctx, code)
	var report string
	if err != nil {
		span.Error(err)
		s.logger.Error("sandbox execution failed", "error", err)
		report = "Error executing code: " + err.Error()
	} else {
		report = res.Format()
		span.SetAttr(
			IntAttr("stdout_len", len(res.Stdout)),
			IntAttr("stderr_len", len(res.Stderr)),
			Float64Attr("elapsed_ms", float64(res.Elapsed.Microseconds())/1000))
		s.logger.Info("code executed", "elapsed", res.Elapsed,
			"stdout_bytes", len(res.Stdout), "stderr_bytes", len(res.Stderr))
	}
	report = TruncateResult(report, s.rlm.cfg.maxResultChars)
	s.conv.AppendExecution(code, report)

	return CodeExecution{
		Code:     code,
		Result:   report,
		Bindings: summarizeBindings(res.Bindings),
		Elapsed:  res.Elapsed,
	}
}

func (s *session) checkFinal(ctx context.Context, sb Sandbox, text string, it *Iteration) (string, bool) {
	fa, ok := FindFinalAnswer(text)
	if !ok {
		return "", false
	}
	it.Final = &fa
	answer, err := ResolveFinalAnswer(ctx, fa, sb)
	if err != nil {
		it.FinalError = err.Error()
		s.logger.Error("final answer unresolved", "round", it.Round,
			"directive", fa.Kind.String(), "name", fa.Value, "error", err)
		return "", false
	}
	if strings.TrimSpace(answer) == "" {
		it.FinalError = "final answer is empty"
		s.logger.Warn("empty final answer, continuing", "round", it.Round, "directive", fa.Kind.String())
		return "", false
	}
	return answer, true
}

func (s *session) forceAnswer(ctx context.Context) (string, error) {
	s.logger.Warn("no final answer within iteration budget, forcing answer",
		"max_iterations", s.rlm.cfg.maxIterations)
	ctx, span := startSpan(ctx, s.rlm.cfg.tracer, "rlm.forced_answer")
	defer span.End()

	s.conv.Append(s.conv.FinalActionPrompt())
	resp, err := s.rlm.root.Chat(ctx, ChatRequest{Messages: s.conv.Messages(), MaxTokens: s.rlm.cfg.maxTokens})
	if err != nil {
		span.Error(err)
		return "", fmt.Errorf("forced answer: %w", err)
	}
	s.addUsage(resp.Usage)
	s.logger.Info("final answer", "forced", true, "answer_len", len(resp.Content))
	return resp.Content, nil
}

// subQuery serves llm_query for the sandbox. Failures become the answer text.
func (s *session) subQuery(ctx context.Context, prompt string) string {
	ctx, cancel := context.WithTimeout(ctx, subQueryTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, s.rlm.cfg.tracer, SpanSubQuery, IntAttr("prompt_len", len(prompt)))
	defer span.End()

	resp, err := s.rlm.cfg.sub.Chat(ctx, ChatRequest{Messages: []ChatMessage{UserMessage(prompt)}})
	if err != nil {
		span.Error(err)
		s.logger.Warn("sub query failed", "error", err)
		return "Error making LLM query: " + err.Error()
	}
	s.mu.Lock()
	s.subUsage = s.subUsage.Add(resp.Usage)
	s.subUsage.Calls++
	s.mu.Unlock()
	s.logger.Debug("sub query", "prompt_len", len(prompt), "response_len", len(resp.Content))
	return resp.Content
}

func (s *session) addUsage(u Usage) {
	s.mu.Lock()
	s.usage = s.usage.Add(u)
	s.usage.Calls++
	s.mu.Unlock()
}

func (s *session) totals() (Usage, Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.subUsage
}

func (s *session) record(ctx context.Context, what string, fn func(Recorder) error) {
	r := s.rlm.cfg.recorder
	if r == nil {
		return
	}
	if err := fn(r); err != nil {
		s.logger.WarnContext(ctx, "trace record failed", "record", what, "error", err)
	}
}

// summarizeBindings copies bindings with every summary bounded.
func summarizeBindings(in map[string]Binding) map[string]Binding {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]Binding, len(in))
	for k, b := range in {
		out[k] = Binding{Type: b.Type, Summary: truncateValue(b.Summary)}
	}
	return out
}

func resolveLogger(l *slog.Logger, logging *bool) *slog.Logger {
	if logging != nil && !*logging {
		return nopLogger
	}
	if l != nil {
		return l
	}
	if logging != nil && *logging {
		return slog.Default()
	}
	return nopLogger
}

var nopLogger = slog.New(slog.DiscardHandler)
