package rlm

import (
	"context"
	"errors"
	"sync"
)

// scriptedProvider returns its replies in order and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	replies  []string
	errs     map[int]error // call index -> error
	usage    Usage
	requests []ChatRequest
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.requests)
	msgs := make([]ChatMessage, len(req.Messages))
	copy(msgs, req.Messages)
	p.requests = append(p.requests, ChatRequest{Messages: msgs, MaxTokens: req.MaxTokens})
	if err := p.errs[i]; err != nil {
		return ChatResponse{}, err
	}
	if i < len(p.replies) {
		return ChatResponse{Content: p.replies[i], Usage: p.usage}, nil
	}
	return ChatResponse{Content: "", Usage: p.usage}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// fakeSandbox keeps bindings in a map. run decides what a block does.
type fakeSandbox struct {
	mu       sync.Mutex
	vars     map[string]string
	executed []string
	closed   bool
	query    QueryFunc
	context  Context
	run      func(ctx context.Context, sb *fakeSandbox, code string) (ExecutionResult, error)
}

func (f *fakeSandbox) Execute(ctx context.Context, code string) (ExecutionResult, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ExecutionResult{}, ErrSandboxClosed
	}
	f.executed = append(f.executed, code)
	f.mu.Unlock()
	if f.run == nil {
		return ExecutionResult{}, nil
	}
	return f.run(ctx, f, code)
}

func (f *fakeSandbox) Lookup(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrSandboxClosed
	}
	v, ok := f.vars[name]
	return v, ok, nil
}

func (f *fakeSandbox) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSandbox) set(name, value string) {
	f.mu.Lock()
	if f.vars == nil {
		f.vars = make(map[string]string)
	}
	f.vars[name] = value
	f.mu.Unlock()
}

// fakeRuntime hands out a single fakeSandbox.
type fakeRuntime struct {
	sb       *fakeSandbox
	startErr error
	starts   int
}

func (r *fakeRuntime) Start(_ context.Context, c Context, q QueryFunc) (Sandbox, error) {
	r.starts++
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.sb == nil {
		r.sb = &fakeSandbox{}
	}
	r.sb.query = q
	r.sb.context = c
	return r.sb, nil
}

// memRecorder keeps session traces in memory.
type memRecorder struct {
	mu         sync.Mutex
	started    []Session
	finished   []Session
	iterations []Iteration
	failWith   error
}

func (m *memRecorder) StartSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, s)
	return m.failWith
}

func (m *memRecorder) RecordIteration(_ context.Context, _ string, it Iteration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations = append(m.iterations, it)
	return m.failWith
}

func (m *memRecorder) FinishSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, s)
	return m.failWith
}

var errBoom = errors.New("boom")
