package main

import (
	"context"
	"sync"
	"time"

	"github.com/nevindra/rlm"
)

// meteredRuntime records session and execution metrics for the sessions it
// starts.
type meteredRuntime struct {
	rt rlm.Runtime
}

func (m meteredRuntime) Start(ctx context.Context, c rlm.Context, query rlm.QueryFunc) (rlm.Sandbox, error) {
	if query != nil {
		inner := query
		query = func(ctx context.Context, prompt string) string {
			QueriesTotal.Inc()
			return inner(ctx, prompt)
		}
	}
	sb, err := m.rt.Start(ctx, c, query)
	if err != nil {
		SessionsStarted.WithLabelValues("error").Inc()
		return nil, err
	}
	SessionsStarted.WithLabelValues("ok").Inc()
	SessionsActive.Inc()
	return &meteredSandbox{Sandbox: sb}, nil
}

type meteredSandbox struct {
	rlm.Sandbox
	once sync.Once
}

func (s *meteredSandbox) Execute(ctx context.Context, code string) (rlm.ExecutionResult, error) {
	start := time.Now()
	res, err := s.Sandbox.Execute(ctx, code)
	observeExecution(time.Since(start), res.Stderr, err)
	return res, err
}

func (s *meteredSandbox) Close() error {
	s.once.Do(func() { SessionsActive.Dec() })
	return s.Sandbox.Close()
}
