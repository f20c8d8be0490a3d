package rlm

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7. IDs sort by creation time, so session listings can
// order by ID.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix is the timestamp unit of Session.
func NowUnix() int64 { return time.Now().Unix() }

// Recorder receives the trace of a session as it runs. Recording failures
// are logged and never stop the session.
type Recorder interface {
	// StartSession is called once the sandbox is up, before the first round.
	StartSession(ctx context.Context, s Session) error
	// RecordIteration is called at the end of every round.
	RecordIteration(ctx context.Context, sessionID string, it Iteration) error
	// FinishSession is called once with the final state of the session.
	FinishSession(ctx context.Context, s Session) error
}

// TraceStore persists session traces and reads them back.
type TraceStore interface {
	Recorder
	// Session returns the stored session with the given ID.
	Session(ctx context.Context, id string) (Session, error)
	// Iterations returns the rounds of a session in order.
	Iterations(ctx context.Context, sessionID string) ([]Iteration, error)
	// ListSessions returns the most recent sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	Init(ctx context.Context) error
	Close() error
}

// Session is the persisted summary of one Completion call.
type Session struct {
	ID          string      `json:"id"`
	Query       string      `json:"query"`
	ContextKind ContextKind `json:"context_kind"`
	ContextSize int         `json:"context_size"`
	Answer      string      `json:"answer"`
	Iterations  int         `json:"iterations"`
	Forced      bool        `json:"forced"`
	Usage       Usage       `json:"usage"`
	SubUsage    Usage       `json:"sub_usage"`
	Error       string      `json:"error,omitempty"`
	StartedAt   int64       `json:"started_at"`
	FinishedAt  int64       `json:"finished_at,omitempty"`
}

// Iteration is the trace of one round.
type Iteration struct {
	Round      int             `json:"round"`
	Messages   int             `json:"messages"` // transcript length sent this round
	Response   string          `json:"response"`
	Executions []CodeExecution `json:"executions,omitempty"`
	// Final is the directive found in Response, if any.
	Final *FinalAnswer `json:"final,omitempty"`
	// FinalError explains why Final did not end the session.
	FinalError string        `json:"final_error,omitempty"`
	Usage      Usage         `json:"usage"`
	Duration   time.Duration `json:"duration"`
}

// CodeExecution is one executed block within a round.
type CodeExecution struct {
	Code     string             `json:"code"`
	Result   string             `json:"result"` // report as added to the transcript
	Bindings map[string]Binding `json:"bindings,omitempty"`
	Elapsed  time.Duration      `json:"elapsed"`
}
