package remote

import (
	"encoding/json"

	"github.com/nevindra/rlm"
)

// Paths served by Server.
const (
	sessionsPath = "/sessions"
	healthPath   = "/health"
	callbackPath = "/_rlm/query"
)

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	SessionID   string          `json:"session_id"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Kind        string          `json:"kind"`
	Text        string          `json:"text,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (r CreateSessionRequest) context() rlm.Context {
	return rlm.Context{Kind: rlm.ContextKind(r.Kind), Text: r.Text, Data: r.Data}
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// ExecuteRequest is the body of POST /sessions/{id}/execute.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// ExecuteResponse is returned by POST /sessions/{id}/execute.
type ExecuteResponse struct {
	Stdout    string                 `json:"stdout"`
	Stderr    string                 `json:"stderr"`
	Bindings  map[string]rlm.Binding `json:"bindings,omitempty"`
	ElapsedMS int64                  `json:"elapsed_ms"`
}

// LookupResponse is returned by GET /sessions/{id}/vars/{name}.
type LookupResponse struct {
	Found bool   `json:"found"`
	Value string `json:"value,omitempty"`
}

// QueryRequest is POSTed by the server to the session's callback URL when
// sandboxed code calls llm_query.
type QueryRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// QueryResponse answers a QueryRequest.
type QueryResponse struct {
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
