// Package mcp exposes an RLM completer over the Model Context Protocol, so
// assistants can hand documents too large for their own context to the loop.
//
// Tools:
//   - completion: answer a query about inline text, a file path or a URL
//   - list_sessions: recent session traces, when a trace store is configured
//
// Resources:
//   - rlm://sessions/{id}: one session with its rounds, as JSON
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nevindra/rlm"
	"github.com/nevindra/rlm/ingest"
)

const sessionURIPrefix = "rlm://sessions/"

// Completer runs one RLM session.
type Completer interface {
	Completion(ctx context.Context, input any, query string) (rlm.Result, error)
}

// Server wraps a Completer and an optional trace store as an MCP server.
type Server struct {
	completer Completer
	store     rlm.TraceStore
	log       *slog.Logger
	client    *http.Client
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables list_sessions and the session resource.
func WithStore(s rlm.TraceStore) Option {
	return func(srv *Server) { srv.store = s }
}

// WithLogger sets the logger. Logs never go to stdout, which carries the
// stdio transport.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.log = l }
}

// WithHTTPClient sets the client used to fetch URL documents.
func WithHTTPClient(c *http.Client) Option {
	return func(srv *Server) { srv.client = c }
}

// NewServer creates an MCP server named rlm.
func NewServer(c Completer, version string, opts ...Option) *Server {
	s := &Server{
		completer: c,
		log:       slog.New(slog.DiscardHandler),
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer("rlm", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	s.registerTools()
	if s.store != nil {
		s.registerResources()
	}
	return s
}

// ServeStdio serves newline-delimited JSON-RPC on stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("mcp server listening", "transport", "sse", "addr", addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mcp: shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("completion",
		mcp.WithDescription("Answer a question about a document of any size. The document is loaded into "+
			"a Python sandbox and explored by a model that writes code and calls sub-models on chunks. "+
			"Give exactly one of context, path or url."),
		mcp.WithString("query", mcp.Description("The question to answer. When empty the model follows instructions in the document.")),
		mcp.WithString("context", mcp.Description("The document text")),
		mcp.WithString("path", mcp.Description("Path of a local file: text, Markdown, HTML, CSV, JSON, DOCX or PDF")),
		mcp.WithString("url", mcp.Description("http(s) URL of the document")),
	), s.handleCompletion)

	if s.store != nil {
		s.mcpServer.AddTool(mcp.NewTool("list_sessions",
			mcp.WithDescription("List recent RLM sessions. Read rlm://sessions/{id} for the rounds of one."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 20)")),
		), s.handleListSessions)
	}
}

func (s *Server) handleCompletion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := s.loadInput(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query := req.GetString("query", "")

	res, err := s.completer.Completion(ctx, input, query)
	if err != nil {
		s.log.Error("mcp completion failed", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("completion failed: %v", err)), nil
	}
	s.log.Info("mcp completion", "session", res.SessionID, "rounds", res.Iterations, "forced", res.Forced)
	return mcp.NewToolResultText(res.Answer), nil
}

// loadInput resolves the document arguments of a completion call.
func (s *Server) loadInput(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	text := req.GetString("context", "")
	path := req.GetString("path", "")
	rawURL := req.GetString("url", "")

	given := 0
	for _, v := range []string{text, path, rawURL} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		return nil, errors.New("exactly one of context, path or url is required")
	}

	switch {
	case path != "":
		return ingest.Load(path)
	case rawURL != "":
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			return nil, fmt.Errorf("url must be http or https: %q", rawURL)
		}
		return ingest.Fetch(ctx, s.client, rawURL)
	default:
		return text, nil
	}
}

// sessionSummary is one entry of list_sessions.
type sessionSummary struct {
	ID         string `json:"id"`
	Query      string `json:"query"`
	StartedAt  int64  `json:"started_at"`
	Iterations int    `json:"iterations"`
	Forced     bool   `json:"forced,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Error      string `json:"error,omitempty"`
	URI        string `json:"uri"`
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}
	sessions, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{
			ID:         sess.ID,
			Query:      sess.Query,
			StartedAt:  sess.StartedAt,
			Iterations: sess.Iterations,
			Forced:     sess.Forced,
			Answer:     sess.Answer,
			Error:      sess.Error,
			URI:        sessionURIPrefix + sess.ID,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(sessionURIPrefix+"{id}", "RLM session",
		mcp.WithTemplateDescription("A recorded session with every round: model response, executed code and output"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readSession)
}

func (s *Server) readSession(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	id := strings.TrimPrefix(uri, sessionURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("mcp: invalid session uri %q", uri)
	}
	data, err := sessionJSON(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}

// sessionJSON encodes a session and its rounds.
func sessionJSON(ctx context.Context, store rlm.TraceStore, id string) ([]byte, error) {
	sess, err := store.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	its, err := store.Iterations(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		rlm.Session
		Rounds []rlm.Iteration `json:"rounds"`
	}{sess, its})
}
