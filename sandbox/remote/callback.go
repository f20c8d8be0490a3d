package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nevindra/rlm"
)

// maxPromptBytes bounds a callback body. Prompts carry context chunks, so
// the bound is generous.
const maxPromptBytes = 64 << 20

// callbackServer answers llm_query calls from the sandbox server, routing
// each to the QueryFunc of its session.
type callbackServer struct {
	mu       sync.RWMutex
	sessions map[string]rlm.QueryFunc

	srv  *http.Server // nil when mounted on the caller's server
	addr string
}

func newCallbackServer() *callbackServer {
	return &callbackServer{
		sessions: make(map[string]rlm.QueryFunc),
	}
}

// Start serves the callback on addr in the background. addr may use port 0;
// Addr reports the bound address.
func (cs *callbackServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("callback server: listen %s: %w", addr, err)
	}
	cs.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, cs.handleQuery)
	cs.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go cs.srv.Serve(ln)

	return nil
}

func (cs *callbackServer) Addr() string { return cs.addr }

func (cs *callbackServer) Handler() http.Handler { return http.HandlerFunc(cs.handleQuery) }

func (cs *callbackServer) register(sessionID string, query rlm.QueryFunc) {
	cs.mu.Lock()
	cs.sessions[sessionID] = query
	cs.mu.Unlock()
}

func (cs *callbackServer) deregister(sessionID string) {
	cs.mu.Lock()
	delete(cs.sessions, sessionID)
	cs.mu.Unlock()
}

// Close drains the embedded server for at most five seconds.
func (cs *callbackServer) Close() error {
	if cs.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cs.srv.Shutdown(ctx)
}

// handleQuery serves POST /_rlm/query. The sub-query is bounded by the
// request context, so a sandbox that gives up cancels it.
func (cs *callbackServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, QueryResponse{
			Error: "invalid request: " + err.Error(),
		})
		return
	}

	cs.mu.RLock()
	query, ok := cs.sessions[req.SessionID]
	cs.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, QueryResponse{
			Error: "unknown session_id: " + req.SessionID,
		})
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{Data: query(r.Context(), req.Prompt)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
