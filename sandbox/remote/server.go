package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nevindra/rlm"
)

// Server hosts sandbox sessions over HTTP:
//
//	POST   /sessions                  start a session (CreateSessionRequest)
//	POST   /sessions/{id}/execute     run code (ExecuteRequest)
//	GET    /sessions/{id}/vars/{name} read a binding
//	DELETE /sessions/{id}             close a session
//	GET    /health                    readiness
//
// Idle sessions are closed after the session TTL once Start has launched the
// cleanup loop. All methods are safe for concurrent use.
type Server struct {
	rt     rlm.Runtime
	cfg    config
	client *http.Client
	sem    chan struct{}
	mux    *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*hostedSession
	stopCh   chan struct{}
	stopOnce sync.Once
}

// hostedSession records a live sandbox, its last access time and the number
// of requests using it. Sessions in use are never evicted.
type hostedSession struct {
	sb         rlm.Sandbox
	lastAccess time.Time
	inUse      int
}

// NewServer creates a Server that starts sessions with rt.
func NewServer(rt rlm.Runtime, opts ...Option) *Server {
	cfg := buildConfig(opts)
	client := cfg.httpClient
	if client == nil {
		client = &http.Client{}
	}
	s := &Server{
		rt:       rt,
		cfg:      cfg,
		client:   client,
		sem:      make(chan struct{}, cfg.maxConcurrent),
		sessions: make(map[string]*hostedSession),
		stopCh:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+sessionsPath, s.handleCreate)
	mux.HandleFunc("POST "+sessionsPath+"/{id}/execute", s.handleExecute)
	mux.HandleFunc("GET "+sessionsPath+"/{id}/vars/{name}", s.handleLookup)
	mux.HandleFunc("DELETE "+sessionsPath+"/{id}", s.handleDelete)
	mux.HandleFunc("GET "+healthPath, s.handleHealth)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start launches the background cleanup goroutine.
func (s *Server) Start() {
	go s.runCleanup(s.cfg.cleanupInterval)
}

// Close stops the cleanup goroutine, if running, and closes every session.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*hostedSession)
	s.mu.Unlock()

	for id, hs := range sessions {
		if err := hs.sb.Close(); err != nil {
			s.cfg.logger.Warn("close sandbox session", "session_id", id, "error", err)
		}
	}
}

// Len returns the number of live sessions.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	switch rlm.ContextKind(req.Kind) {
	case rlm.ContextText, rlm.ContextJSON, rlm.ContextRecords:
	default:
		writeError(w, http.StatusBadRequest, "unsupported context kind: "+req.Kind)
		return
	}

	s.mu.Lock()
	_, exists := s.sessions[req.SessionID]
	s.mu.Unlock()
	if exists {
		writeError(w, http.StatusConflict, "session already exists: "+req.SessionID)
		return
	}

	if !s.acquire(w) {
		return
	}
	defer s.release()

	var query rlm.QueryFunc
	if req.CallbackURL != "" {
		query = s.queryFunc(req.SessionID, req.CallbackURL)
	}
	sb, err := s.rt.Start(r.Context(), req.context(), query)
	if err != nil {
		s.cfg.logger.Error("start sandbox session", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "start session: "+err.Error())
		return
	}

	s.mu.Lock()
	if _, exists := s.sessions[req.SessionID]; exists {
		s.mu.Unlock()
		sb.Close()
		writeError(w, http.StatusConflict, "session already exists: "+req.SessionID)
		return
	}
	s.sessions[req.SessionID] = &hostedSession{sb: sb, lastAccess: time.Now()}
	s.mu.Unlock()

	s.cfg.logger.Info("sandbox session started", "session_id", req.SessionID, "kind", req.Kind)
	writeJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: req.SessionID})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sb, done, ok := s.use(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: "+id)
		return
	}
	defer done()

	var req ExecuteRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if !s.acquire(w) {
		return
	}
	defer s.release()

	res, err := sb.Execute(r.Context(), req.Code)
	if err != nil {
		s.fail(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Bindings:  res.Bindings,
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sb, done, ok := s.use(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: "+id)
		return
	}
	defer done()
	value, found, err := sb.Lookup(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, LookupResponse{Found: found, Value: value})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hs, ok := s.remove(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: "+id)
		return
	}
	if err := hs.sb.Close(); err != nil {
		s.cfg.logger.Warn("close sandbox session", "session_id", id, "error", err)
	}
	s.cfg.logger.Info("sandbox session closed", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "sessions": s.Len()})
}

// fail maps a sandbox error to a response. A dead session is dropped and
// reported as 410 Gone.
func (s *Server) fail(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, rlm.ErrSandboxClosed):
		if hs, ok := s.remove(id); ok {
			hs.sb.Close()
		}
		s.cfg.logger.Warn("sandbox session lost", "session_id", id, "error", err)
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// acquire takes an execution slot or fails fast with 503.
func (s *Server) acquire(w http.ResponseWriter) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		writeError(w, http.StatusServiceUnavailable, "server busy: execution capacity reached")
		return false
	}
}

func (s *Server) release() { <-s.sem }

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.maxRequestBytes)).Decode(v)
}

// use marks a session busy until done is called. Both ends stamp the access
// time, so the TTL counts from when the last request finished.
func (s *Server) use(id string) (sb rlm.Sandbox, done func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.sessions[id]
	if !ok {
		return nil, nil, false
	}
	hs.inUse++
	hs.lastAccess = time.Now()
	return hs.sb, func() {
		s.mu.Lock()
		hs.inUse--
		hs.lastAccess = time.Now()
		s.mu.Unlock()
	}, true
}

func (s *Server) remove(id string) (*hostedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return hs, ok
}

// queryFunc forwards llm_query calls of one session to its callback URL.
// Failures come back as text so sandboxed code keeps running.
func (s *Server) queryFunc(sessionID, callbackURL string) rlm.QueryFunc {
	return func(ctx context.Context, prompt string) string {
		if s.cfg.queryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.queryTimeout)
			defer cancel()
		}
		answer, err := s.postQuery(ctx, callbackURL, QueryRequest{SessionID: sessionID, Prompt: prompt})
		if err != nil {
			s.cfg.logger.Warn("llm_query callback failed", "session_id", sessionID, "error", err)
			return "Error making LLM query: " + err.Error()
		}
		return answer
	}
}

func (s *Server) postQuery(ctx context.Context, callbackURL string, q QueryRequest) (string, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var qr QueryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 50<<20)).Decode(&qr); err != nil {
		return "", fmt.Errorf("callback returned %d: %w", resp.StatusCode, err)
	}
	if qr.Error != "" {
		return "", errors.New(qr.Error)
	}
	return qr.Data, nil
}

// runCleanup runs the TTL eviction loop until Close is called.
func (s *Server) runCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCh:
			return
		}
	}
}

// evictExpired closes idle sessions unused for longer than the TTL. Sessions are
// removed under the lock and closed outside it.
func (s *Server) evictExpired() {
	if s.cfg.sessionTTL <= 0 {
		return
	}
	s.mu.Lock()
	var expired []rlm.Sandbox
	for id, hs := range s.sessions {
		if hs.inUse == 0 && time.Since(hs.lastAccess) > s.cfg.sessionTTL {
			expired = append(expired, hs.sb)
			delete(s.sessions, id)
			s.cfg.logger.Info("sandbox session expired", "session_id", id)
		}
	}
	s.mu.Unlock()

	for _, sb := range expired {
		sb.Close()
	}
}
