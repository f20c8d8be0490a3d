package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevindra/rlm"
	"github.com/nevindra/rlm/store/sqlite"
)

type fakeCompleter struct {
	input any
	query string
	res   rlm.Result
	err   error
}

func (f *fakeCompleter) Completion(_ context.Context, input any, query string) (rlm.Result, error) {
	f.input, f.query = input, query
	return f.res, f.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestCompletion_InlineContext(t *testing.T) {
	c := &fakeCompleter{res: rlm.Result{Answer: "42", SessionID: "s1"}}
	s := NewServer(c, "test")

	res, err := s.handleCompletion(context.Background(), callRequest("completion", map[string]any{
		"query":   "what is the answer?",
		"context": "the answer is 42",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "42", resultText(t, res))
	assert.Equal(t, "the answer is 42", c.input)
	assert.Equal(t, "what is the answer?", c.query)
}

func TestCompletion_Path(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(p, []byte("name,qty\napple,3\n"), 0o644))
	c := &fakeCompleter{res: rlm.Result{Answer: "3"}}
	s := NewServer(c, "test")

	res, err := s.handleCompletion(context.Background(), callRequest("completion", map[string]any{"path": p}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []map[string]string{{"name": "apple", "qty": "3"}}, c.input)
}

func TestCompletion_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"k":"v"}`))
	}))
	defer srv.Close()
	c := &fakeCompleter{res: rlm.Result{Answer: "v"}}
	s := NewServer(c, "test", WithHTTPClient(srv.Client()))

	res, err := s.handleCompletion(context.Background(), callRequest("completion", map[string]any{"url": srv.URL}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, map[string]any{"k": "v"}, c.input)
}

func TestCompletion_BadArguments(t *testing.T) {
	s := NewServer(&fakeCompleter{}, "test")
	cases := map[string]map[string]any{
		"none":    {"query": "q"},
		"two":     {"context": "a", "path": "b"},
		"bad url": {"url": "ftp://example.com/x"},
		"no file": {"path": filepath.Join(t.TempDir(), "missing.txt")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := s.handleCompletion(context.Background(), callRequest("completion", args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestCompletion_Failure(t *testing.T) {
	s := NewServer(&fakeCompleter{err: errors.New("sandbox: start failed")}, "test")
	res, err := s.handleCompletion(context.Background(), callRequest("completion", map[string]any{"context": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "sandbox: start failed")
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st := sqlite.New(filepath.Join(t.TempDir(), "rlm.db"))
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.StartSession(ctx, rlm.Session{ID: "abc", Query: "find it", StartedAt: 100}))
	require.NoError(t, st.RecordIteration(ctx, "abc", rlm.Iteration{Round: 1, Response: "FINAL(7)"}))
	require.NoError(t, st.FinishSession(ctx, rlm.Session{ID: "abc", Query: "find it", StartedAt: 100, FinishedAt: 101, Answer: "7", Iterations: 1}))

	s := NewServer(&fakeCompleter{}, "test", WithStore(st))

	res, err := s.handleListSessions(ctx, callRequest("list_sessions", map[string]any{"limit": 5}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var list []sessionSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "abc", list[0].ID)
	assert.Equal(t, "7", list[0].Answer)
	assert.Equal(t, "rlm://sessions/abc", list[0].URI)

	var req mcp.ReadResourceRequest
	req.Params.URI = "rlm://sessions/abc"
	contents, err := s.readSession(ctx, req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)

	var got struct {
		ID     string          `json:"id"`
		Rounds []rlm.Iteration `json:"rounds"`
	}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &got))
	assert.Equal(t, "abc", got.ID)
	require.Len(t, got.Rounds, 1)
	assert.Equal(t, "FINAL(7)", got.Rounds[0].Response)

	req.Params.URI = "rlm://sessions/missing"
	_, err = s.readSession(ctx, req)
	assert.ErrorIs(t, err, rlm.ErrNotFound)

	req.Params.URI = "file:///etc/passwd"
	_, err = s.readSession(ctx, req)
	assert.Error(t, err)
}
