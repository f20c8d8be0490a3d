package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nevindra/rlm"
)

func TestProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request.
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %s", req.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-1",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: "Hello!"},
			}},
			Usage: &Usage{PromptTokens: 5, CompletionTokens: 2},
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o", srv.URL+"/")

	resp, err := p.Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}

	if resp.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 {
		t.Errorf("expected 5 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 2 {
		t.Errorf("expected 2 output tokens, got %d", resp.Usage.OutputTokens)
	}
}

func TestProvider_Chat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o", srv.URL)

	_, err := p.Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}

	var httpErr *rlm.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *rlm.ErrHTTP, got %T", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", httpErr.Status)
	}
	if httpErr.RetryAfter != 3*time.Second {
		t.Errorf("expected Retry-After 3s, got %v", httpErr.RetryAfter)
	}
	if httpErr.Body != `{"error":"rate limited"}` {
		t.Errorf("unexpected body %q", httpErr.Body)
	}
}

func TestProvider_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewProvider("", "m", srv.URL, WithName("vllm")).Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("Hi")},
	})
	var llmErr *rlm.ErrLLM
	if !errors.As(err, &llmErr) || llmErr.Provider != "vllm" {
		t.Fatalf("expected *rlm.ErrLLM from vllm, got %v", err)
	}
}

func TestProvider_Chat_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewProvider("", "m", srv.URL).Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("Hi")},
	})
	var llmErr *rlm.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *rlm.ErrLLM, got %T", err)
	}
}

func TestProvider_Name(t *testing.T) {
	p := NewProvider("key", "model", "http://localhost")
	if p.Name() != "openai" {
		t.Errorf("expected default name 'openai', got %q", p.Name())
	}
	if p.Model() != "model" {
		t.Errorf("expected model 'model', got %q", p.Model())
	}

	p = NewProvider("key", "model", "http://localhost", WithName("groq"))
	if p.Name() != "groq" {
		t.Errorf("expected name 'groq', got %q", p.Name())
	}
}

func TestProvider_NoAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("expected no auth header for empty API key")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-4",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: "OK"},
			}},
		})
	}))
	defer srv.Close()

	// Ollama and other local providers don't need API keys.
	p := NewProvider("", "llama3", srv.URL)

	resp, err := p.Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != "OK" {
		t.Errorf("expected content 'OK', got %q", resp.Content)
	}
}

func TestProvider_WithOptions(t *testing.T) {
	var maxTokens []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		if req.Temperature == nil || *req.Temperature != 0.7 {
			t.Errorf("expected temperature 0.7, got %v", req.Temperature)
		}
		maxTokens = append(maxTokens, req.MaxTokens)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-5",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: "OK"},
			}},
		})
	}))
	defer srv.Close()

	p := NewProvider("key", "gpt-4o", srv.URL,
		WithOptions(WithTemperature(0.7), WithMaxTokens(2048)),
	)

	ctx := context.Background()
	msgs := []rlm.ChatMessage{rlm.UserMessage("Hi")}
	if _, err := p.Chat(ctx, rlm.ChatRequest{Messages: msgs}); err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	// A per-request cap overrides the provider option.
	if _, err := p.Chat(ctx, rlm.ChatRequest{Messages: msgs, MaxTokens: 64}); err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if _, err := p.Chat(ctx, rlm.ChatRequest{Messages: msgs}); err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if len(maxTokens) != 3 || maxTokens[0] != 2048 || maxTokens[1] != 64 || maxTokens[2] != 2048 {
		t.Errorf("max_tokens per request = %v", maxTokens)
	}
}

func TestProvider_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("HTTP-Referer"); got != "https://example.com" {
			t.Errorf("HTTP-Referer = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL,
		WithHeader("HTTP-Referer", "https://example.com"),
		WithHeader("Authorization", "Bearer ignored"))
	if _, err := p.Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("hi")},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}
