package resolve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nevindra/rlm"
)

func TestDefaultBaseURL(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "https://api.openai.com/v1"},
		{"groq", "https://api.groq.com/openai/v1"},
		{"deepseek", "https://api.deepseek.com/v1"},
		{"together", "https://api.together.xyz/v1"},
		{"mistral", "https://api.mistral.ai/v1"},
		{"ollama", "http://localhost:11434/v1"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := defaultBaseURL(tt.provider); got != tt.want {
			t.Errorf("defaultBaseURL(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestProvider(t *testing.T) {
	temp, topP, thinking := 0.5, 0.9, true
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{"gemini", Config{Provider: "gemini", APIKey: "k", Model: "gemini-2.5-flash"}, "gemini", false},
		{"gemini options", Config{Provider: "gemini", APIKey: "k", Model: "gemini-2.5-flash", Temperature: &temp, TopP: &topP, Thinking: &thinking, MaxTokens: 512}, "gemini", false},
		{"openai", Config{Provider: "openai", APIKey: "k", Model: "gpt-5", ReasoningEffort: "low"}, "openai", false},
		{"groq", Config{Provider: "groq", APIKey: "k", Model: "m"}, "groq", false},
		{"deepseek", Config{Provider: "deepseek", APIKey: "k", Model: "m"}, "deepseek", false},
		{"together", Config{Provider: "together", APIKey: "k", Model: "m"}, "together", false},
		{"mistral", Config{Provider: "mistral", APIKey: "k", Model: "m"}, "mistral", false},
		{"ollama", Config{Provider: "ollama", Model: "llama3"}, "ollama", false},
		// Thinking only applies to gemini and is ignored here.
		{"openai thinking", Config{Provider: "openai", APIKey: "k", Model: "gpt-4o", Thinking: &thinking, Temperature: &temp}, "openai", false},
		{"custom base url", Config{Provider: "openai", Model: "m", BaseURL: "https://custom.api.com/v1"}, "openai", false},
		{"retry wrapped", Config{Provider: "openai", Model: "m", MaxAttempts: 3}, "openai", false},
		{"compat without base url", Config{Provider: "compat", Model: "m"}, "", true},
		{"unknown", Config{Provider: "unknown-llm", Model: "m"}, "", true},
		{"empty", Config{Model: "m"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Provider(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestProvider_CompatRetriesAndMaxTokens(t *testing.T) {
	var calls atomic.Int32
	var gotMaxTokens int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body struct {
			MaxTokens int `json:"max_tokens"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotMaxTokens = body.MaxTokens
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"FINAL(ok)"}}]}`))
	}))
	defer srv.Close()

	p, err := Provider(Config{
		Provider:    "compat",
		Model:       "local",
		BaseURL:     srv.URL,
		MaxTokens:   64,
		MaxAttempts: 3,
		RetryOpts:   []rlm.RetryOption{rlm.RetryBaseDelay(time.Millisecond)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := p.Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "FINAL(ok)" {
		t.Errorf("content = %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if gotMaxTokens != 64 {
		t.Errorf("max_tokens = %d, want 64", gotMaxTokens)
	}
	if p.Name() != "compat" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestProvider_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	p, err := Provider(Config{Provider: "compat", Model: "local", BaseURL: srv.URL, RPM: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "compat" {
		t.Errorf("Name() = %q, want compat", p.Name())
	}
	resp, err := p.Chat(context.Background(), rlm.ChatRequest{
		Messages: []rlm.ChatMessage{rlm.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
}
