// Package resolve builds an rlm.Provider from a provider-agnostic Config.
package resolve

import (
	"fmt"

	"github.com/nevindra/rlm"
	"github.com/nevindra/rlm/provider/gemini"
	"github.com/nevindra/rlm/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama", "compat"
	APIKey   string
	Model    string
	BaseURL  string // required for "compat"; auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64
	Thinking    *bool
	// ReasoningEffort is sent as reasoning_effort to OpenAI-compatible APIs.
	ReasoningEffort string
	// MaxTokens caps every response. Zero uses the provider default.
	MaxTokens int

	// MaxAttempts > 1 wraps the provider with rlm.WithRetry.
	MaxAttempts int
	RetryOpts   []rlm.RetryOption

	// RPM and TPM > 0 wrap the provider with rlm.WithRateLimit, outside retry.
	RPM int
	TPM int
}

// Provider creates an rlm.Provider from a provider-agnostic Config.
func Provider(cfg Config) (rlm.Provider, error) {
	var p rlm.Provider
	switch cfg.Provider {
	case "gemini":
		p = geminiProvider(cfg)
	case "openai", "groq", "deepseek", "together", "mistral", "ollama", "compat":
		if cfg.BaseURL == "" && defaultBaseURL(cfg.Provider) == "" {
			return nil, fmt.Errorf("resolve: provider %q requires a base URL", cfg.Provider)
		}
		p = openaiCompatProvider(cfg)
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
	if cfg.MaxAttempts > 1 {
		opts := append([]rlm.RetryOption{rlm.RetryMaxAttempts(cfg.MaxAttempts)}, cfg.RetryOpts...)
		p = rlm.WithRetry(p, opts...)
	}
	if cfg.RPM > 0 || cfg.TPM > 0 {
		p = rlm.WithRateLimit(p, rlm.RateLimitRPM(cfg.RPM), rlm.RateLimitTPM(cfg.TPM))
	}
	return p, nil
}

func geminiProvider(cfg Config) rlm.Provider {
	var opts []gemini.Option
	if cfg.Temperature != nil {
		opts = append(opts, gemini.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, gemini.WithTopP(*cfg.TopP))
	}
	if cfg.Thinking != nil {
		opts = append(opts, gemini.WithThinking(*cfg.Thinking))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, gemini.WithMaxOutputTokens(cfg.MaxTokens))
	}
	return gemini.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) rlm.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	var provOpts []openaicompat.ProviderOption
	provOpts = append(provOpts, openaicompat.WithName(cfg.Provider))

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.ReasoningEffort != "" {
		reqOpts = append(reqOpts, openaicompat.WithReasoningEffort(cfg.ReasoningEffort))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
