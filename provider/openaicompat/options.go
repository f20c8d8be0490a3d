package openaicompat

import "net/http"

// Option sets a generation parameter on every request body.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature (0.0–2.0).
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

// WithMaxTokens caps output tokens through the legacy max_tokens field,
// which most compatible servers still expect.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

// WithMaxCompletionTokens caps output tokens through max_completion_tokens.
// OpenAI reasoning models reject max_tokens.
func WithMaxCompletionTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxCompletionTokens = n }
}

// WithReasoningEffort sets reasoning_effort ("minimal", "low", "medium",
// "high") for models that think before answering.
func WithReasoningEffort(effort string) Option {
	return func(r *ChatRequest) { r.ReasoningEffort = effort }
}

func WithStop(s ...string) Option {
	return func(r *ChatRequest) { r.Stop = s }
}

func WithSeed(s int) Option {
	return func(r *ChatRequest) { r.Seed = &s }
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName sets the name reported by Name() (default "openai").
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithHeader adds a header to every request, e.g. OpenRouter's HTTP-Referer.
func WithHeader(key, value string) ProviderOption {
	return func(p *Provider) {
		if p.headers == nil {
			p.headers = make(http.Header)
		}
		p.headers.Add(key, value)
	}
}

// WithOptions applies request options to every request.
func WithOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}
