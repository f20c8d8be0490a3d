package openaicompat

import "github.com/nevindra/rlm"

// ParseResponse converts an OpenAI-format ChatResponse to an rlm
// ChatResponse. It extracts content and usage from choices[0]. A refusal
// stands in for empty content.
func ParseResponse(resp ChatResponse) (rlm.ChatResponse, error) {
	var out rlm.ChatResponse

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		msg := resp.Choices[0].Message
		out.Content = msg.Content
		if out.Content == "" {
			out.Content = msg.Refusal
		}
	}

	if resp.Usage != nil {
		out.Usage = rlm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
		if resp.Usage.PromptTokensDetails != nil {
			out.Usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
		}
	}

	return out, nil
}
