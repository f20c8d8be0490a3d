package rlm

import "fmt"

// Conversation is the ordered transcript of one session. Messages are only
// ever appended.
type Conversation struct {
	messages []ChatMessage
}

// NewConversation starts a transcript with a system message. An empty
// systemPrompt uses DefaultSystemPrompt.
func NewConversation(systemPrompt string) *Conversation {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Conversation{messages: []ChatMessage{SystemMessage(systemPrompt)}}
}

// NextActionPrompt returns the per-round instruction for the given 0-based
// iteration. It is sent with the request but not stored in the transcript.
func (c *Conversation) NextActionPrompt(query string, iteration int) ChatMessage {
	return UserMessage(nextActionText(query, iteration))
}

// FinalActionPrompt returns the instruction that forces an answer once the
// iteration budget is spent.
func (c *Conversation) FinalActionPrompt() ChatMessage {
	return UserMessage(finalActionPrompt)
}

// AppendExecution records an executed block and its (already truncated)
// report as a user message.
func (c *Conversation) AppendExecution(code, result string) {
	c.messages = append(c.messages, UserMessage(executionMessage(code, result)))
}

// AppendReply records a model response that carried no code.
func (c *Conversation) AppendReply(text string) {
	c.messages = append(c.messages, AssistantMessage("You replied:\n"+text))
}

// Append adds msg verbatim.
func (c *Conversation) Append(msg ChatMessage) {
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []ChatMessage {
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Request returns the transcript followed by extra, without storing extra.
func (c *Conversation) Request(extra ...ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(c.messages)+len(extra))
	out = append(out, c.messages...)
	return append(out, extra...)
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int { return len(c.messages) }

func executionMessage(code, result string) string {
	return fmt.Sprintf("Code executed:\n```python\n%s\n```\n\nREPL output:\n%s", code, result)
}
