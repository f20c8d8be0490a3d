package rlm

import (
	"encoding/json"
	"fmt"
)

// ContextKind is the shape of the session context.
type ContextKind string

const (
	// ContextText binds `context` to a str.
	ContextText ContextKind = "text"
	// ContextJSON binds `context` to a decoded JSON mapping.
	ContextJSON ContextKind = "json"
	// ContextRecords binds `context` to a list.
	ContextRecords ContextKind = "records"
)

// Context is the read-only value bound to `context` inside the sandbox. Its
// shape is fixed once, when the session starts.
type Context struct {
	Kind ContextKind
	// Text is set for ContextText.
	Text string
	// Data is the JSON encoding of the mapping or list for ContextJSON and
	// ContextRecords.
	Data json.RawMessage
}

// TextContext wraps s as a text context.
func TextContext(s string) Context {
	return Context{Kind: ContextText, Text: s}
}

// Len returns the size of the context payload in bytes.
func (c Context) Len() int {
	if c.Kind == ContextText {
		return len(c.Text)
	}
	return len(c.Data)
}

// NewContext resolves v into a session context:
//
//   - string (or []byte) becomes text
//   - a map becomes a JSON mapping
//   - a list of records that carry a "content" key is reduced to the list of
//     their contents
//   - any other list is bound as is
//
// A Context value passes through unchanged.
func NewContext(v any) (Context, error) {
	switch t := v.(type) {
	case Context:
		return t, nil
	case string:
		return TextContext(t), nil
	case []byte:
		return TextContext(string(t)), nil
	case []string:
		return recordsContext(t)
	case map[string]string, map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return Context{}, fmt.Errorf("encode context: %w", err)
		}
		return Context{Kind: ContextJSON, Data: data}, nil
	case []map[string]string:
		if len(t) > 0 {
			if _, ok := t[0]["content"]; ok {
				contents := make([]string, len(t))
				for i, m := range t {
					contents[i] = m["content"]
				}
				return recordsContext(contents)
			}
		}
		return recordsContext(t)
	case []map[string]any:
		if len(t) > 0 {
			if _, ok := t[0]["content"]; ok {
				contents := make([]any, len(t))
				for i, m := range t {
					c, ok := m["content"]
					if !ok {
						c = ""
					}
					contents[i] = c
				}
				return recordsContext(contents)
			}
		}
		return recordsContext(t)
	case []any:
		if len(t) > 0 {
			if first, ok := t[0].(map[string]any); ok {
				if _, ok := first["content"]; ok {
					contents := make([]any, len(t))
					for i, item := range t {
						m, _ := item.(map[string]any)
						c, ok := m["content"]
						if !ok {
							c = ""
						}
						contents[i] = c
					}
					return recordsContext(contents)
				}
			}
		}
		return recordsContext(t)
	case nil:
		return Context{}, fmt.Errorf("context is nil")
	default:
		return Context{}, fmt.Errorf("unsupported context type %T", v)
	}
}

func recordsContext(v any) (Context, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Context{}, fmt.Errorf("encode context: %w", err)
	}
	return Context{Kind: ContextRecords, Data: data}, nil
}
