package rlm

import (
	"encoding/json"
	"testing"
)

func TestNewContext(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		wantKind ContextKind
		wantText string
		wantData string
	}{
		{"string", "hello", ContextText, "hello", ""},
		{"bytes", []byte("raw"), ContextText, "raw", ""},
		{"map", map[string]any{"a": 1}, ContextJSON, "", `{"a":1}`},
		{"string map", map[string]string{"k": "v"}, ContextJSON, "", `{"k":"v"}`},
		{"strings", []string{"a", "b"}, ContextRecords, "", `["a","b"]`},
		{
			"records with content",
			[]map[string]string{{"role": "user", "content": "hi"}, {"role": "assistant", "content": "yo"}},
			ContextRecords, "", `["hi","yo"]`,
		},
		{
			"records without content",
			[]map[string]string{{"title": "x"}},
			ContextRecords, "", `[{"title":"x"}]`,
		},
		{
			"decoded json list with content",
			[]any{map[string]any{"content": "one"}, map[string]any{"other": 2}},
			ContextRecords, "", `["one",""]`,
		},
		{"plain list", []any{1, "two"}, ContextRecords, "", `[1,"two"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewContext(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", c.Kind, tt.wantKind)
			}
			if c.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", c.Text, tt.wantText)
			}
			if tt.wantData != "" && string(c.Data) != tt.wantData {
				t.Errorf("Data = %s, want %s", c.Data, tt.wantData)
			}
		})
	}
}

func TestNewContext_Errors(t *testing.T) {
	if _, err := NewContext(nil); err == nil {
		t.Error("nil context should fail")
	}
	if _, err := NewContext(42); err == nil {
		t.Error("int context should fail")
	}
}

func TestNewContext_PassThrough(t *testing.T) {
	in := Context{Kind: ContextJSON, Data: json.RawMessage(`{}`)}
	c, err := NewContext(in)
	if err != nil || c.Kind != ContextJSON || string(c.Data) != "{}" {
		t.Errorf("got %+v, %v", c, err)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if TextContext("abc").Len() != 3 {
		t.Error("text Len mismatch")
	}
}
