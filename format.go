package rlm

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultMaxResultChars bounds the size of a single execution report added to
// the transcript.
const DefaultMaxResultChars = 100_000

// maxValueChars bounds each per-binding summary.
const maxValueChars = 100

const truncationMarker = "..."

// environmentNames are bindings the sandbox installs itself. They are never
// reported back to the model.
var environmentNames = map[string]bool{
	"__builtins__": true,
	"__name__":     true,
	"__doc__":      true,
	"llm_query":    true,
	"FINAL":        true,
	"FINAL_VAR":    true,
}

// plainTypes are the binding types worth listing.
var plainTypes = map[string]bool{
	"str":   true,
	"int":   true,
	"float": true,
	"bool":  true,
	"list":  true,
	"dict":  true,
	"tuple": true,
}

// Binding describes one name in the sandbox namespace. The sandbox reports a
// type name and a bounded summary, never the full value.
type Binding struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// FormatExecutionResult renders a code execution for the transcript: stdout,
// stderr, then the sorted list of user-visible bindings, separated by blank
// lines. It returns "No output" when there is nothing to show.
func FormatExecutionResult(stdout, stderr string, bindings map[string]Binding) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, "\n"+stdout)
	}
	if stderr != "" {
		parts = append(parts, "\n"+stderr)
	}
	if names := visibleNames(bindings); len(names) > 0 {
		parts = append(parts, "REPL variables: "+pyList(names)+"\n")
	}
	if len(parts) == 0 {
		return "No output"
	}
	return strings.Join(parts, "\n\n")
}

// TruncateResult cuts s to max characters and appends "..." when s is longer
// than max. A non-positive max disables truncation.
func TruncateResult(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + truncationMarker
}

// truncateValue shortens a binding summary to maxValueChars runes.
func truncateValue(s string) string {
	if utf8.RuneCountInString(s) <= maxValueChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxValueChars]) + truncationMarker
}

func visibleNames(bindings map[string]Binding) []string {
	names := make([]string, 0, len(bindings))
	for name, b := range bindings {
		if strings.HasPrefix(name, "_") || environmentNames[name] || !plainTypes[b.Type] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pyList renders names the way the interpreter prints a list of strings.
func pyList(names []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		b.WriteString(strings.ReplaceAll(n, "'", "\\'"))
		b.WriteByte('\'')
	}
	b.WriteByte(']')
	return b.String()
}
