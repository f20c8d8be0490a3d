package rlm

import (
	"context"
	"regexp"
	"strings"
)

// FinalKind distinguishes the two final-answer directives.
type FinalKind int

const (
	// FinalLiteral is FINAL(text): the argument is the answer.
	FinalLiteral FinalKind = iota + 1
	// FinalVariable is FINAL_VAR(name): the answer is the value bound to name
	// in the sandbox.
	FinalVariable
)

func (k FinalKind) String() string {
	switch k {
	case FinalLiteral:
		return "FINAL"
	case FinalVariable:
		return "FINAL_VAR"
	default:
		return "unknown"
	}
}

// FinalAnswer is a detected final-answer directive.
type FinalAnswer struct {
	Kind  FinalKind `json:"kind"`
	Value string    `json:"value"`
}

// Both directives must start a line (leading whitespace allowed). The argument
// may span lines and ends at the first closing parenthesis.
var (
	finalVarDirective = regexp.MustCompile(`(?ms)^\s*FINAL_VAR\((.*?)\)`)
	finalDirective    = regexp.MustCompile(`(?ms)^\s*FINAL\((.*?)\)`)
)

// FindFinalAnswer reports the final-answer directive carried by text, if any.
// FINAL_VAR takes precedence over FINAL when both are present.
func FindFinalAnswer(text string) (FinalAnswer, bool) {
	if m := finalVarDirective.FindStringSubmatch(text); m != nil {
		return FinalAnswer{Kind: FinalVariable, Value: variableName(m[1])}, true
	}
	if m := finalDirective.FindStringSubmatch(text); m != nil {
		return FinalAnswer{Kind: FinalLiteral, Value: literalAnswer(m[1])}, true
	}
	return FinalAnswer{}, false
}

// ResolveFinalAnswer turns a directive into answer text. A literal directive
// resolves to its argument; a variable directive reads the named binding from
// sb and fails with *ErrUnresolvedVariable when the name is not bound.
func ResolveFinalAnswer(ctx context.Context, fa FinalAnswer, sb Sandbox) (string, error) {
	if fa.Kind != FinalVariable {
		return fa.Value, nil
	}
	if sb == nil {
		return "", &ErrUnresolvedVariable{Name: fa.Value}
	}
	v, ok, err := sb.Lookup(ctx, fa.Value)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &ErrUnresolvedVariable{Name: fa.Value}
	}
	return v, nil
}

func variableName(arg string) string {
	return strings.Trim(strings.TrimSpace(arg), "\"'` \t\r\n")
}

func literalAnswer(arg string) string {
	s := strings.TrimSpace(arg)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
