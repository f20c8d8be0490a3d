package rlm

import (
	"context"
	"errors"
	"testing"
)

func TestFindFinalAnswer(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   FinalAnswer
		wantOK bool
	}{
		{"none", "still working on it", FinalAnswer{}, false},
		{"literal", "FINAL(42)", FinalAnswer{Kind: FinalLiteral, Value: "42"}, true},
		{"literal indented", "done.\n   FINAL(the answer)", FinalAnswer{Kind: FinalLiteral, Value: "the answer"}, true},
		{"literal quoted", `FINAL("1298418")`, FinalAnswer{Kind: FinalLiteral, Value: "1298418"}, true},
		{"literal mismatched quotes kept", `FINAL("abc')`, FinalAnswer{Kind: FinalLiteral, Value: `"abc'`}, true},
		{"literal spans lines", "FINAL(line one\nline two)", FinalAnswer{Kind: FinalLiteral, Value: "line one\nline two"}, true},
		{"literal ends at first paren", "FINAL(a) and (b)", FinalAnswer{Kind: FinalLiteral, Value: "a"}, true},
		{"variable", "FINAL_VAR(total)", FinalAnswer{Kind: FinalVariable, Value: "total"}, true},
		{"variable quoted", `FINAL_VAR( "total" )`, FinalAnswer{Kind: FinalVariable, Value: "total"}, true},
		{"variable single quoted", "FINAL_VAR('total')", FinalAnswer{Kind: FinalVariable, Value: "total"}, true},
		{"not at line start", "call FINAL(42) when ready", FinalAnswer{}, false},
		{"variable wins over literal", "FINAL(x)\nFINAL_VAR(y)", FinalAnswer{Kind: FinalVariable, Value: "y"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindFinalAnswer(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFindFinalAnswer_PrecedenceLaw(t *testing.T) {
	for _, text := range []string{
		"FINAL(x)\nFINAL_VAR(y)",
		"FINAL_VAR(y)\nFINAL(x)",
		"  FINAL(x)\n  FINAL_VAR(y)\n",
	} {
		got, ok := FindFinalAnswer(text)
		if !ok || got.Kind != FinalVariable || got.Value != "y" {
			t.Errorf("FindFinalAnswer(%q) = %+v, %v; want variable y", text, got, ok)
		}
	}
}

func TestResolveFinalAnswer(t *testing.T) {
	ctx := context.Background()
	sb := &fakeSandbox{}
	sb.set("total", "17")

	got, err := ResolveFinalAnswer(ctx, FinalAnswer{Kind: FinalLiteral, Value: "hi"}, sb)
	if err != nil || got != "hi" {
		t.Errorf("literal: got %q, %v", got, err)
	}

	got, err = ResolveFinalAnswer(ctx, FinalAnswer{Kind: FinalVariable, Value: "total"}, sb)
	if err != nil || got != "17" {
		t.Errorf("variable: got %q, %v", got, err)
	}

	_, err = ResolveFinalAnswer(ctx, FinalAnswer{Kind: FinalVariable, Value: "missing"}, sb)
	var uv *ErrUnresolvedVariable
	if !errors.As(err, &uv) || uv.Name != "missing" {
		t.Errorf("missing: got %v, want ErrUnresolvedVariable", err)
	}

	sb.Close()
	_, err = ResolveFinalAnswer(ctx, FinalAnswer{Kind: FinalVariable, Value: "total"}, sb)
	if !errors.Is(err, ErrSandboxClosed) {
		t.Errorf("closed: got %v, want ErrSandboxClosed", err)
	}
}

func TestFinalKindString(t *testing.T) {
	if FinalLiteral.String() != "FINAL" || FinalVariable.String() != "FINAL_VAR" {
		t.Errorf("unexpected names %q %q", FinalLiteral, FinalVariable)
	}
	if FinalKind(0).String() != "unknown" {
		t.Errorf("zero kind = %q", FinalKind(0))
	}
}
