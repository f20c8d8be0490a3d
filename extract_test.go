package rlm

import (
	"fmt"
	"strings"
	"testing"
)

func TestFindCodeBlocks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "just thinking out loud", nil},
		{"single", "```repl\nprint(1)\n```", []string{"print(1)"}},
		{"trailing spaces after tag", "```repl   \nx = 1\n```", []string{"x = 1"}},
		{"body trimmed", "```repl\n\n   x = 1  \n\n```", []string{"x = 1"}},
		{"two blocks in order", "a\n```repl\nx = 1\n```\nb\n```repl\nprint(x)\n```\n", []string{"x = 1", "print(x)"}},
		{"other language ignored", "```python\nprint(1)\n```", nil},
		{"missing close fence", "```repl\nprint(1)\n", nil},
		{"first close fence ends block", "```repl\na\n```\nmiddle\n```", []string{"a"}},
		{"multi-line body", "```repl\nfor i in range(3):\n    print(i)\n```", []string{"for i in range(3):\n    print(i)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindCodeBlocks(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d blocks %q, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("block %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFindCodeBlocks_NWellFormedBlocks(t *testing.T) {
	for n := 0; n <= 5; n++ {
		var b strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "step %d\n```repl\nv%d = %d\n```\n", i, i, i)
		}
		got := FindCodeBlocks(b.String())
		if len(got) != n {
			t.Fatalf("n=%d: got %d blocks", n, len(got))
		}
		for i, code := range got {
			if want := fmt.Sprintf("v%d = %d", i, i); code != want {
				t.Errorf("n=%d: block %d = %q, want %q", n, i, code, want)
			}
		}
	}
}
