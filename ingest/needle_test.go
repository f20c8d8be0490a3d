package ingest

import (
	"math/rand/v2"
	"strings"
	"testing"
)

func TestGenerateNeedle(t *testing.T) {
	h, err := GenerateNeedle(rand.New(rand.NewPCG(1, 2)), 1000, "1298418")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(h.Text, "\n")
	if len(lines) != 1000 {
		t.Fatalf("expected 1000 lines, got %d", len(lines))
	}
	if h.Line < 400 || h.Line > 600 {
		t.Errorf("needle at line %d, want between 400 and 600", h.Line)
	}
	if lines[h.Line] != "The magic number is 1298418" {
		t.Errorf("needle line = %q", lines[h.Line])
	}
	if strings.Count(h.Text, NeedlePrefix) != 1 {
		t.Error("needle should appear exactly once")
	}

	allowed := map[string]bool{}
	for _, w := range haystackWords {
		allowed[w] = true
	}
	for i, line := range lines {
		if i == h.Line {
			continue
		}
		words := strings.Fields(line)
		if len(words) < 3 || len(words) > 8 {
			t.Fatalf("line %d has %d words", i, len(words))
		}
		for _, w := range words {
			if !allowed[w] {
				t.Fatalf("line %d has unexpected word %q", i, w)
			}
		}
	}
}

func TestGenerateNeedleDeterministic(t *testing.T) {
	a, _ := GenerateNeedle(rand.New(rand.NewPCG(7, 7)), 200, "")
	b, _ := GenerateNeedle(rand.New(rand.NewPCG(7, 7)), 200, "")
	if a.Text != b.Text || a.Answer != b.Answer || a.Line != b.Line {
		t.Error("same seed should produce the same haystack")
	}
	if len(a.Answer) != 7 {
		t.Errorf("random answer %q should have seven digits", a.Answer)
	}
}

func TestGenerateNeedleSmall(t *testing.T) {
	h, err := GenerateNeedle(nil, 1, "9")
	if err != nil {
		t.Fatal(err)
	}
	if h.Text != "The magic number is 9" || h.Line != 0 {
		t.Errorf("got %+v", h)
	}

	if _, err := GenerateNeedle(nil, 0, "9"); err == nil {
		t.Error("expected error for zero lines")
	}
}
