package ingest

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
)

var haystackWords = []string{"blah", "random", "text", "data", "content", "information", "sample"}

// NeedlePrefix starts the line that carries the answer.
const NeedlePrefix = "The magic number is "

// Haystack is a synthetic needle-in-a-haystack corpus.
type Haystack struct {
	Text   string
	Answer string
	// Line is the zero-based line holding the needle.
	Line int
}

// GenerateNeedle builds lines of 3 to 8 random filler words and replaces one
// line, placed between 40% and 60% of the way through, with
// "The magic number is <answer>". A nil r uses a randomly seeded source.
func GenerateNeedle(r *rand.Rand, lines int, answer string) (Haystack, error) {
	if lines < 1 {
		return Haystack{}, errors.New("needle: lines must be positive")
	}
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if answer == "" {
		answer = RandomAnswer(r)
	}

	lo, hi := lines*2/5, lines*3/5
	pos := min(lo+r.IntN(hi-lo+1), lines-1)

	var b strings.Builder
	b.Grow(lines * 40)
	for i := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if i == pos {
			b.WriteString(NeedlePrefix)
			b.WriteString(answer)
			continue
		}
		n := 3 + r.IntN(6)
		for w := range n {
			if w > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(haystackWords[r.IntN(len(haystackWords))])
		}
	}
	return Haystack{Text: b.String(), Answer: answer, Line: pos}, nil
}

// RandomAnswer returns a random seven-digit number.
func RandomAnswer(r *rand.Rand) string {
	if r == nil {
		return strconv.Itoa(1_000_000 + rand.IntN(9_000_000))
	}
	return strconv.Itoa(1_000_000 + r.IntN(9_000_000))
}
