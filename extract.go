package rlm

import (
	"regexp"
	"strings"
)

// replFence matches a fenced region opened by "```repl" (optionally followed
// by whitespace) and a newline, and closed by a newline and "```". The body
// match is non-greedy so the first closing fence ends the block.
var replFence = regexp.MustCompile("(?s)```repl\\s*\\n(.*?)\\n```")

// FindCodeBlocks returns the bodies of every repl-fenced region in text, in
// source order, with surrounding whitespace removed. Text without a complete
// fence yields nil.
func FindCodeBlocks(text string) []string {
	matches := replFence.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}
	return blocks
}
