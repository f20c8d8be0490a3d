package main

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const maxRenderWidth = 120

// renderAnswer renders Markdown for terminals. Pipes, files and raw mode get
// the answer unchanged.
func renderAnswer(w io.Writer, answer string, raw bool) string {
	plain := strings.TrimRight(answer, "\n") + "\n"
	f, ok := w.(*os.File)
	if raw || !ok || !term.IsTerminal(int(f.Fd())) {
		return plain
	}

	width := 80
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
		width = min(cols, maxRenderWidth)
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return plain
	}
	out, err := r.Render(answer)
	if err != nil {
		return plain
	}
	return out
}
