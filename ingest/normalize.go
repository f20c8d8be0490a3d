package ingest

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Normalize applies NFKC, which folds non-breaking and full-width spaces to
// ASCII, converts line endings to \n, and collapses runs of blank lines.
func Normalize(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = norm.NFKC.String(s)
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
