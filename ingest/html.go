package ingest

import (
	"bytes"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-shiori/go-readability"
)

// HTMLExtractor extracts the main article text of an HTML page. Pages that
// readability cannot parse fall back to tag stripping.
type HTMLExtractor struct {
	// BaseURL resolves relative links during readability parsing. Optional.
	BaseURL *url.URL
}

func (e HTMLExtractor) Extract(content []byte) (string, error) {
	base := e.BaseURL
	if base == nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(content), base)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return strings.TrimSpace(article.TextContent), nil
	}
	return StripHTML(string(content)), nil
}

var (
	htmlHiddenRe = regexp.MustCompile(`(?is)<script\b.*?</script\s*>|<style\b.*?</style\s*>|<!--.*?-->`)
	htmlBreakRe  = regexp.MustCompile(`(?i)<(br|hr)\b[^>]*>|</(p|div|li|tr|h[1-6]|section|article|blockquote|pre|table)\s*>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
)

// StripHTML removes tags, scripts and styles, decodes entities, and keeps
// block boundaries as line breaks.
func StripHTML(s string) string {
	s = htmlHiddenRe.ReplaceAllString(s, "")
	s = htmlBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
