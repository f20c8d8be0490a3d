// Package ingest loads documents into values accepted by rlm.NewContext.
//
// Text formats (plain text, HTML, Markdown, DOCX, PDF) load as a string.
// JSON loads as the decoded mapping or list, and CSV loads as a list of
// records keyed by the header row.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Extractor converts raw content to plain text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypeCSV       ContentType = "text/csv"
	TypeJSON      ContentType = "application/json"
	TypeDOCX      ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypePDF       ContentType = "application/pdf"
)

// maxFetchBytes bounds documents downloaded by Fetch.
const maxFetchBytes = 64 << 20

// ContentTypeFromExtension maps file extensions, with or without the
// leading dot, to content types. Unknown extensions are plain text.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "csv":
		return TypeCSV
	case "json":
		return TypeJSON
	case "docx":
		return TypeDOCX
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// ContentTypeFromMIME maps a Content-Type header value to a content type.
// The second result is false when the media type is not recognised.
func ContentTypeFromMIME(header string) (ContentType, bool) {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", false
	}
	switch ct := ContentType(mediaType); ct {
	case TypePlainText, TypeHTML, TypeMarkdown, TypeCSV, TypeJSON, TypeDOCX, TypePDF:
		return ct, true
	case "application/xhtml+xml":
		return TypeHTML, true
	case "text/x-markdown":
		return TypeMarkdown, true
	default:
		return "", false
	}
}

// extractorFor returns the text extractor for ct. CSV and JSON are not text
// formats and have none.
func extractorFor(ct ContentType) Extractor {
	switch ct {
	case TypeHTML:
		return HTMLExtractor{}
	case TypeMarkdown:
		return MarkdownExtractor{}
	case TypeDOCX:
		return DOCXExtractor{}
	case TypePDF:
		return PDFExtractor{}
	default:
		return PlainTextExtractor{}
	}
}

// Load reads the file at p and converts it according to its extension.
func Load(p string) (any, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	v, err := LoadBytes(data, ContentTypeFromExtension(filepath.Ext(p)))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p, err)
	}
	return v, nil
}

// LoadBytes converts data of type ct into a context value.
func LoadBytes(data []byte, ct ContentType) (any, error) {
	return load(data, ct, extractorFor(ct))
}

func load(data []byte, ct ContentType, e Extractor) (any, error) {
	switch ct {
	case TypeJSON:
		return decodeJSON(data)
	case TypeCSV:
		return decodeCSV(data)
	case TypePlainText:
		return string(trimBOM(data)), nil
	}
	text, err := e.Extract(data)
	if err != nil {
		return nil, err
	}
	return Normalize(text), nil
}

// Fetch downloads rawURL and converts the body. The type comes from the
// Content-Type header, then the URL path extension. HTML pages go through
// readability with rawURL as the base.
func Fetch(ctx context.Context, client *http.Client, rawURL string) (any, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d: %s", rawURL, resp.StatusCode, bytes.TrimSpace(body[:min(len(body), 200)]))
	}

	ct, ok := ContentTypeFromMIME(resp.Header.Get("Content-Type"))
	if !ok || ct == TypePlainText {
		if ext := path.Ext(u.Path); ext != "" {
			ct = ContentTypeFromExtension(ext)
		} else if !ok {
			ct, _ = ContentTypeFromMIME(http.DetectContentType(body))
		}
	}
	if ct == "" {
		ct = TypePlainText
	}

	e := extractorFor(ct)
	if ct == TypeHTML {
		e = HTMLExtractor{BaseURL: u}
	}
	return load(body, ct, e)
}

// decodeJSON returns the decoded mapping or list. Scalars load as text.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(trimBOM(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return strings.TrimSpace(string(data)), nil
	}
}

// PlainTextExtractor returns content as-is.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return string(trimBOM(content)), nil
}

func trimBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
}
