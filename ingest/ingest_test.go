package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestContentTypeFromExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want ContentType
	}{
		{"md", TypeMarkdown},
		{".markdown", TypeMarkdown},
		{".HTML", TypeHTML},
		{"htm", TypeHTML},
		{".csv", TypeCSV},
		{".json", TypeJSON},
		{".docx", TypeDOCX},
		{".pdf", TypePDF},
		{".txt", TypePlainText},
		{"", TypePlainText},
	}
	for _, tt := range tests {
		if got := ContentTypeFromExtension(tt.ext); got != tt.want {
			t.Errorf("ContentTypeFromExtension(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestContentTypeFromMIME(t *testing.T) {
	if ct, ok := ContentTypeFromMIME("text/html; charset=utf-8"); !ok || ct != TypeHTML {
		t.Errorf("got %q %v", ct, ok)
	}
	if ct, ok := ContentTypeFromMIME("application/pdf"); !ok || ct != TypePDF {
		t.Errorf("got %q %v", ct, ok)
	}
	if _, ok := ContentTypeFromMIME("application/octet-stream"); ok {
		t.Error("octet-stream should not be recognised")
	}
	if _, ok := ContentTypeFromMIME(""); ok {
		t.Error("empty header should not be recognised")
	}
}

func TestLoadBytesPlainText(t *testing.T) {
	v, err := LoadBytes([]byte("\xef\xbb\xbfhello\r\nworld"), TypePlainText)
	if err != nil {
		t.Fatal(err)
	}
	if v != "hello\r\nworld" {
		t.Errorf("got %q", v)
	}
}

func TestLoadBytesJSON(t *testing.T) {
	v, err := LoadBytes([]byte(`{"id": 12345678901234567890, "tags": ["a"]}`), TypeJSON)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if n, ok := m["id"].(json.Number); !ok || n.String() != "12345678901234567890" {
		t.Errorf("number not preserved: %#v", m["id"])
	}

	v, err = LoadBytes([]byte(`[1, 2]`), TypeJSON)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.([]any); !ok {
		t.Errorf("expected list, got %T", v)
	}
}

func TestLoadBytesJSONScalarIsText(t *testing.T) {
	v, err := LoadBytes([]byte(" 42\n"), TypeJSON)
	if err != nil {
		t.Fatal(err)
	}
	if v != "42" {
		t.Errorf("got %#v", v)
	}
}

func TestLoadBytesJSONInvalid(t *testing.T) {
	if _, err := LoadBytes([]byte(`{"a":`), TypeJSON); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestLoadBytesCSV(t *testing.T) {
	data := "\xef\xbb\xbfname, age\nalice,30\nbob\ncarol,41,extra\n"
	v, err := LoadBytes([]byte(data), TypeCSV)
	if err != nil {
		t.Fatal(err)
	}
	recs, ok := v.([]map[string]string)
	if !ok {
		t.Fatalf("expected records, got %T", v)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0]["name"] != "alice" || recs[0]["age"] != "30" {
		t.Errorf("record 0 = %v", recs[0])
	}
	if recs[1]["age"] != "" {
		t.Errorf("missing cell should be empty, got %q", recs[1]["age"])
	}
	if len(recs[2]) != 2 {
		t.Errorf("extra cell should be dropped, got %v", recs[2])
	}
}

func TestLoadBytesCSVEmpty(t *testing.T) {
	v, err := LoadBytes([]byte("  \n"), TypeCSV)
	if err != nil {
		t.Fatal(err)
	}
	if recs := v.([]map[string]string); len(recs) != 0 {
		t.Errorf("expected no records, got %v", recs)
	}
}

func TestLoadBytesMarkdown(t *testing.T) {
	src := "# Title\n\nSome **bold** and [a link](http://x.y).\n\n```go\nfmt.Println(1)\n```\n\n- one\n- two\n"
	v, err := LoadBytes([]byte(src), TypeMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	out := v.(string)
	for _, want := range []string{"Title", "Some bold and a link.", "fmt.Println(1)", "one", "two"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
	for _, bad := range []string{"#", "**", "](", "```"} {
		if strings.Contains(out, bad) {
			t.Errorf("markup %q left in %q", bad, out)
		}
	}
}

func TestMarkdownExtractorTable(t *testing.T) {
	src := "| a | b |\n|---|---|\n| 1 | 2 |\n"
	out, err := MarkdownExtractor{}.Extract([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "a\tb") || !strings.Contains(out, "1\t2") {
		t.Errorf("table cells not kept: %q", out)
	}
}

func TestStripHTML(t *testing.T) {
	in := "<p>Tom &amp; Jerry</p><script>alert('x')</script><style>p{}</style><!-- c --><div>second   line</div>"
	out := StripHTML(in)
	if out != "Tom & Jerry\nsecond line" {
		t.Errorf("got %q", out)
	}
}

func TestHTMLExtractorFallback(t *testing.T) {
	out, err := HTMLExtractor{}.Extract([]byte("<b>hi</b>"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "hi") || strings.Contains(out, "<") {
		t.Errorf("got %q", out)
	}
}

func TestNormalize(t *testing.T) {
	in := "\ufeffa\u00a0b\r\nfull\uff21\r\n\n\n\nend  "
	want := "a b\nfullA\n\nend"
	if got := Normalize(in); got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestDOCXExtractor(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>First</w:t></w:r><w:r><w:t xml:space="preserve"> para` + "\u00a0" + `graph</w:t></w:r></w:p>
<w:tbl><w:tr>
<w:tc><w:p><w:r><w:t>cell one</w:t></w:r></w:p></w:tc>
<w:tc><w:p><w:r><w:t>cell</w:t></w:r></w:p><w:p><w:r><w:t>two</w:t></w:r></w:p></w:tc>
</w:tr></w:tbl>
<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>tabbed</w:t></w:r></w:p>
</w:body></w:document>`

	out, err := DOCXExtractor{}.Extract(buildDOCX(t, doc))
	if err != nil {
		t.Fatal(err)
	}
	want := "First para graph\nSecond\ttabbed\ncell one\ncell\ntwo"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestDOCXExtractorErrors(t *testing.T) {
	if _, err := (DOCXExtractor{}).Extract(nil); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := (DOCXExtractor{}).Extract([]byte("not a zip")); err == nil {
		t.Error("expected error for invalid zip")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("word/styles.xml"); err != nil {
		t.Fatal(err)
	}
	zw.Close()
	if _, err := (DOCXExtractor{}).Extract(buf.Bytes()); err == nil {
		t.Error("expected error for missing document.xml")
	}
}

func TestPDFExtractorEmptyContent(t *testing.T) {
	if _, err := (PDFExtractor{}).Extract(nil); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := (PDFExtractor{}).Extract([]byte("not a pdf")); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "data.json")
	if err := os.WriteFile(p, []byte(`{"k":"v"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := v.(map[string]any); !ok || m["k"] != "v" {
		t.Errorf("got %#v", v)
	}

	if _, err := Load(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"content":"a"}]`))
		case "/notes.md":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("# Notes\n\nbody"))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	v, err := Fetch(ctx, srv.Client(), srv.URL+"/data")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.([]any); !ok {
		t.Errorf("expected list, got %T", v)
	}

	v, err = Fetch(ctx, srv.Client(), srv.URL+"/notes.md")
	if err != nil {
		t.Fatal(err)
	}
	if v != "Notes\n\nbody" {
		t.Errorf("markdown by extension: got %q", v)
	}

	if _, err := Fetch(ctx, srv.Client(), srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
