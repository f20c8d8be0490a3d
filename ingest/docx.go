package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DOCXExtractor extracts text from Word documents. Body paragraphs come
// first, one per line, followed by the text of every table cell.
type DOCXExtractor struct{}

func (DOCXExtractor) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("empty docx content")
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	f, err := zr.Open("word/document.xml")
	if err != nil {
		return "", errors.New("missing word/document.xml")
	}
	defer f.Close()

	p := docxParser{dec: xml.NewDecoder(f)}
	if err := p.run(); err != nil {
		return "", err
	}
	parts := append(p.paragraphs, p.cells...)
	return strings.ReplaceAll(strings.Join(parts, "\n"), "\u00a0", " "), nil
}

// docxParser streams the OOXML tokens of document.xml.
type docxParser struct {
	dec *xml.Decoder

	paragraphs []string
	cells      []string

	para       strings.Builder
	inText     bool
	tableDepth int
	cellParas  []string
}

func (p *docxParser) run() error {
	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t.Name.Local)
		case xml.EndElement:
			p.end(t.Name.Local)
		case xml.CharData:
			if p.inText {
				p.para.Write(t)
			}
		}
	}
}

func (p *docxParser) start(name string) {
	switch name {
	case "p":
		p.para.Reset()
	case "t":
		p.inText = true
	case "tab":
		p.para.WriteByte('\t')
	case "br", "cr":
		p.para.WriteByte('\n')
	case "tbl":
		p.tableDepth++
	case "tc":
		if p.tableDepth == 1 {
			p.cellParas = nil
		}
	}
}

func (p *docxParser) end(name string) {
	switch name {
	case "t":
		p.inText = false
	case "p":
		if p.tableDepth == 0 {
			p.paragraphs = append(p.paragraphs, p.para.String())
		} else {
			p.cellParas = append(p.cellParas, p.para.String())
		}
		p.para.Reset()
	case "tc":
		if p.tableDepth == 1 {
			p.cells = append(p.cells, strings.Join(p.cellParas, "\n"))
		}
	case "tbl":
		p.tableDepth--
	}
}
