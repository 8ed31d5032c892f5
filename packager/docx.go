package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// zip entries carry a fixed timestamp so equal markup packs to equal bytes.
var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

const documentHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const documentFooter = `<w:sectPr><w:pgSz w:w="12240" w:h="15840"/><w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440"/></w:sectPr></w:body></w:document>`

// DocxPackager writes WordprocessingML locally. It has no external dependency and
// is always ready.
type DocxPackager struct {
	policy *bluemonday.Policy
}

func NewDocxPackager() *DocxPackager {
	return &DocxPackager{policy: bluemonday.UGCPolicy()}
}

func (p *DocxPackager) Extension() string { return "docx" }

func (p *DocxPackager) Package(ctx context.Context, in Input) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var warnings []string
	clean := p.policy.Sanitize(in.Markup)
	if clean != in.Markup {
		warnings = append(warnings, "markup was normalised by the sanitiser before packaging")
	}

	paragraphs := extractParagraphs(clean)
	if len(paragraphs) == 0 {
		warnings = append(warnings, "document has no text content")
	}

	data, err := buildDocx(paragraphs)
	if err != nil {
		return nil, fmt.Errorf("build docx: %w", err)
	}

	return &Artifact{
		Filename:    Filename(in.ContractYear, in.ProviderName, in.GeneratedAt, p.Extension()),
		Data:        data,
		ContentType: ContentTypeDOCX,
		Warnings:    warnings,
	}, nil
}

type paragraph struct {
	text string
	bold bool
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
	"caption": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "blockquote": true, "section": true,
}

// cellSeparator survives whitespace folding; it becomes a tab run in the document.
const cellSeparator = "\uE000"

var headingTags = map[string]bool{"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "caption": true}

// extractParagraphs flattens markup into paragraphs: block elements break lines,
// table cells are tab separated, headings become bold paragraphs.
func extractParagraphs(markup string) []paragraph {
	var (
		out     []paragraph
		current strings.Builder
		bold    int
		isBold  bool
	)
	flush := func() {
		text := strings.Join(strings.Fields(current.String()), " ")
		text = strings.ReplaceAll(text, " "+cellSeparator+" ", "\t")
		text = strings.ReplaceAll(text, " "+cellSeparator, "\t")
		text = strings.Trim(text, "\t ")
		if text != "" {
			out = append(out, paragraph{text: text, bold: isBold})
		}
		current.Reset()
		isBold = false
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				flush()
			}
			return out
		case html.TextToken:
			current.Write(z.Text())
			if bold > 0 {
				isBold = true
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "td" || tag == "th":
				if current.Len() > 0 {
					current.WriteString(" " + cellSeparator + " ")
				}
			case blockTags[tag]:
				flush()
			}
			if headingTags[tag] || tag == "strong" || tag == "b" {
				bold++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if headingTags[tag] || tag == "strong" || tag == "b" {
				if bold > 0 {
					bold--
				}
			}
			if blockTags[tag] {
				flush()
			}
		}
	}
}

func buildDocx(paragraphs []paragraph) ([]byte, error) {
	var doc bytes.Buffer
	doc.WriteString(documentHeader)
	for _, para := range paragraphs {
		doc.WriteString("<w:p>")
		for i, cell := range strings.Split(para.text, "\t") {
			if i > 0 {
				doc.WriteString("<w:r><w:tab/></w:r>")
			}
			doc.WriteString("<w:r>")
			if para.bold {
				doc.WriteString("<w:rPr><w:b/></w:rPr>")
			}
			doc.WriteString(`<w:t xml:space="preserve">`)
			if err := xml.EscapeText(&doc, []byte(cell)); err != nil {
				return nil, err
			}
			doc.WriteString("</w:t></w:r>")
		}
		doc.WriteString("</w:p>")
	}
	doc.WriteString(documentFooter)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := []struct {
		name string
		body []byte
	}{
		{"[Content_Types].xml", []byte(contentTypesXML)},
		{"_rels/.rels", []byte(relsXML)},
		{"word/document.xml", doc.Bytes()},
	}
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: entryTime})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(e.body); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
