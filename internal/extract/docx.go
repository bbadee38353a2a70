package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DOCXContentType is the media type of Word (OOXML) documents.
const DOCXContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DOCX extracts paragraphs from word/document.xml and the title from
// docProps/core.xml. Paragraphs styled Title or HeadingN become title and
// heading elements; table cells are read like any other paragraph.
type DOCX struct{}

// Extract opens data as a zip archive and walks the document body.
func (d *DOCX) Extract(data []byte) ([]Element, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", ErrExtraction, err)
	}

	body, err := readZipFile(reader, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	elements, err := parseDocumentXML(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse word/document.xml: %v", ErrExtraction, err)
	}

	if Title(elements) == "" {
		if title := coreTitle(reader); title != "" {
			elements = append([]Element{{Kind: KindTitle, Text: title}}, elements...)
		}
	}
	return elements, nil
}

func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}

// parseDocumentXML streams the WordprocessingML body. Text runs (w:t) are
// collected per paragraph (w:p); w:tab and w:br become spaces.
func parseDocumentXML(content []byte) ([]Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))

	var (
		elements []Element
		text     strings.Builder
		style    string
		inText   bool
		depth    int // nesting of w:p, text boxes can hold paragraphs
	)
	flush := func() {
		t := normalizeSpace(text.String())
		text.Reset()
		if t == "" {
			return
		}
		elements = append(elements, Element{Kind: paragraphKind(style), Text: t})
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "p":
				if depth == 0 {
					style = ""
				}
				depth++
			case "pStyle":
				if depth == 1 {
					style = attr(el, "val")
				}
			case "t":
				inText = true
			case "tab", "br", "cr":
				text.WriteByte(' ')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "p":
				depth--
				if depth == 0 {
					flush()
				} else {
					text.WriteByte(' ')
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText && depth > 0 {
				text.Write(el)
			}
		}
	}
	return elements, nil
}

func paragraphKind(style string) Kind {
	s := strings.ToLower(style)
	switch {
	case s == "title":
		return KindTitle
	case strings.HasPrefix(s, "heading"):
		return KindHeading
	default:
		return KindParagraph
	}
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

type coreXML struct {
	Title string `xml:"title"`
}

// coreTitle returns dc:title from docProps/core.xml, or "".
func coreTitle(reader *zip.Reader) string {
	content, err := readZipFile(reader, "docProps/core.xml")
	if err != nil {
		return ""
	}
	var core coreXML
	if err := xml.Unmarshal(content, &core); err != nil {
		return ""
	}
	return normalizeSpace(core.Title)
}
