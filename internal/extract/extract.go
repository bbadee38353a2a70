// Package extract turns raw document bytes into text-bearing elements.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
)

var (
	ErrExtraction  = errors.New("text extraction failed")
	ErrUnsupported = errors.New("unsupported content type")
)

// Kind classifies an element.
type Kind string

const (
	KindTitle     Kind = "title"
	KindHeading   Kind = "heading"
	KindParagraph Kind = "paragraph"
	KindCode      Kind = "code"
)

// Element is one text-bearing unit in extraction order.
type Element struct {
	Kind    Kind
	Text    string
	Section string // Header path for markdown, e.g. "# Guide > ## Install"
}

// Texts returns the text of every element, in order.
func Texts(elements []Element) []string {
	out := make([]string, len(elements))
	for i, e := range elements {
		out[i] = e.Text
	}
	return out
}

// Title returns the first title element's text, or "".
func Title(elements []Element) string {
	for _, e := range elements {
		if e.Kind == KindTitle {
			return e.Text
		}
	}
	return ""
}

// Extractor dispatches on media type to the plain text, markdown, HTML or
// DOCX extractor. It never modifies data.
type Extractor struct {
	plain    *Plain
	markdown *Markdown
	html     *HTML
	docx     *DOCX
}

// New returns an Extractor with every built-in format registered.
func New() *Extractor {
	return &Extractor{
		plain:    &Plain{},
		markdown: NewMarkdown(),
		html:     &HTML{},
		docx:     &DOCX{},
	}
}

// Extract returns the elements of data. Unknown binary formats fail with an
// error wrapping both ErrExtraction and ErrUnsupported.
func (x *Extractor) Extract(ctx context.Context, contentType string, data []byte) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch mediaType := baseType(contentType); {
	case mediaType == "text/markdown" || mediaType == "text/x-markdown":
		return x.markdown.Extract(data)
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return x.html.Extract(data)
	case mediaType == DOCXContentType:
		return x.docx.Extract(data)
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/xml",
		mediaType == "application/yaml",
		mediaType == "application/x-yaml":
		return x.plain.Extract(data)
	default:
		return nil, fmt.Errorf("%w: %w: %s", ErrExtraction, ErrUnsupported, mediaType)
	}
}

var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".csv":      "text/csv",
	".json":     "application/json",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".html":     "text/html",
	".htm":      "text/html",
	".docx":     DOCXContentType,
}

// DetectContentType guesses a media type from the file extension, falling
// back to content sniffing.
func DetectContentType(filename string, data []byte) string {
	ext := strings.ToLower(path.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return baseType(t)
	}
	return baseType(http.DetectContentType(data))
}

func baseType(contentType string) string {
	if t, _, err := mime.ParseMediaType(contentType); err == nil {
		return t
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// normalizeSpace collapses whitespace runs to single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
