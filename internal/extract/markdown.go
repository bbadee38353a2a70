package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Markdown extracts headings, paragraphs, list text and code blocks from
// CommonMark source, tagging each element with its header path.
type Markdown struct {
	parser goldmark.Markdown
}

// NewMarkdown creates a markdown extractor configured with goldmark parser.
func NewMarkdown() *Markdown {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Markdown{parser: md}
}

// Extract parses source and returns its text-bearing blocks in order. The
// first top-level heading of the table of contents becomes the title.
func (m *Markdown) Extract(source []byte) ([]Element, error) {
	doc := m.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source, toc.MinDepth(1), toc.MaxDepth(6), toc.Compact(true))
	if err != nil {
		return nil, fmt.Errorf("%w: inspect TOC: %v", ErrExtraction, err)
	}
	var title string
	if len(tree.Items) > 0 {
		title = normalizeSpace(string(tree.Items[0].Title))
	}

	var (
		elements []Element
		headers  []string // header titles indexed by level-1
	)
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			heading := normalizeSpace(inlineText(node, source))
			if heading == "" {
				return ast.WalkSkipChildren, nil
			}
			if node.Level > len(headers) {
				headers = append(headers, make([]string, node.Level-len(headers))...)
			}
			headers = append(headers[:node.Level-1], heading)

			kind := KindHeading
			if heading == title {
				kind = KindTitle
				title = "" // only the first match
			}
			elements = append(elements, Element{Kind: kind, Text: heading, Section: formatHeaderPath(headers)})
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.TextBlock:
			if t := normalizeSpace(inlineText(node, source)); t != "" {
				elements = append(elements, Element{Kind: KindParagraph, Text: t, Section: formatHeaderPath(headers)})
			}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if t := strings.TrimSpace(blockLines(node, source)); t != "" {
				elements = append(elements, Element{Kind: KindCode, Text: t, Section: formatHeaderPath(headers)})
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk markdown: %v", ErrExtraction, err)
	}
	return elements, nil
}

// inlineText concatenates the text segments below an inline container.
func inlineText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.URL(source))
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func blockLines(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

// formatHeaderPath builds a header hierarchy string, skipping missing levels.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	var parts []string
	for i, segment := range path {
		if segment == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}
