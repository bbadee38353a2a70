package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTML extracts the title and block-level text of an HTML page, skipping
// scripts, styles and other non-content elements.
type HTML struct{}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

var blockKinds = map[atom.Atom]Kind{
	atom.H1: KindHeading, atom.H2: KindHeading, atom.H3: KindHeading,
	atom.H4: KindHeading, atom.H5: KindHeading, atom.H6: KindHeading,
	atom.P: KindParagraph, atom.Li: KindParagraph, atom.Blockquote: KindParagraph,
	atom.Td: KindParagraph, atom.Th: KindParagraph, atom.Dd: KindParagraph, atom.Dt: KindParagraph,
	atom.Figcaption: KindParagraph,
	atom.Div:        KindParagraph, atom.Section: KindParagraph, atom.Article: KindParagraph,
	atom.Main: KindParagraph, atom.Body: KindParagraph,
	atom.Pre: KindCode,
}

// Extract parses data as HTML and returns its text blocks in document order.
func (h *HTML) Extract(data []byte) ([]Element, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrExtraction, err)
	}

	var elements []Element
	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		// Text outside any leaf block, e.g. a lead-in before the first <p>.
		if n.Type == html.TextNode && !inHead {
			if t := normalizeSpace(n.Data); t != "" {
				elements = append(elements, Element{Kind: KindParagraph, Text: t})
			}
			return
		}
		if n.Type == html.ElementNode {
			if skippedElements[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Title {
				if t := normalizeSpace(nodeText(n)); t != "" {
					elements = append(elements, Element{Kind: KindTitle, Text: t})
				}
				return
			}
			if inHead {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c, true)
				}
				return
			}
			if kind, ok := blockKinds[n.DataAtom]; ok && !hasBlockChild(n) {
				t := nodeText(n)
				if kind != KindCode {
					t = normalizeSpace(t)
				} else {
					t = strings.TrimSpace(t)
				}
				if t != "" {
					elements = append(elements, Element{Kind: kind, Text: t})
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inHead || n.DataAtom == atom.Head)
		}
	}
	walk(root, false)
	return elements, nil
}

// hasBlockChild reports whether n contains a nested block element, in which
// case the children are extracted individually.
func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if _, ok := blockKinds[c.DataAtom]; ok || hasBlockChild(c) {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Br {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}
