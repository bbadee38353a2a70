package extract

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// Plain splits UTF-8 text into paragraphs at blank lines.
type Plain struct{}

// Extract returns one paragraph element per non-blank paragraph.
func (p *Plain) Extract(data []byte) ([]Element, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrExtraction)
	}
	var elements []Element
	for _, para := range blankLines.Split(string(data), -1) {
		if text := normalizeSpace(para); text != "" {
			elements = append(elements, Element{Kind: KindParagraph, Text: text})
		}
	}
	return elements, nil
}
