// Package chunking splits extracted document text into overlapping chunks
// that end on word boundaries.
package chunking

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/bull/docindex/internal/storage"
)

const (
	// DefaultSize is the target chunk length in characters.
	DefaultSize = 1000
	// DefaultOverlap is how many characters consecutive chunks share.
	DefaultOverlap = 200
)

// Chunk is one span of the source text.
type Chunk struct {
	Index int    // Position in document (0, 1, 2...)
	Text  string // Trimmed chunk text
	Start int    // Rune offset where the window starts
	End   int    // Rune offset where the window ends (exclusive)
}

// Chunker splits text into windows of Size characters that overlap by
// Overlap characters. Lengths count runes, not bytes.
type Chunker struct {
	size    int
	overlap int
}

// New returns a chunker. overlap must be smaller than size so every window
// advances.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", storage.ErrInvalidArgument, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", storage.ErrInvalidArgument, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// NewDefault returns a chunker with DefaultSize and DefaultOverlap.
func NewDefault() *Chunker {
	return &Chunker{size: DefaultSize, overlap: DefaultOverlap}
}

// Size returns the target chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap length.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into chunks in document order. A window that stops short
// of the end of the text is trimmed back to its last whitespace; a window
// without whitespace is cut at Size. The next window starts Overlap
// characters before the previous one ended.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	total := len(runes)

	if total <= c.size {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []Chunk{{Index: 0, Text: trimmed, Start: 0, End: total}}
	}

	var chunks []Chunk
	start := 0
	for start < total {
		end := start + c.size
		last := end >= total
		if last {
			end = total
		} else if cut := lastSpace(runes[start:end]); cut > 0 {
			end = start + cut
		}

		if trimmed := strings.TrimSpace(string(runes[start:end])); trimmed != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: trimmed, Start: start, End: end})
		}
		if last {
			break
		}

		next := end - c.overlap
		if next <= start {
			// The word boundary sat inside the overlap region; skip the
			// overlap rather than move backwards.
			next = end
		}
		start = next
	}
	return chunks
}

// lastSpace returns the offset of the last whitespace rune in window, or -1.
func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return -1
}

// Join concatenates element texts with single spaces in extraction order,
// skipping blank elements.
func Join(elements []string) string {
	parts := make([]string, 0, len(elements))
	for _, e := range elements {
		if strings.TrimSpace(e) == "" {
			continue
		}
		parts = append(parts, e)
	}
	return strings.Join(parts, " ")
}
