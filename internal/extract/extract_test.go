package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		filename string
		data     string
		want     string
	}{
		{"README.md", "# hi", "text/markdown"},
		{"notes.TXT", "plain", "text/plain"},
		{"page.html", "<p>x</p>", "text/html"},
		{"config.yml", "a: b", "application/yaml"},
		{"noext", "just some words", "text/plain"},
		{"blob", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR", "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.filename, []byte(tt.data)))
		})
	}
}

func TestPlain(t *testing.T) {
	data := []byte("First   paragraph\nwraps here.\n\n\n  Second paragraph.  \n\n   \n")
	elements, err := New().Extract(context.Background(), "text/plain; charset=utf-8", data)
	require.NoError(t, err)
	assert.Equal(t, []string{"First paragraph wraps here.", "Second paragraph."}, Texts(elements))
	assert.Equal(t, "", Title(elements))
}

func TestPlain_Empty(t *testing.T) {
	elements, err := New().Extract(context.Background(), "text/plain", []byte(" \n\n "))
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestPlain_InvalidUTF8(t *testing.T) {
	_, err := New().Extract(context.Background(), "text/plain", []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestUnsupported(t *testing.T) {
	_, err := New().Extract(context.Background(), "application/pdf", []byte("%PDF-1.7"))
	assert.True(t, errors.Is(err, ErrExtraction))
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestMarkdown(t *testing.T) {
	source := `# Getting Started

Introduction text
spans two lines.

## Installation

- Install the *binary*
- Run ` + "`docindex init`" + `

` + "```sh" + `
docindex ingest ./docs
` + "```" + `

## Configuration

Config details here.
`
	elements, err := New().Extract(context.Background(), "text/markdown", []byte(source))
	require.NoError(t, err)

	assert.Equal(t, "Getting Started", Title(elements))
	assert.Equal(t, []string{
		"Getting Started",
		"Introduction text spans two lines.",
		"Installation",
		"Install the binary",
		"Run docindex init",
		"docindex ingest ./docs",
		"Configuration",
		"Config details here.",
	}, Texts(elements))

	assert.Equal(t, KindTitle, elements[0].Kind)
	assert.Equal(t, KindHeading, elements[2].Kind)
	assert.Equal(t, KindCode, elements[5].Kind)
	assert.Equal(t, "# Getting Started > ## Installation", elements[3].Section)
	assert.Equal(t, "# Getting Started > ## Configuration", elements[7].Section)
}

func TestMarkdown_NoHeaders(t *testing.T) {
	elements, err := NewMarkdown().Extract([]byte("Just one paragraph."))
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "", elements[0].Section)
	assert.Equal(t, "", Title(elements))
}

func TestFormatHeaderPath(t *testing.T) {
	assert.Equal(t, "", formatHeaderPath(nil))
	assert.Equal(t, "# A > ## B", formatHeaderPath([]string{"A", "B"}))
	assert.Equal(t, "# A > ### C", formatHeaderPath([]string{"A", "", "C"}))
}

func TestHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html><head><title> Release   Notes </title><style>p { color: red }</style></head>
<body>
  Lead-in text.
  <h1>Version 2</h1>
  <div><p>Faster <b>search</b>.</p><p>Smaller index.</p></div>
  <ul><li>Fix one</li><li>Fix two</li></ul>
  <script>console.log("ignored")</script>
  <pre>  code
  block</pre>
</body></html>`
	elements, err := New().Extract(context.Background(), "text/html", []byte(page))
	require.NoError(t, err)

	assert.Equal(t, "Release Notes", Title(elements))
	assert.Equal(t, []string{
		"Release Notes",
		"Lead-in text.",
		"Version 2",
		"Faster search.",
		"Smaller index.",
		"Fix one",
		"Fix two",
		"code\n  block",
	}, Texts(elements))
}

func TestExtract_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Extract(ctx, "text/plain", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
