package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/indexer"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "# A")
	writeFile(t, filepath.Join(dir, "sub", "b.TXT"), "B")
	writeFile(t, filepath.Join(dir, "image.png"), "png")
	writeFile(t, filepath.Join(dir, ".git", "c.md"), "hidden")
	single := filepath.Join(t.TempDir(), "explicit.bin")
	writeFile(t, single, "named files are always read")

	sources, err := collectSources([]string{dir, single}, []string{".md", ".txt"})
	require.NoError(t, err)

	var names []string
	for _, s := range sources {
		names = append(names, s.Filename)
	}
	assert.ElementsMatch(t, []string{"a.md", "b.TXT", "explicit.bin"}, names)
	assert.Equal(t, "file", sources[0].Metadata["source"])
}

func TestCollectSources_Missing(t *testing.T) {
	_, err := collectSources([]string{filepath.Join(t.TempDir(), "nope")}, nil)
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t\tc", 10))
	assert.Equal(t, "日本...", preview("日本語", 2))
}

func TestReport(t *testing.T) {
	result := &indexer.IndexResult{
		TotalDocs:      2,
		SuccessfulDocs: 1,
		TotalChunks:    3,
		Results: []*indexer.Result{
			{Status: indexer.StatusSuccess, Filename: "a.md", DocumentID: 1, ChunkCount: 3},
			{Status: indexer.StatusError, Filename: "b.md", Message: "extract: bad"},
		},
		FailedDocs: []indexer.FailedDoc{{Filename: "b.md", Step: indexer.StepExtract, Reason: "bad"}},
	}

	var buf bytes.Buffer
	err := report(&buf, result, 0)
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "1 new, 0 existing, 1 failed of 2")
	assert.Contains(t, buf.String(), "b.md: extract: bad")

	buf.Reset()
	result.FailedDocs = nil
	assert.NoError(t, report(&buf, result, 0))
	assert.Error(t, report(&buf, result, 1), "fetch failures count as failures")
}
