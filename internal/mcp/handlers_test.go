package mcp

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/blob"
	"github.com/bull/docindex/internal/chunking"
	"github.com/bull/docindex/internal/embedding"
	"github.com/bull/docindex/internal/extract"
	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/search"
	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/storage/sqlite"
)

const testDim = 32

type testDeps struct {
	catalog  *sqlite.Store
	pipeline *indexer.Pipeline
	engine   *search.Engine
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	catalog, err := sqlite.New(ctx, filepath.Join(dir, "catalog.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := embedding.NewHashEmbedder(testDim)
	return &testDeps{
		catalog: catalog,
		pipeline: indexer.NewPipeline(catalog, blob.NewFSStore(filepath.Join(dir, "blobs")),
			extract.New(), chunking.NewDefault(), embedder, logger),
		engine: search.NewEngine(catalog, embedder, logger),
	}
}

func (d *testDeps) ingest(t *testing.T, filename, content string) IngestDocumentOutput {
	t.Helper()
	_, out, err := makeIngestHandler(d.pipeline)(context.Background(), nil, IngestDocumentInput{
		Filename: filename,
		Content:  content,
	})
	require.NoError(t, err)
	return out
}

func TestIngestHandler(t *testing.T) {
	d := newTestDeps(t)

	out := d.ingest(t, "notes.md", "# Notes\n\nKubernetes schedules pods onto nodes.")
	assert.Equal(t, "success", out.Status)
	assert.NotZero(t, out.DocumentID)
	assert.Equal(t, 1, out.ChunkCount)
	assert.NotEmpty(t, out.BlobLocation)

	again := d.ingest(t, "renamed.md", "# Notes\n\nKubernetes schedules pods onto nodes.")
	assert.Equal(t, "already_exists", again.Status)
	assert.Equal(t, out.DocumentID, again.DocumentID)
	assert.Equal(t, 1, again.ChunkCount)
}

func TestIngestHandler_Base64(t *testing.T) {
	d := newTestDeps(t)
	handler := makeIngestHandler(d.pipeline)

	_, out, err := handler(context.Background(), nil, IngestDocumentInput{
		Filename:      "page.html",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("<html><body><p>Hello from HTML</p></body></html>")),
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)

	_, _, err = handler(context.Background(), nil, IngestDocumentInput{
		Filename:      "page.html",
		ContentBase64: "not base64!",
	})
	assert.Error(t, err)
}

func TestIngestHandler_MissingFilename(t *testing.T) {
	d := newTestDeps(t)
	_, _, err := makeIngestHandler(d.pipeline)(context.Background(), nil, IngestDocumentInput{Content: "text"})
	assert.Error(t, err)
}

func TestSearchHandler(t *testing.T) {
	d := newTestDeps(t)
	target := d.ingest(t, "k8s.txt", "kubernetes schedules pods onto cluster nodes")
	d.ingest(t, "baking.txt", "sourdough bread needs flour water salt and patience")

	handler := makeSearchHandler(d.engine)
	_, out, err := handler(context.Background(), nil, SearchDocumentsInput{Query: "kubernetes pods nodes"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, target.DocumentID, out.Results[0].DocumentID)
	assert.Equal(t, "k8s.txt", out.Results[0].Filename)
	assert.LessOrEqual(t, len(out.Results), defaultLimit)
	for i := 1; i < len(out.Results); i++ {
		assert.GreaterOrEqual(t, out.Results[i-1].Score, out.Results[i].Score)
	}
}

func TestSearchHandler_MinScore(t *testing.T) {
	d := newTestDeps(t)
	d.ingest(t, "k8s.txt", "kubernetes schedules pods onto cluster nodes")

	_, out, err := makeSearchHandler(d.engine)(context.Background(), nil, SearchDocumentsInput{
		Query:    "kubernetes pods",
		MinScore: 1.5,
	})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Contains(t, out.Message, "No matching documents")
}

func TestSearchHandler_EmptyQuery(t *testing.T) {
	d := newTestDeps(t)
	_, _, err := makeSearchHandler(d.engine)(context.Background(), nil, SearchDocumentsInput{Query: "   "})
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
}

func TestGetDocumentHandler(t *testing.T) {
	d := newTestDeps(t)
	text := strings.Repeat("word ", 500)
	ingested := d.ingest(t, "long.txt", text)

	handler := makeGetDocumentHandler(d.engine)
	_, out, err := handler(context.Background(), nil, DocumentIDInput{DocumentID: ingested.DocumentID})
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, "long.txt", out.Document.Filename)
	assert.Equal(t, int64(len(text)), out.Document.Size)
	assert.NotEmpty(t, out.Document.ProcessedAt)
	require.Len(t, out.Chunks, ingested.ChunkCount)
	for i, c := range out.Chunks {
		assert.Equal(t, i, c.Index)
	}

	_, missing, err := handler(context.Background(), nil, DocumentIDInput{DocumentID: 9999})
	require.NoError(t, err)
	assert.False(t, missing.Found)
	assert.Nil(t, missing.Document)
}

func TestDeleteHandler(t *testing.T) {
	d := newTestDeps(t)
	ingested := d.ingest(t, "gone.txt", "this document will be deleted")

	handler := makeDeleteHandler(d.catalog)
	_, out, err := handler(context.Background(), nil, DocumentIDInput{DocumentID: ingested.DocumentID})
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, out, err = handler(context.Background(), nil, DocumentIDInput{DocumentID: ingested.DocumentID})
	require.NoError(t, err)
	assert.False(t, out.Deleted)
	assert.Contains(t, out.Message, "not found")

	// Deleted bytes can be ingested again.
	again := d.ingest(t, "gone.txt", "this document will be deleted")
	assert.Equal(t, "success", again.Status)
}

func TestStatusHandler(t *testing.T) {
	d := newTestDeps(t)
	d.ingest(t, "a.txt", "first document")
	d.ingest(t, "b.txt", "second document")

	_, out, err := makeStatusHandler(d.catalog)(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.True(t, out.Healthy)
	assert.Equal(t, int64(2), out.TotalDocs)
	assert.Equal(t, int64(2), out.TotalChunks)
	assert.Equal(t, testDim, out.Dimension)
}

func TestNewServer(t *testing.T) {
	d := newTestDeps(t)
	server := NewServer(&Config{Ingester: d.pipeline, Searcher: d.engine, Admin: d.catalog})
	require.NotNil(t, server.MCPServer())
}
