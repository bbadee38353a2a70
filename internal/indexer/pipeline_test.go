package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/blob"
	"github.com/bull/docindex/internal/chunking"
	"github.com/bull/docindex/internal/embedding"
	"github.com/bull/docindex/internal/extract"
	"github.com/bull/docindex/internal/fingerprint"
	"github.com/bull/docindex/internal/metadata"
	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/storage/sqlite"
)

const testDim = 16

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	inner Embedder
	err   error
	drop  int // vectors to drop from each response
	dim   int // overrides the vector length when set
}

func (e *countingEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	vecs, err := e.inner.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if e.dim > 0 {
		for i := range vecs {
			vecs[i] = make([]float32, e.dim)
		}
	}
	return vecs[:len(vecs)-e.drop], nil
}

func (e *countingEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingBlobs struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (b *recordingBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts = append(b.puts, key)
	return key, nil
}

type fixture struct {
	catalog  *sqlite.Store
	blobs    *recordingBlobs
	embedder *countingEmbedder
	pipeline *Pipeline
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	catalog, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	f := &fixture{
		catalog:  catalog,
		blobs:    &recordingBlobs{},
		embedder: &countingEmbedder{inner: embedding.NewHashEmbedder(testDim)},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.pipeline = NewPipeline(catalog, f.blobs, extract.New(), chunking.NewDefault(), f.embedder, logger, opts...)
	return f
}

func (f *fixture) stats(t *testing.T) storage.Stats {
	t.Helper()
	st, err := f.catalog.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func TestProcess_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := strings.Repeat("abcd ", 300) // 1500 characters

	result, err := f.pipeline.Process(ctx, "notes.txt", []byte(text))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 2, result.ChunkCount)
	assert.NotZero(t, result.DocumentID)
	assert.Equal(t, fingerprint.Of([]byte(text)), result.Fingerprint)
	assert.Equal(t, "text/plain", result.ContentType)
	require.Len(t, f.blobs.puts, 1)
	assert.Equal(t, f.blobs.puts[0], result.BlobLocation)
	assert.Equal(t, 1, f.embedder.Calls(), "all chunks are embedded in one call")

	doc, err := f.catalog.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, int64(1500), doc.Size)
	assert.Equal(t, result.BlobLocation, doc.BlobLocation)
	assert.EqualValues(t, 2, doc.Metadata["chunk_count"])

	chunks, err := f.catalog.GetChunks(ctx, result.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.LessOrEqual(t, len([]rune(chunks[0].Text)), chunking.DefaultSize)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "abcd"))
	assert.True(t, strings.HasSuffix(chunks[0].Text, "abcd"), "first chunk ends at a word boundary")
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestProcess_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("The same bytes, ingested twice.")

	first, err := f.pipeline.Process(ctx, "a.txt", data)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, first.Status)

	second, err := f.pipeline.Process(ctx, "renamed.txt", data)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyExists, second.Status)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)

	assert.Len(t, f.blobs.puts, 1, "no blob re-upload")
	assert.Equal(t, 1, f.embedder.Calls(), "no re-embedding")
	assert.EqualValues(t, 1, f.stats(t).Documents)
}

func TestProcess_EmptyText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.pipeline.Process(ctx, "blank.txt", []byte("   \n\n\t  \n"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 0, result.ChunkCount)
	assert.Equal(t, 0, f.embedder.Calls())

	doc, err := f.catalog.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, true, doc.Metadata["empty_text"])
	assert.EqualValues(t, 0, f.stats(t).Chunks)
}

func TestProcess_ExtractionError(t *testing.T) {
	f := newFixture(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	result, err := f.pipeline.Process(context.Background(), "image.png", png)
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.NotEmpty(t, result.Message)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepExtract, stepErr.Step)
	assert.ErrorIs(t, err, extract.ErrExtraction)
	assert.ErrorIs(t, err, extract.ErrUnsupported)

	assert.Zero(t, f.stats(t).Documents)
}

func TestProcess_BlobFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.err = errors.New("bucket unavailable")

	result, err := f.pipeline.Process(context.Background(), "a.txt", []byte("hello"))
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepUpload, stepErr.Step)
	assert.Equal(t, 0, f.embedder.Calls())
	assert.Zero(t, f.stats(t).Documents)
}

func TestProcess_EmbedFailureLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("rate limited")
	f.embedder.err = boom

	result, err := f.pipeline.Process(context.Background(), "a.txt", []byte("some words to embed"))
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.ErrorIs(t, err, boom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepEmbed, stepErr.Step)

	st := f.stats(t)
	assert.Zero(t, st.Documents)
	assert.Zero(t, st.Chunks)

	// The blob stays behind and a retry succeeds.
	f.embedder.err = nil
	retry, err := f.pipeline.Process(context.Background(), "a.txt", []byte("some words to embed"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, retry.Status)
}

func TestProcess_EmbedCountMismatch(t *testing.T) {
	f := newFixture(t)
	f.embedder.drop = 1

	_, err := f.pipeline.Process(context.Background(), "a.txt", []byte("one chunk of text"))
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepEmbed, stepErr.Step)
	assert.Zero(t, f.stats(t).Documents)
}

func TestProcess_StoreFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.embedder.dim = testDim + 1

	result, err := f.pipeline.Process(context.Background(), "a.txt", []byte("wrong sized vectors"))
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepStore, stepErr.Step)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	st := f.stats(t)
	assert.Zero(t, st.Documents, "document row must be rolled back with its chunks")
	assert.Zero(t, st.Chunks)
}

// staleLookup hides committed documents from the first n lookups, as when a
// concurrent ingestion commits between the dedup check and the insert.
type staleLookup struct {
	storage.Catalog
	mu    sync.Mutex
	stale int
}

func (c *staleLookup) FindByFingerprint(ctx context.Context, fp string) (*storage.Document, error) {
	c.mu.Lock()
	if c.stale > 0 {
		c.stale--
		c.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	c.mu.Unlock()
	return c.Catalog.FindByFingerprint(ctx, fp)
}

func TestProcess_ConflictMapsToAlreadyExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("raced document")

	winner, err := f.pipeline.Process(ctx, "a.txt", data)
	require.NoError(t, err)

	racing := NewPipeline(&staleLookup{Catalog: f.catalog, stale: 1}, f.blobs, extract.New(),
		chunking.NewDefault(), f.embedder, nil)
	loser, err := racing.Process(ctx, "a.txt", data)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyExists, loser.Status)
	assert.Equal(t, winner.DocumentID, loser.DocumentID)
	assert.EqualValues(t, 1, f.stats(t).Documents)
}

func TestProcess_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	data := []byte("everyone ingests this at once")

	const workers = 6
	results := make([]*Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.pipeline.Process(context.Background(), "same.txt", data)
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	var success int
	for _, r := range results {
		require.NotNil(t, r)
		if r.Status == StatusSuccess {
			success++
		} else {
			assert.Equal(t, StatusAlreadyExists, r.Status)
		}
		assert.Equal(t, results[0].DocumentID, r.DocumentID)
	}
	assert.Equal(t, 1, success)
	assert.EqualValues(t, 1, f.stats(t).Documents)
}

func TestProcess_BlobPath(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	data := []byte("dated")

	result, err := f.pipeline.Process(context.Background(), "/home/me/notes.txt", data)
	require.NoError(t, err)
	assert.Equal(t, blob.ObjectPath(now, fingerprint.Of(data), "notes.txt"), result.BlobLocation)
	assert.True(t, strings.HasPrefix(result.BlobLocation, "documents/2025/01/02/"))
	assert.True(t, strings.HasSuffix(result.BlobLocation, "/notes.txt"))
}

func TestProcess_MarkdownTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.pipeline.Process(ctx, "guide.md", []byte("# Install Guide\n\nRun the installer.\n"))
	require.NoError(t, err)

	doc, err := f.catalog.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", doc.ContentType)
	assert.Equal(t, "Install Guide", doc.Metadata["title"])
}

type fakeSummarizer struct {
	err error
}

func (s fakeSummarizer) GenerateMetadata(ctx context.Context, filename, content string) (*metadata.DocumentMetadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &metadata.DocumentMetadata{Summary: "About " + filename, Keywords: []string{"alpha"}}, nil
}

func TestProcess_Summarizer(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, WithSummarizer(fakeSummarizer{}))
	result, err := f.pipeline.Process(ctx, "a.txt", []byte("summarize me"))
	require.NoError(t, err)
	doc, err := f.catalog.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "About a.txt", doc.Metadata["summary"])
	assert.Equal(t, []any{"alpha"}, doc.Metadata["keywords"])

	// A failing summarizer does not fail ingestion.
	f = newFixture(t, WithSummarizer(fakeSummarizer{err: errors.New("no quota")}))
	result, err = f.pipeline.Process(ctx, "a.txt", []byte("summarize me"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestProcess_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.pipeline.Process(ctx, "a.txt", []byte("never"))
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessAll(t *testing.T) {
	f := newFixture(t)
	sources := []Source{
		{Filename: "one.txt", Data: []byte("first document")},
		{Filename: "two.md", Data: []byte("# Two\n\nsecond document")},
		{Filename: "copy.txt", Data: []byte("first document")},
		{Filename: "pic.png", Data: []byte("\x89PNG\r\n\x1a\n\x00\x00")},
		{Filename: "tagged.txt", Data: []byte("third"), Metadata: map[string]any{"repository": "acme/docs"}},
	}

	out := f.pipeline.ProcessAll(context.Background(), sources, 2)
	assert.Equal(t, 5, out.TotalDocs)
	assert.Equal(t, 3, out.SuccessfulDocs)
	assert.Equal(t, 1, out.ExistingDocs, "identical bytes in one batch are stored once")
	require.Len(t, out.FailedDocs, 1)
	assert.Equal(t, "pic.png", out.FailedDocs[0].Filename)
	assert.Equal(t, StepExtract, out.FailedDocs[0].Step)
	require.Len(t, out.Results, 5)
	for i, r := range out.Results {
		assert.Equal(t, sources[i].Filename, r.Filename, "results keep input order")
	}

	doc, err := f.catalog.FindByFingerprint(context.Background(), fingerprint.Of([]byte("third")))
	require.NoError(t, err)
	assert.Equal(t, "acme/docs", doc.Metadata["repository"])
	assert.EqualValues(t, 3, f.stats(t).Documents)
}

func TestProcess_BlobStoreFailureIsStorageError(t *testing.T) {
	f := newFixture(t)
	root := filepath.Join(t.TempDir(), "blobs")
	require.NoError(t, os.WriteFile(root, []byte("not a directory"), 0o644))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(f.catalog, blob.NewFSStore(root), extract.New(), chunking.NewDefault(), f.embedder, logger)

	result, err := p.Process(context.Background(), "a.txt", []byte("hello"))
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepUpload, stepErr.Step)

	var storageErr *storage.Error
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "fs", storageErr.Backend)
	assert.Zero(t, f.stats(t).Documents)
}

func TestProcessAll_SourceMetadataCannotOverrideDerivedKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("a short document")
	sources := []Source{{
		Filename: "a.txt",
		Data:     data,
		Metadata: map[string]any{"chunk_count": 99, "empty_text": true, "repository": "acme/docs"},
	}}

	out := f.pipeline.ProcessAll(ctx, sources, 1)
	require.Equal(t, 1, out.SuccessfulDocs)
	assert.Equal(t, 1, out.Results[0].ChunkCount)

	doc, err := f.catalog.FindByFingerprint(ctx, fingerprint.Of(data))
	require.NoError(t, err)
	assert.EqualValues(t, 1, doc.Metadata["chunk_count"])
	assert.NotContains(t, doc.Metadata, "empty_text")
	assert.Equal(t, "acme/docs", doc.Metadata["repository"])

	again, err := f.pipeline.Process(ctx, "a.txt", data)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyExists, again.Status)
	assert.Equal(t, 1, again.ChunkCount)
}
