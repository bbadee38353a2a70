// Package storagetest is a behavioural test suite every storage.Catalog
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/fingerprint"
	"github.com/bull/docindex/internal/storage"
)

// Options tunes the suite to backend guarantees.
type Options struct {
	// RacyUniqueness marks backends whose fingerprint check is not atomic
	// with the insert, so concurrent identical inserts may all succeed.
	RacyUniqueness bool
}

// Run exercises a catalog. newCatalog must return an empty catalog; it is
// called once per subtest.
func Run(t *testing.T, newCatalog func(t *testing.T) storage.Catalog, opts Options) {
	t.Run("InsertAndRead", func(t *testing.T) { testInsertAndRead(t, newCatalog(t)) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, newCatalog(t)) })
	t.Run("DuplicateFingerprint", func(t *testing.T) { testDuplicateFingerprint(t, newCatalog(t)) })
	t.Run("ChunksForUnknownDocument", func(t *testing.T) { testChunksForUnknownDocument(t, newCatalog(t)) })
	t.Run("RollbackHidesWrites", func(t *testing.T) { testRollbackHidesWrites(t, newCatalog(t)) })
	t.Run("DimensionMismatch", func(t *testing.T) { testDimensionMismatch(t, newCatalog(t)) })
	t.Run("SearchRanking", func(t *testing.T) { testSearchRanking(t, newCatalog(t)) })
	t.Run("SearchTieBreak", func(t *testing.T) { testSearchTieBreak(t, newCatalog(t)) })
	t.Run("SearchEmptyCatalog", func(t *testing.T) { testSearchEmptyCatalog(t, newCatalog(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, newCatalog(t)) })
	if !opts.RacyUniqueness {
		t.Run("ConcurrentDuplicateInsert", func(t *testing.T) { testConcurrentDuplicateInsert(t, newCatalog(t)) })
	}
}

// Vector returns a deterministic, non-degenerate vector for seed.
func Vector(dim, seed int) []float32 {
	v := make([]float32, dim)
	for j := range v {
		v[j] = float32(math.Sin(float64(seed*(j+1)) + 0.5))
	}
	return v
}

func newDocument(name string) storage.NewDocument {
	return storage.NewDocument{
		Filename:     name,
		Fingerprint:  fingerprint.Of([]byte(name + uuid.NewString())),
		ContentType:  "text/plain",
		Size:         int64(len(name)),
		BlobLocation: "documents/2026/01/02/" + name,
		Metadata:     map[string]any{"chunk_count": 2},
	}
}

func chunksFor(dim, n, seed int) []storage.NewChunk {
	chunks := make([]storage.NewChunk, n)
	for i := range chunks {
		chunks[i] = storage.NewChunk{
			Text:      fmt.Sprintf("chunk %d of seed %d", i, seed),
			Index:     i,
			Embedding: Vector(dim, seed+i),
		}
	}
	return chunks
}

// insert stores one document with its chunks in a single transaction.
func insert(t *testing.T, cat storage.Catalog, nd storage.NewDocument, chunks []storage.NewChunk) *storage.Document {
	t.Helper()
	var doc *storage.Document
	err := cat.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		if doc, err = tx.InsertDocument(context.Background(), nd); err != nil {
			return err
		}
		return tx.InsertChunks(context.Background(), doc.ID, chunks)
	})
	require.NoError(t, err)
	return doc
}

func testInsertAndRead(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	dim := cat.Dimension()
	nd := newDocument("report.txt")
	doc := insert(t, cat, nd, chunksFor(dim, 3, 1))

	assert.NotZero(t, doc.ID)
	assert.Equal(t, nd.Fingerprint, doc.Fingerprint)
	assert.False(t, doc.ProcessedAt.IsZero())

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, nd.Filename, got.Filename)
	assert.Equal(t, nd.ContentType, got.ContentType)
	assert.Equal(t, nd.Size, got.Size)
	assert.Equal(t, nd.BlobLocation, got.BlobLocation)
	assert.EqualValues(t, 2, got.Metadata["chunk_count"])

	byFP, err := cat.FindByFingerprint(ctx, nd.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byFP.ID)

	chunks, err := cat.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Equal(t, fmt.Sprintf("chunk %d of seed 1", i), c.Text)
		assert.Len(t, c.Embedding, dim)
	}

	st, err := cat.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Documents)
	assert.EqualValues(t, 3, st.Chunks)
}

func testFindMissing(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	_, err := cat.FindByFingerprint(ctx, fingerprint.Of([]byte("nothing")))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = cat.GetDocument(ctx, 424242)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = cat.GetChunks(ctx, 424242)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, cat.DeleteDocument(ctx, 424242), storage.ErrNotFound)
}

func testDuplicateFingerprint(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	nd := newDocument("dup.txt")
	first := insert(t, cat, nd, chunksFor(cat.Dimension(), 2, 3))

	err := cat.WithTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertDocument(ctx, nd)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	winner, err := cat.FindByFingerprint(ctx, nd.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, first.ID, winner.ID)

	st, err := cat.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Documents)
	assert.EqualValues(t, 2, st.Chunks)
}

func testChunksForUnknownDocument(t *testing.T, cat storage.Catalog) {
	err := cat.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertChunks(context.Background(), 987654, chunksFor(cat.Dimension(), 1, 1))
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testRollbackHidesWrites(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	nd := newDocument("rollback.txt")
	boom := errors.New("embedding service went away")

	err := cat.WithTx(ctx, func(tx storage.Tx) error {
		doc, err := tx.InsertDocument(ctx, nd)
		if err != nil {
			return err
		}
		if err := tx.InsertChunks(ctx, doc.ID, chunksFor(cat.Dimension(), 2, 5)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = cat.FindByFingerprint(ctx, nd.Fingerprint)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	st, err := cat.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Documents)
	assert.Zero(t, st.Chunks)

	// A failed chunk batch also leaves nothing behind.
	bad := chunksFor(cat.Dimension(), 1, 5)
	bad[0].Embedding = bad[0].Embedding[:1]
	err = cat.WithTx(ctx, func(tx storage.Tx) error {
		doc, err := tx.InsertDocument(ctx, nd)
		if err != nil {
			return err
		}
		return tx.InsertChunks(ctx, doc.ID, bad)
	})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	_, err = cat.FindByFingerprint(ctx, nd.Fingerprint)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDimensionMismatch(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	_, err := cat.SearchByVector(ctx, make([]float32, cat.Dimension()+1), 5)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	_, err = cat.SearchByVector(ctx, Vector(cat.Dimension(), 1), 0)
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
}

func testSearchRanking(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	dim := cat.Dimension()
	docA := insert(t, cat, newDocument("a.txt"), chunksFor(dim, 5, 10))
	insert(t, cat, newDocument("b.txt"), chunksFor(dim, 5, 20))

	// Chunk 2 of document A was embedded with seed 12.
	hits, err := cat.SearchByVector(ctx, Vector(dim, 12), 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	top := hits[0]
	assert.Equal(t, docA.ID, top.Chunk.DocumentID)
	assert.Equal(t, 2, top.Chunk.Index)
	assert.InDelta(t, 1.0, top.Score, 1e-4)
	require.NotNil(t, top.Document)
	assert.Equal(t, "a.txt", top.Document.Filename)
	assert.Equal(t, docA.BlobLocation, top.Document.BlobLocation)

	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Score, hits[i-1].Score, "scores must be non-increasing")
	}

	all, err := cat.SearchByVector(ctx, Vector(dim, 12), 100)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func testSearchTieBreak(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	dim := cat.Dimension()
	same := Vector(dim, 7)
	chunks := []storage.NewChunk{
		{Text: "first", Index: 0, Embedding: same},
		{Text: "second", Index: 1, Embedding: same},
		{Text: "third", Index: 2, Embedding: same},
	}
	insert(t, cat, newDocument("ties.txt"), chunks)

	hits, err := cat.SearchByVector(ctx, same, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.Less(t, hits[i-1].Chunk.ID, hits[i].Chunk.ID, "equal scores must be ordered by chunk ID")
	}
}

func testSearchEmptyCatalog(t *testing.T, cat storage.Catalog) {
	hits, err := cat.SearchByVector(context.Background(), Vector(cat.Dimension(), 1), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func testCascadeDelete(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	dim := cat.Dimension()
	gone := insert(t, cat, newDocument("gone.txt"), chunksFor(dim, 4, 30))
	kept := insert(t, cat, newDocument("kept.txt"), chunksFor(dim, 2, 40))

	require.NoError(t, cat.DeleteDocument(ctx, gone.ID))

	_, err := cat.GetDocument(ctx, gone.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = cat.GetChunks(ctx, gone.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	st, err := cat.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Documents)
	assert.EqualValues(t, 2, st.Chunks)

	hits, err := cat.SearchByVector(ctx, Vector(dim, 30), 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, kept.ID, h.Chunk.DocumentID)
	}
}

func testConcurrentDuplicateInsert(t *testing.T, cat storage.Catalog) {
	ctx := context.Background()
	nd := newDocument("race.txt")
	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cat.WithTx(ctx, func(tx storage.Tx) error {
				doc, err := tx.InsertDocument(ctx, nd)
				if err != nil {
					return err
				}
				return tx.InsertChunks(ctx, doc.ID, chunksFor(cat.Dimension(), 2, 50))
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)

	st, err := cat.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Documents)
	assert.EqualValues(t, 2, st.Chunks)
}
