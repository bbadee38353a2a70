//go:build integration

package qdrant

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/storage/storagetest"
)

const testDim = 8

func testConfig(t *testing.T) Config {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p, err := strconv.Atoi(os.Getenv("QDRANT_PORT")); err == nil {
		port = p
	}
	return Config{Host: host, Port: port, Collection: "docindex_test_" + uuid.NewString()[:8]}
}

// setupTestStore creates a store on a fresh collection.
// Skips test if Qdrant is not running.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := New(ctx, testConfig(t), testDim, nil)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	require.NoError(t, store.EnsureCollection(ctx), "Failed to ensure collection")
	t.Cleanup(func() {
		_ = store.DropCollection(context.Background())
		store.Close()
	})
	return store
}

func TestCatalogContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Catalog {
		return setupTestStore(t)
	}, storagetest.Options{RacyUniqueness: true})
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.EnsureCollection(context.Background()))
}

func TestEnsureCollectionChecksDimension(t *testing.T) {
	store := setupTestStore(t)

	cfg := testConfig(t)
	cfg.Collection = store.Collection()
	other, err := New(context.Background(), cfg, testDim*2, nil)
	require.NoError(t, err)
	defer other.Close()

	assert.ErrorIs(t, other.EnsureCollection(context.Background()), storage.ErrDimensionMismatch)
}

func TestSearchSkipsOrphanedChunks(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	// Chunks written without their document point, as after a crash between
	// the two upserts.
	orphan := documentID("never-committed")
	require.NoError(t, store.upsertChunks(ctx, orphan, []storage.NewChunk{
		{Text: "orphan", Index: 0, Embedding: storagetest.Vector(testDim, 1)},
	}, "2026-01-01T00:00:00Z"))

	hits, err := store.SearchByVector(ctx, storagetest.Vector(testDim, 1), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
