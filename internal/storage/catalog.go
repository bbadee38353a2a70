// Package storage defines the document catalog: documents, their chunks and
// chunk embeddings, plus the error taxonomy shared by every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
)

// Catalog is the persistence contract implemented by the postgres, sqlite
// and qdrant backends.
type Catalog interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*Document, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetDocument(ctx context.Context, id int64) (*Document, error)
	GetChunks(ctx context.Context, documentID int64) ([]*Chunk, error)
	SearchByVector(ctx context.Context, query []float32, limit int) ([]*ScoredChunk, error)
	DeleteDocument(ctx context.Context, id int64) error
	Stats(ctx context.Context) (Stats, error)
	Dimension() int
	Health(ctx context.Context) error
	Close() error
}

// Tx is the write side of a catalog transaction. Writes made through a Tx
// become visible to other readers only when WithTx commits.
type Tx interface {
	InsertDocument(ctx context.Context, doc NewDocument) (*Document, error)
	InsertChunks(ctx context.Context, documentID int64, chunks []NewChunk) error
}

// ValidateChunks checks a chunk batch before it reaches a backend: indices
// must be 0..n-1 in order and every embedding must have dim entries.
func ValidateChunks(chunks []NewChunk, dim int) error {
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk %d has index %d", ErrInvalidArgument, i, c.Index)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(c.Embedding), dim)
		}
	}
	return nil
}

// ValidateQuery checks search arguments shared by every backend.
func ValidateQuery(query []float32, limit, dim int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), dim)
	}
	return nil
}

// SortScored orders hits by descending score, then ascending chunk ID.
func SortScored(hits []*ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}
