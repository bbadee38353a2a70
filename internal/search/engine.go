// Package search answers similarity queries and document lookups against
// the catalog.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/docindex/internal/storage"
)

// DefaultLimit is used by callers that do not specify a result count.
const DefaultLimit = 5

// Embedder maps texts to vectors.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is one search hit.
type Match struct {
	ChunkText    string  `json:"chunk_text"`
	ChunkIndex   int     `json:"chunk_index"`
	DocumentID   int64   `json:"document_id"`
	Filename     string  `json:"filename"`
	BlobLocation string  `json:"blob_location"`
	Score        float64 `json:"similarity_score"`
}

// ChunkInfo is one chunk in a document detail response.
type ChunkInfo struct {
	Index int    `json:"chunk_index"`
	Text  string `json:"chunk_text"`
}

// DocumentDetail is the result of Document. Found is false for an unknown ID.
type DocumentDetail struct {
	Found    bool              `json:"found"`
	Document *storage.Document `json:"document,omitempty"`
	Chunks   []ChunkInfo       `json:"chunks,omitempty"`
}

// Engine embeds queries and ranks catalog chunks against them.
type Engine struct {
	catalog  storage.Catalog
	embedder Embedder
	logger   *slog.Logger
}

// NewEngine creates a search engine.
func NewEngine(catalog storage.Catalog, embedder Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{catalog: catalog, embedder: embedder, logger: logger}
}

// Search returns up to limit chunks most similar to query, best first.
// An empty catalog yields an empty slice.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidArgument, limit)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", storage.ErrInvalidArgument)
	}
	start := time.Now()

	vecs, err := e.embedder.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for 1 text", len(vecs))
	}

	hits, err := e.catalog.SearchByVector(ctx, vecs[0], limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		m := Match{
			ChunkText:  h.Chunk.Text,
			ChunkIndex: h.Chunk.Index,
			DocumentID: h.Chunk.DocumentID,
			Score:      h.Score,
		}
		if h.Document != nil {
			m.Filename = h.Document.Filename
			m.BlobLocation = h.Document.BlobLocation
		}
		matches = append(matches, m)
	}

	e.logger.Debug("search complete", "results", len(matches), "limit", limit, "duration", time.Since(start))
	return matches, nil
}

// Document returns a document and its chunks in index order.
func (e *Engine) Document(ctx context.Context, id int64) (*DocumentDetail, error) {
	doc, err := e.catalog.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return &DocumentDetail{Found: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	chunks, err := e.catalog.GetChunks(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted between the two reads.
		return &DocumentDetail{Found: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}

	detail := &DocumentDetail{Found: true, Document: doc, Chunks: make([]ChunkInfo, len(chunks))}
	for i, c := range chunks {
		detail.Chunks[i] = ChunkInfo{Index: c.Index, Text: c.Text}
	}
	return detail, nil
}
