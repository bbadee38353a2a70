package storage

import "time"

// Document is one ingested file. Documents are created once per distinct
// fingerprint and never updated.
type Document struct {
	ID           int64          `json:"id"`
	Filename     string         `json:"filename"`
	Fingerprint  string         `json:"fingerprint"` // SHA-256 hex of the raw bytes, unique
	ContentType  string         `json:"content_type"`
	Size         int64          `json:"size_bytes"`
	ProcessedAt  time.Time      `json:"processed_at"`
	BlobLocation string         `json:"blob_location"` // weak reference into the blob store
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewDocument holds the caller-supplied fields of a document insert.
type NewDocument struct {
	Filename     string
	Fingerprint  string
	ContentType  string
	Size         int64
	BlobLocation string
	Metadata     map[string]any
}

// Chunk is a span of a document's extracted text with its embedding.
type Chunk struct {
	ID         int64
	DocumentID int64
	Text       string
	Index      int // zero-based, contiguous per document
	Embedding  []float32
	CreatedAt  time.Time
}

// NewChunk is one row of a bulk chunk insert.
type NewChunk struct {
	Text      string
	Index     int
	Embedding []float32
}

// ScoredChunk is a search hit: the chunk, its owning document and the
// cosine similarity (1 - cosine distance) to the query.
type ScoredChunk struct {
	Chunk    *Chunk
	Document *Document
	Score    float64
}

// Stats summarizes catalog contents.
type Stats struct {
	Documents int64
	Chunks    int64
}

// DefaultDimension is the embedding size for text-embedding-3-small.
const DefaultDimension = 1536
