// Package mcp exposes ingestion, search and catalog administration as
// Model Context Protocol tools.
package mcp

import (
	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/search"
)

// IngestDocumentInput defines the input parameters for the ingest_document tool.
type IngestDocumentInput struct {
	// Filename is used for content-type detection and the blob path.
	Filename string `json:"filename" jsonschema:"The document file name, e.g. notes.md"`
	// Content is the document text. Ignored when ContentBase64 is set.
	Content string `json:"content,omitempty" jsonschema:"The document text"`
	// ContentBase64 carries binary documents.
	ContentBase64 string `json:"content_base64,omitempty" jsonschema:"The raw document bytes, base64 encoded"`
}

// IngestDocumentOutput mirrors the pipeline result.
type IngestDocumentOutput struct {
	Status       string `json:"status"`
	DocumentID   int64  `json:"document_id,omitempty"`
	Filename     string `json:"filename"`
	ChunkCount   int    `json:"chunks_processed"`
	BlobLocation string `json:"blob_location,omitempty"`
	Message      string `json:"message,omitempty"`
}

// SearchDocumentsInput defines the input parameters for the search_documents tool.
type SearchDocumentsInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"The semantic search query"`
	// Limit is the maximum number of chunks to return.
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of chunks to return (1-50, default 5)"`
	// MinScore drops results below this similarity.
	MinScore float64 `json:"min_score,omitempty" jsonschema:"Minimum similarity score (0-1, default 0)"`
}

// SearchDocumentsOutput contains the search results.
type SearchDocumentsOutput struct {
	// Results are ordered by descending similarity.
	Results []search.Match `json:"results"`
	// Message provides informational context (e.g., "No matching documents found").
	Message string `json:"message,omitempty"`
}

// DocumentIDInput identifies one document.
type DocumentIDInput struct {
	DocumentID int64 `json:"document_id" jsonschema:"The catalog document ID"`
}

// DocumentInfo is the document part of get_document.
type DocumentInfo struct {
	ID           int64          `json:"id"`
	Filename     string         `json:"filename"`
	Fingerprint  string         `json:"fingerprint"`
	ContentType  string         `json:"content_type"`
	Size         int64          `json:"size_bytes"`
	ProcessedAt  string         `json:"processed_at"`
	BlobLocation string         `json:"blob_location"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// GetDocumentOutput contains a document and its chunks.
type GetDocumentOutput struct {
	Found    bool               `json:"found"`
	Document *DocumentInfo      `json:"document,omitempty"`
	Chunks   []search.ChunkInfo `json:"chunks,omitempty"`
}

// DeleteDocumentOutput reports whether a document was removed.
type DeleteDocumentOutput struct {
	Deleted bool   `json:"deleted"`
	Message string `json:"message,omitempty"`
}

// StatusInput defines the input parameters for the get_index_status tool.
// This tool takes no parameters.
type StatusInput struct{}

// StatusOutput describes the catalog.
type StatusOutput struct {
	TotalDocs   int64  `json:"total_docs"`
	TotalChunks int64  `json:"total_chunks"`
	Dimension   int    `json:"embedding_dimension"`
	Healthy     bool   `json:"healthy"`
	Error       string `json:"error,omitempty"`
}

func ingestOutput(r *indexer.Result) IngestDocumentOutput {
	return IngestDocumentOutput{
		Status:       string(r.Status),
		DocumentID:   r.DocumentID,
		Filename:     r.Filename,
		ChunkCount:   r.ChunkCount,
		BlobLocation: r.BlobLocation,
		Message:      r.Message,
	}
}
