package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/search"
	"github.com/bull/docindex/internal/storage"
)

const (
	defaultLimit = search.DefaultLimit
	maxLimit     = 50
)

// Ingester ingests one document.
type Ingester interface {
	Process(ctx context.Context, filename string, data []byte) (*indexer.Result, error)
}

// Searcher answers similarity and document-detail queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Match, error)
	Document(ctx context.Context, id int64) (*search.DocumentDetail, error)
}

// Admin is the catalog surface used by delete and status tools.
type Admin interface {
	DeleteDocument(ctx context.Context, id int64) error
	Stats(ctx context.Context) (storage.Stats, error)
	Health(ctx context.Context) error
	Dimension() int
}

// makeIngestHandler creates the ingest_document tool handler.
// Pipeline failures are reported as a result with status "error" so the
// client sees which step failed.
func makeIngestHandler(ingester Ingester) func(
	context.Context, *mcp.CallToolRequest, IngestDocumentInput,
) (*mcp.CallToolResult, IngestDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestDocumentInput) (
		*mcp.CallToolResult, IngestDocumentOutput, error,
	) {
		if strings.TrimSpace(input.Filename) == "" {
			return nil, IngestDocumentOutput{}, fmt.Errorf("filename is required")
		}

		data := []byte(input.Content)
		if input.ContentBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(input.ContentBase64)
			if err != nil {
				return nil, IngestDocumentOutput{}, fmt.Errorf("content_base64: %w", err)
			}
			data = decoded
		}

		result, err := ingester.Process(ctx, input.Filename, data)
		if result == nil {
			return nil, IngestDocumentOutput{}, fmt.Errorf("ingest failed: %w", err)
		}
		return nil, ingestOutput(result), nil
	}
}

// makeSearchHandler creates the search_documents tool handler.
func makeSearchHandler(searcher Searcher) func(
	context.Context, *mcp.CallToolRequest, SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (
		*mcp.CallToolResult, SearchDocumentsOutput, error,
	) {
		// Apply defaults
		limit := input.Limit
		if limit <= 0 {
			limit = defaultLimit
		}
		limit = min(limit, maxLimit)

		matches, err := searcher.Search(ctx, input.Query, limit)
		if err != nil {
			return nil, SearchDocumentsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]search.Match, 0, len(matches))
		for _, m := range matches {
			if m.Score < input.MinScore {
				continue // Below threshold
			}
			results = append(results, m)
		}

		if len(results) == 0 {
			return nil, SearchDocumentsOutput{
				Results: []search.Match{},
				Message: "No matching documents found. Try broader search terms.",
			}, nil
		}
		return nil, SearchDocumentsOutput{Results: results}, nil
	}
}

// makeGetDocumentHandler creates the get_document tool handler.
func makeGetDocumentHandler(searcher Searcher) func(
	context.Context, *mcp.CallToolRequest, DocumentIDInput,
) (*mcp.CallToolResult, GetDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DocumentIDInput) (
		*mcp.CallToolResult, GetDocumentOutput, error,
	) {
		detail, err := searcher.Document(ctx, input.DocumentID)
		if err != nil {
			return nil, GetDocumentOutput{}, fmt.Errorf("failed to fetch document: %w", err)
		}
		if !detail.Found {
			return nil, GetDocumentOutput{Found: false}, nil
		}

		doc := detail.Document
		return nil, GetDocumentOutput{
			Found: true,
			Document: &DocumentInfo{
				ID:           doc.ID,
				Filename:     doc.Filename,
				Fingerprint:  doc.Fingerprint,
				ContentType:  doc.ContentType,
				Size:         doc.Size,
				ProcessedAt:  doc.ProcessedAt.UTC().Format(time.RFC3339),
				BlobLocation: doc.BlobLocation,
				Metadata:     doc.Metadata,
			},
			Chunks: detail.Chunks,
		}, nil
	}
}

// makeDeleteHandler creates the delete_document tool handler.
func makeDeleteHandler(admin Admin) func(
	context.Context, *mcp.CallToolRequest, DocumentIDInput,
) (*mcp.CallToolResult, DeleteDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DocumentIDInput) (
		*mcp.CallToolResult, DeleteDocumentOutput, error,
	) {
		err := admin.DeleteDocument(ctx, input.DocumentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, DeleteDocumentOutput{
				Deleted: false,
				Message: fmt.Sprintf("document %d not found", input.DocumentID),
			}, nil
		}
		if err != nil {
			return nil, DeleteDocumentOutput{}, fmt.Errorf("failed to delete document: %w", err)
		}
		return nil, DeleteDocumentOutput{Deleted: true}, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
// An unreachable catalog is reported in the output rather than as a tool error.
func makeStatusHandler(admin Admin) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		out := StatusOutput{Dimension: admin.Dimension()}
		if err := admin.Health(ctx); err != nil {
			out.Error = err.Error()
			return nil, out, nil
		}
		out.Healthy = true

		st, err := admin.Stats(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("failed to read catalog stats: %w", err)
		}
		out.TotalDocs = st.Documents
		out.TotalChunks = st.Chunks
		return nil, out, nil
	}
}
