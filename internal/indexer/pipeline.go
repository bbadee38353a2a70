// Package indexer turns raw document bytes into catalog rows: fingerprint,
// dedup, blob upload, extraction, chunking, embedding and one catalog
// transaction per document.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docindex/internal/blob"
	"github.com/bull/docindex/internal/chunking"
	"github.com/bull/docindex/internal/extract"
	"github.com/bull/docindex/internal/fingerprint"
	"github.com/bull/docindex/internal/metadata"
	"github.com/bull/docindex/internal/storage"
)

// Status is the outcome of ingesting one document.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusAlreadyExists Status = "already_exists"
	StatusError         Status = "error"
)

// Extractor turns document bytes into text-bearing elements.
type Extractor interface {
	Extract(ctx context.Context, contentType string, data []byte) ([]extract.Element, error)
}

// Embedder maps texts to vectors, one per text, in order.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// BlobStore keeps raw document bytes and returns where they were put.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Summarizer produces optional descriptive metadata for a document.
type Summarizer interface {
	GenerateMetadata(ctx context.Context, filename, content string) (*metadata.DocumentMetadata, error)
}

// reservedMetadataKeys are derived by the pipeline and never taken from
// Source.Metadata.
var reservedMetadataKeys = []string{"chunk_count", "element_count", "title", "empty_text", "summary", "keywords"}

// Result describes what Process did with one document.
type Result struct {
	Status       Status `json:"status"`
	DocumentID   int64  `json:"document_id,omitempty"`
	Filename     string `json:"filename"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	ChunkCount   int    `json:"chunks_processed"`
	BlobLocation string `json:"blob_location,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Pipeline orchestrates ingestion of single documents.
type Pipeline struct {
	catalog    storage.Catalog
	blobs      BlobStore
	extractor  Extractor
	chunker    *chunking.Chunker
	embedder   Embedder
	summarizer Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSummarizer adds LLM-generated summary and keywords to document metadata.
func WithSummarizer(s Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

// WithClock overrides the time source used for blob paths.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a new ingestion pipeline with the given components.
func NewPipeline(
	catalog storage.Catalog,
	blobs BlobStore,
	extractor Extractor,
	chunker *chunking.Chunker,
	embedder Embedder,
	logger *slog.Logger,
	opts ...Option,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		catalog:   catalog,
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests one document. Expected outcomes (success, already_exists)
// return a nil error. Failures return a Result with StatusError together
// with a *StepError naming the step that failed.
func (p *Pipeline) Process(ctx context.Context, filename string, data []byte) (*Result, error) {
	return p.process(ctx, Source{Filename: filename, Data: data})
}

func (p *Pipeline) process(ctx context.Context, src Source) (*Result, error) {
	logger := p.logger.With("ingest_id", uuid.NewString(), "filename", src.Filename)
	result := &Result{Filename: src.Filename}

	fail := func(step Step, err error) (*Result, error) {
		stepErr := &StepError{Step: step, Err: err}
		result.Status = StatusError
		result.Message = stepErr.Error()
		logger.Warn("Ingestion failed", "step", step, "error", err)
		return result, stepErr
	}

	if err := ctx.Err(); err != nil {
		return fail(StepFingerprint, err)
	}
	fp := fingerprint.Of(src.Data)
	result.Fingerprint = fp

	existing, err := p.catalog.FindByFingerprint(ctx, fp)
	switch {
	case err == nil:
		logger.Info("Document already indexed", "document_id", existing.ID)
		return alreadyExists(result, existing), nil
	case !errors.Is(err, storage.ErrNotFound):
		return fail(StepLookup, err)
	}

	contentType := src.ContentType
	if contentType == "" {
		contentType = extract.DetectContentType(src.Filename, src.Data)
	}
	result.ContentType = contentType

	key := blob.ObjectPath(p.now(), fp, src.Filename)
	location, err := p.blobs.Put(ctx, key, src.Data, contentType)
	if err != nil {
		return fail(StepUpload, err)
	}
	result.BlobLocation = location
	logger.Debug("Uploaded document", "location", location, "size", len(src.Data))

	elements, err := p.extractor.Extract(ctx, contentType, src.Data)
	if err != nil {
		if !errors.Is(err, extract.ErrExtraction) {
			err = fmt.Errorf("%w: %w", extract.ErrExtraction, err)
		}
		return fail(StepExtract, err)
	}
	text := chunking.Join(extract.Texts(elements))

	chunks := p.chunker.Split(text)
	logger.Debug("Chunked document", "elements", len(elements), "chunks", len(chunks))

	// Caller metadata goes in first; the keys the pipeline derives win.
	meta := make(map[string]any, len(src.Metadata)+4)
	for k, v := range src.Metadata {
		meta[k] = v
	}
	for _, k := range reservedMetadataKeys {
		delete(meta, k)
	}
	meta["chunk_count"] = len(chunks)
	meta["element_count"] = len(elements)
	if title := extract.Title(elements); title != "" {
		meta["title"] = title
	}
	if len(chunks) == 0 {
		meta["empty_text"] = true
	}

	if p.summarizer != nil && text != "" {
		generated, err := p.summarizer.GenerateMetadata(ctx, src.Filename, text)
		if err != nil {
			// Summaries are optional; the document is still indexed.
			logger.Warn("Metadata generation failed, continuing without", "error", err)
		} else {
			meta["summary"] = generated.Summary
			meta["keywords"] = generated.Keywords
		}
	}

	var embeddings [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		embeddings, err = p.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return fail(StepEmbed, err)
		}
		if len(embeddings) != len(chunks) {
			return fail(StepEmbed, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks)))
		}
	}

	newChunks := make([]storage.NewChunk, len(chunks))
	for i, c := range chunks {
		newChunks[i] = storage.NewChunk{Text: c.Text, Index: c.Index, Embedding: embeddings[i]}
	}

	var doc *storage.Document
	err = p.catalog.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		doc, err = tx.InsertDocument(ctx, storage.NewDocument{
			Filename:     src.Filename,
			Fingerprint:  fp,
			ContentType:  contentType,
			Size:         int64(len(src.Data)),
			BlobLocation: location,
			Metadata:     meta,
		})
		if err != nil {
			return err
		}
		return tx.InsertChunks(ctx, doc.ID, newChunks)
	})
	if errors.Is(err, storage.ErrConflict) {
		// A concurrent ingestion of the same bytes won the insert.
		winner, lookupErr := p.catalog.FindByFingerprint(ctx, fp)
		if lookupErr != nil {
			return fail(StepLookup, lookupErr)
		}
		logger.Info("Document indexed concurrently", "document_id", winner.ID)
		return alreadyExists(result, winner), nil
	}
	if err != nil {
		return fail(StepStore, err)
	}

	result.Status = StatusSuccess
	result.DocumentID = doc.ID
	result.ChunkCount = len(chunks)
	logger.Info("Indexed document", "document_id", doc.ID, "chunks", len(chunks))
	return result, nil
}

func alreadyExists(result *Result, doc *storage.Document) *Result {
	result.Status = StatusAlreadyExists
	result.DocumentID = doc.ID
	result.ContentType = doc.ContentType
	result.BlobLocation = doc.BlobLocation
	switch n := doc.Metadata["chunk_count"].(type) {
	case float64:
		result.ChunkCount = int(n)
	case int:
		result.ChunkCount = n
	}
	result.Message = fmt.Sprintf("document already indexed as %d", doc.ID)
	return result
}
