package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/docindex/internal/storage"
)

// WithTx buffers the writes fn makes and applies them when fn returns nil.
// Nothing reaches Qdrant if fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	t := &txn{store: s, chunks: make(map[int64][]storage.NewChunk)}
	if err := fn(t); err != nil {
		return err
	}
	return t.commit(ctx)
}

type txn struct {
	store  *Store
	doc    *storage.Document
	chunks map[int64][]storage.NewChunk
	order  []int64
}

func (t *txn) InsertDocument(ctx context.Context, nd storage.NewDocument) (*storage.Document, error) {
	id := documentID(nd.Fingerprint)
	if t.doc != nil {
		if t.doc.ID == id {
			return nil, storage.ErrConflict
		}
		return nil, fmt.Errorf("%w: one document per transaction", storage.ErrInvalidArgument)
	}
	if _, err := t.store.GetDocument(ctx, id); err == nil {
		return nil, storage.ErrConflict
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	meta := make(map[string]any, len(nd.Metadata))
	for k, v := range nd.Metadata {
		meta[k] = v
	}
	t.doc = &storage.Document{
		ID:           id,
		Filename:     nd.Filename,
		Fingerprint:  nd.Fingerprint,
		ContentType:  nd.ContentType,
		Size:         nd.Size,
		ProcessedAt:  time.Now().UTC(),
		BlobLocation: nd.BlobLocation,
		Metadata:     meta,
	}
	// Validate metadata now rather than at commit.
	if _, err := documentPayload(t.doc); err != nil {
		t.doc = nil
		return nil, err
	}
	out := *t.doc
	return &out, nil
}

func (t *txn) InsertChunks(ctx context.Context, documentID int64, chunks []storage.NewChunk) error {
	if err := storage.ValidateChunks(chunks, t.store.dim); err != nil {
		return err
	}
	if t.doc == nil || t.doc.ID != documentID {
		if _, err := t.store.GetDocument(ctx, documentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: document %d", storage.ErrNotFound, documentID)
			}
			return err
		}
	}
	if _, seen := t.chunks[documentID]; !seen {
		t.order = append(t.order, documentID)
	}
	t.chunks[documentID] = append(t.chunks[documentID], chunks...)
	return nil
}

func (t *txn) commit(ctx context.Context) error {
	s := t.store
	if t.doc != nil {
		// Another writer may have committed the same content meanwhile.
		if _, err := s.GetDocument(ctx, t.doc.ID); err == nil {
			return storage.ErrConflict
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, docID := range t.order {
		if err := s.upsertChunks(ctx, docID, t.chunks[docID], now); err != nil {
			if t.doc != nil && docID == t.doc.ID {
				_ = s.deleteChunks(context.WithoutCancel(ctx), docID)
			}
			return err
		}
	}

	if t.doc == nil {
		return nil
	}
	payload, err := documentPayload(t.doc)
	if err != nil {
		return err
	}
	// Parent documents don't have vectors - use empty vector map
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(uint64(t.doc.ID)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
		Payload: qdrant.NewValueMap(payload),
	}
	if err := s.upsertWithRetry(ctx, []*qdrant.PointStruct{point}); err != nil {
		_ = s.deleteChunks(context.WithoutCancel(ctx), t.doc.ID)
		return storage.Wrap(backend, "upsert document", err)
	}
	return nil
}

// upsertChunks stores chunks in batches of upsertBatchSize.
func (s *Store) upsertChunks(ctx context.Context, documentID int64, chunks []storage.NewChunk, createdAt string) error {
	for i := 0; i < len(chunks); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(chunks))

		batch := chunks[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, c := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDNum(uint64(chunkID(documentID, c.Index))),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(c.Embedding...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"type":          typeChunk,
					"parent_doc_id": documentID,
					"chunk_index":   c.Index,
					"text":          c.Text,
					"created_at":    createdAt,
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return storage.Wrap(backend, fmt.Sprintf("upsert chunks %d-%d", i, end), err)
		}
	}
	return nil
}

func sortByIndex(chunks []*storage.Chunk) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
}
