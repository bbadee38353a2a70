// Package qdrant implements the document catalog on a Qdrant collection.
//
// Documents and chunks share one collection. A document is a point without
// vectors (payload type "parent"); a chunk is a point with a named cosine
// vector "content" (payload type "chunk") that references its document
// through parent_doc_id. Qdrant has no multi-point transactions, so WithTx
// buffers writes and commits chunks before the document point: readers
// ignore chunks whose document point does not exist yet.
package qdrant

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/docindex/internal/storage"
)

const (
	backend = "qdrant"

	// DefaultCollection is the collection used when none is configured.
	DefaultCollection = "documents"

	vectorName = "content"
	typeParent = "parent"
	typeChunk  = "chunk"

	upsertBatchSize = 100
	// searchOverfetch is how many extra candidates a search asks for so that
	// dropping orphaned chunks and re-ordering ties still fills the page.
	searchOverfetch = 16
)

// Config holds connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Store is a storage.Catalog backed by Qdrant.
type Store struct {
	client     *qdrant.Client
	collection string
	dim        int
	logger     *slog.Logger
}

var _ storage.Catalog = (*Store)(nil)

// New creates a Qdrant client and validates connectivity.
// It performs a health check with retry and fails fast if Qdrant is unreachable.
func New(ctx context.Context, cfg Config, dim int, logger *slog.Logger) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", storage.ErrInvalidArgument, dim)
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, storage.Wrap(backend, "connect", err)
	}

	s := &Store{client: client, collection: cfg.Collection, dim: dim, logger: logger}
	if err := retry(ctx, func() error { return s.ping(ctx) }); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrUnreachable, storage.Wrap(backend, "health", err))
	}
	return s, nil
}

// retry runs operation with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (s *Store) ping(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Health performs a single health check against Qdrant.
func (s *Store) Health(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrUnreachable, storage.Wrap(backend, "health", err))
	}
	return nil
}

// Close closes the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Dimension returns the embedding dimension of this catalog.
func (s *Store) Dimension() int {
	return s.dim
}

// Collection returns the collection name.
func (s *Store) Collection() string {
	return s.collection
}

// EnsureCollection creates the collection and its payload indexes if they
// do not exist. An existing collection must have the configured dimension.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return storage.Wrap(backend, "collection exists", err)
	}
	if exists {
		return s.checkDimension(ctx)
	}

	// Named vectors allow parent documents (no vector) and chunks (with
	// "content" vector) in the same collection.
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return storage.Wrap(backend, "create collection", err)
	}

	indexes := []struct {
		field string
		typ   qdrant.FieldType
	}{
		{"type", qdrant.FieldType_FieldTypeKeyword},
		{"fingerprint", qdrant.FieldType_FieldTypeKeyword},
		{"parent_doc_id", qdrant.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return storage.Wrap(backend, "create index "+idx.field, err)
		}
	}
	s.logger.Info("created collection", "collection", s.collection, "dimension", s.dim)
	return nil
}

func (s *Store) checkDimension(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return storage.Wrap(backend, "collection info", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[vectorName]
	if params == nil {
		return fmt.Errorf("%w: collection %s has no %q vector", storage.ErrDimensionMismatch, s.collection, vectorName)
	}
	if int(params.GetSize()) != s.dim {
		return fmt.Errorf("%w: collection %s has %d dimensions, configured %d",
			storage.ErrDimensionMismatch, s.collection, params.GetSize(), s.dim)
	}
	return nil
}

// DropCollection deletes the collection and every point in it.
func (s *Store) DropCollection(ctx context.Context) error {
	return storage.Wrap(backend, "delete collection", s.client.DeleteCollection(ctx, s.collection))
}

// documentID derives a stable positive ID from a fingerprint, so the same
// content always maps to the same point.
func documentID(fingerprint string) int64 {
	return hashID("document:" + fingerprint)
}

func chunkID(documentID int64, index int) int64 {
	return hashID(fmt.Sprintf("chunk:%d:%d", documentID, index))
}

func hashID(key string) int64 {
	sum := sha256.Sum256([]byte(key))
	id := int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
	if id == 0 {
		id = 1
	}
	return id
}

func (s *Store) getPoint(ctx context.Context, id int64, withVectors bool) (*qdrant.RetrievedPoint, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVectors),
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return points[0], nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*storage.Document, error) {
	if id <= 0 {
		return nil, storage.ErrNotFound
	}
	point, err := s.getPoint(ctx, id, false)
	if err != nil {
		return nil, storage.Wrap(backend, "get document", err)
	}
	if point == nil || point.Payload["type"].GetStringValue() != typeParent {
		return nil, storage.ErrNotFound
	}
	return decodeDocument(id, point.Payload)
}

// FindByFingerprint returns the document with the given fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*storage.Document, error) {
	doc, err := s.GetDocument(ctx, documentID(fingerprint))
	if err != nil {
		return nil, err
	}
	if doc.Fingerprint != fingerprint {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

func documentPayload(doc *storage.Document) (map[string]any, error) {
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", storage.ErrInvalidArgument, err)
	}
	return map[string]any{
		"type":          typeParent,
		"filename":      doc.Filename,
		"fingerprint":   doc.Fingerprint,
		"content_type":  doc.ContentType,
		"size_bytes":    doc.Size,
		"processed_at":  doc.ProcessedAt.Format(time.RFC3339Nano),
		"blob_location": doc.BlobLocation,
		"metadata_json": string(metaJSON),
	}, nil
}

func decodeDocument(id int64, payload map[string]*qdrant.Value) (*storage.Document, error) {
	doc := &storage.Document{
		ID:           id,
		Filename:     payload["filename"].GetStringValue(),
		Fingerprint:  payload["fingerprint"].GetStringValue(),
		ContentType:  payload["content_type"].GetStringValue(),
		Size:         payload["size_bytes"].GetIntegerValue(),
		BlobLocation: payload["blob_location"].GetStringValue(),
	}
	processedAt, err := time.Parse(time.RFC3339Nano, payload["processed_at"].GetStringValue())
	if err != nil {
		processedAt = time.Time{} // Use zero time if parse fails
	}
	doc.ProcessedAt = processedAt
	if raw := payload["metadata_json"].GetStringValue(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Metadata); err != nil {
			return nil, storage.Wrap(backend, "decode metadata", err)
		}
	}
	return doc, nil
}

func decodeChunk(id int64, payload map[string]*qdrant.Value) *storage.Chunk {
	c := &storage.Chunk{
		ID:         id,
		DocumentID: payload["parent_doc_id"].GetIntegerValue(),
		Text:       payload["text"].GetStringValue(),
		Index:      int(payload["chunk_index"].GetIntegerValue()),
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	return c
}

func vectorData(v *qdrant.VectorOutput) []float32 {
	if d := v.GetDense(); d != nil {
		return d.GetData()
	}
	return v.GetData()
}

func chunkFilter(documentID int64) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("type", typeChunk),
			qdrant.NewMatchInt("parent_doc_id", documentID),
		},
	}
}

// GetChunks returns a document's chunks ordered by index.
func (s *Store) GetChunks(ctx context.Context, documentID int64) ([]*storage.Chunk, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	var (
		chunks []*storage.Chunk
		offset *qdrant.PointId
	)
	pageSize := uint32(upsertBatchSize)
	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         chunkFilter(documentID),
			Limit:          qdrant.PtrOf(pageSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, storage.Wrap(backend, "get chunks", err)
		}

		for _, p := range results {
			c := decodeChunk(int64(p.Id.GetNum()), p.Payload)
			if v, ok := p.GetVectors().GetVectors().GetVectors()[vectorName]; ok {
				c.Embedding = vectorData(v)
			}
			chunks = append(chunks, c)
		}

		// Stop if we got fewer results than page size (no more pages)
		if uint32(len(results)) < pageSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	sortByIndex(chunks)
	return chunks, nil
}

// SearchByVector performs vector similarity search on chunks. Chunks whose
// document point is missing are skipped; equal scores are ordered by chunk ID.
func (s *Store) SearchByVector(ctx context.Context, query []float32, limit int) ([]*storage.ScoredChunk, error) {
	if err := storage.ValidateQuery(query, limit, s.dim); err != nil {
		return nil, err
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Using:          &using,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("type", typeChunk)},
		},
		Limit:       qdrant.PtrOf(uint64(limit + searchOverfetch)),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, storage.Wrap(backend, "search", err)
	}

	docs := make(map[int64]*storage.Document)
	hits := make([]*storage.ScoredChunk, 0, len(results))
	for _, r := range results {
		c := decodeChunk(int64(r.Id.GetNum()), r.Payload)
		doc, seen := docs[c.DocumentID]
		if !seen {
			doc, err = s.GetDocument(ctx, c.DocumentID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			docs[c.DocumentID] = doc
		}
		if doc == nil {
			continue
		}
		hits = append(hits, &storage.ScoredChunk{
			Chunk:    c,
			Document: doc,
			Score:    float64(r.Score), // Qdrant returns float32, convert to float64
		})
	}

	storage.SortScored(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteDocument removes the document point first, which hides its chunks
// from readers, then deletes the chunks.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	if _, err := s.GetDocument(ctx, id); err != nil {
		return err
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(uint64(id))),
	})
	if err != nil {
		return storage.Wrap(backend, "delete document", err)
	}
	return s.deleteChunks(ctx, id)
}

func (s *Store) deleteChunks(ctx context.Context, documentID int64) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(chunkFilter(documentID)),
	})
	return storage.Wrap(backend, "delete chunks", err)
}

// Stats counts document and chunk points.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	count := func(typ string) (int64, error) {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("type", typ)},
			},
			Exact: qdrant.PtrOf(true),
		})
		return int64(n), err
	}

	var st storage.Stats
	var err error
	if st.Documents, err = count(typeParent); err != nil {
		return st, storage.Wrap(backend, "stats", err)
	}
	if st.Chunks, err = count(typeChunk); err != nil {
		return st, storage.Wrap(backend, "stats", err)
	}
	return st, nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *Store) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	return retry(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}
