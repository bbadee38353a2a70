// Package postgres implements the document catalog on PostgreSQL with the
// pgvector extension.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bull/docindex/internal/storage"
)

const backend = "postgres"

// Postgres error codes handled explicitly.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store is a storage.Catalog backed by a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger
}

var _ storage.Catalog = (*Store)(nil)

// New connects to dsn, waits for the server to answer and returns the store.
// It does not create the schema; call EnsureSchema for that.
func New(ctx context.Context, dsn string, dim int, logger *slog.Logger) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", storage.ErrInvalidArgument, dim)
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, storage.Wrap(backend, "connect", err)
	}

	s := &Store{pool: pool, dim: dim, logger: logger}
	if err := s.waitReady(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// waitReady pings the server with exponential backoff so a database that is
// still starting does not fail the caller.
func (s *Store) waitReady(ctx context.Context) error {
	operation := func() error {
		return s.pool.Ping(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrUnreachable, storage.Wrap(backend, "ping", err))
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Dimension returns the embedding dimension of this catalog.
func (s *Store) Dimension() int {
	return s.dim
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrUnreachable, storage.Wrap(backend, "ping", err))
	}
	return nil
}

const documentColumns = `id, filename, fingerprint, content_type, size_bytes, processed_at, blob_location, metadata`

func scanDocument(row pgx.Row) (*storage.Document, error) {
	var (
		doc  storage.Document
		meta []byte
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.Fingerprint, &doc.ContentType,
		&doc.Size, &doc.ProcessedAt, &doc.BlobLocation, &meta); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &doc, nil
}

// FindByFingerprint returns the document with the given fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*storage.Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE fingerprint = $1`, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return doc, storage.Wrap(backend, "find by fingerprint", err)
}

// GetDocument returns the document with the given ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*storage.Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return doc, storage.Wrap(backend, "get document", err)
}

// GetChunks returns a document's chunks ordered by index.
func (s *Store) GetChunks(ctx context.Context, documentID int64) ([]*storage.Chunk, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_text, chunk_index, embedding, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, storage.Wrap(backend, "get chunks", err)
	}
	defer rows.Close()

	var chunks []*storage.Chunk
	for rows.Next() {
		var (
			c   storage.Chunk
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.Index, &vec, &c.CreatedAt); err != nil {
			return nil, storage.Wrap(backend, "scan chunk", err)
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, &c)
	}
	return chunks, storage.Wrap(backend, "get chunks", rows.Err())
}

// SearchByVector ranks chunks by cosine similarity to query. Equal distances
// are ordered by chunk ID so results are reproducible.
func (s *Store) SearchByVector(ctx context.Context, query []float32, limit int) ([]*storage.ScoredChunk, error) {
	if err := storage.ValidateQuery(query, limit, s.dim); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.chunk_text, c.chunk_index, c.embedding, c.created_at,
			1 - (c.embedding <=> $1) AS score,
			d.id, d.filename, d.fingerprint, d.content_type, d.size_bytes,
			d.processed_at, d.blob_location, d.metadata
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		ORDER BY c.embedding <=> $1, c.id
		LIMIT $2`, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, storage.Wrap(backend, "search", err)
	}
	defer rows.Close()

	docs := make(map[int64]*storage.Document)
	var hits []*storage.ScoredChunk
	for rows.Next() {
		var (
			c     storage.Chunk
			vec   pgvector.Vector
			score float64
			doc   storage.Document
			meta  []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.Index, &vec, &c.CreatedAt, &score,
			&doc.ID, &doc.Filename, &doc.Fingerprint, &doc.ContentType, &doc.Size,
			&doc.ProcessedAt, &doc.BlobLocation, &meta); err != nil {
			return nil, storage.Wrap(backend, "scan hit", err)
		}
		c.Embedding = vec.Slice()

		shared, ok := docs[doc.ID]
		if !ok {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, storage.Wrap(backend, "decode metadata", err)
			}
			shared = &doc
			docs[doc.ID] = shared
		}
		hits = append(hits, &storage.ScoredChunk{Chunk: &c, Document: shared, Score: score})
	}
	return hits, storage.Wrap(backend, "search", rows.Err())
}

// DeleteDocument removes a document; its chunks go with it via ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return storage.Wrap(backend, "delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Stats counts documents and chunks.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var st storage.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM document_chunks)`).
		Scan(&st.Documents, &st.Chunks)
	return st, storage.Wrap(backend, "stats", err)
}

// WithTx runs fn inside one database transaction. The deferred rollback is a
// no-op after a successful commit.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Wrap(backend, "begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&txn{tx: tx, dim: s.dim}); err != nil {
		return err
	}
	return storage.Wrap(backend, "commit", tx.Commit(ctx))
}

type txn struct {
	tx  pgx.Tx
	dim int
}

func (t *txn) InsertDocument(ctx context.Context, doc storage.NewDocument) (*storage.Document, error) {
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", storage.ErrInvalidArgument, err)
	}

	out := &storage.Document{
		Filename:     doc.Filename,
		Fingerprint:  doc.Fingerprint,
		ContentType:  doc.ContentType,
		Size:         doc.Size,
		BlobLocation: doc.BlobLocation,
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO documents (filename, fingerprint, content_type, size_bytes, blob_location, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id, processed_at`,
		doc.Filename, doc.Fingerprint, doc.ContentType, doc.Size, doc.BlobLocation, string(metaJSON),
	).Scan(&out.ID, &out.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) || isCode(err, codeUniqueViolation) {
		return nil, storage.ErrConflict
	}
	if err != nil {
		return nil, storage.Wrap(backend, "insert document", err)
	}

	_ = json.Unmarshal(metaJSON, &out.Metadata)
	return out, nil
}

func (t *txn) InsertChunks(ctx context.Context, documentID int64, chunks []storage.NewChunk) error {
	if err := storage.ValidateChunks(chunks, t.dim); err != nil {
		return err
	}

	var exists int
	err := t.tx.QueryRow(ctx, `SELECT 1 FROM documents WHERE id = $1`, documentID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: document %d", storage.ErrNotFound, documentID)
	}
	if err != nil {
		return storage.Wrap(backend, "insert chunks", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (document_id, chunk_text, chunk_index, embedding)
			VALUES ($1, $2, $3, $4)`,
			documentID, c.Text, c.Index, pgvector.NewVector(c.Embedding))
	}

	br := t.tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isCode(err, codeForeignKeyViolation) {
				return fmt.Errorf("%w: document %d", storage.ErrNotFound, documentID)
			}
			return storage.Wrap(backend, "insert chunks", err)
		}
	}
	return storage.Wrap(backend, "insert chunks", br.Close())
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
