// Package sqlite implements the document catalog on an embedded SQLite
// database. Similarity search is an exact cosine scan over all chunks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/docindex/internal/storage"
)

const backend = "sqlite"

// Store is a storage.Catalog backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	dim  int
}

var _ storage.Catalog = (*Store)(nil)

// New opens (creating if needed) the database at path and ensures the schema
// exists. Use ":memory:" for a throwaway catalog.
func New(ctx context.Context, path string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", storage.ErrInvalidArgument, dim)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection; foreign_keys is
	// per-connection in SQLite and cascade delete depends on it.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storage.Wrap(backend, "open", err)
	}
	// A single connection serializes writers and keeps an in-memory database
	// shared across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, dim: dim}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Dimension returns the embedding dimension of this catalog.
func (s *Store) Dimension() int {
	return s.dim
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return storage.Wrap(backend, "ping", s.db.PingContext(ctx))
}

const documentColumns = `id, filename, fingerprint, content_type, size_bytes, processed_at, blob_location, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*storage.Document, error) {
	var (
		doc         storage.Document
		processedAt string
		meta        string
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.Fingerprint, &doc.ContentType,
		&doc.Size, &processedAt, &doc.BlobLocation, &meta); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, processedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing processed_at %q: %w", processedAt, err)
	}
	doc.ProcessedAt = t
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &doc, nil
}

// FindByFingerprint returns the document with the given fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*storage.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE fingerprint = ?`, fingerprint)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return doc, storage.Wrap(backend, "find by fingerprint", err)
}

// GetDocument returns the document with the given ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*storage.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return doc, storage.Wrap(backend, "get document", err)
}

// GetChunks returns a document's chunks ordered by index.
func (s *Store) GetChunks(ctx context.Context, documentID int64) ([]*storage.Chunk, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_text, chunk_index, embedding, created_at
		FROM document_chunks
		WHERE document_id = ?
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, storage.Wrap(backend, "get chunks", err)
	}
	defer rows.Close()

	var chunks []*storage.Chunk
	for rows.Next() {
		var (
			c         storage.Chunk
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.Index, &blob, &createdAt); err != nil {
			return nil, storage.Wrap(backend, "scan chunk", err)
		}
		if c.Embedding, err = storage.DecodeEmbedding(blob); err != nil {
			return nil, storage.Wrap(backend, "decode chunk", err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, storage.Wrap(backend, "decode chunk", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, storage.Wrap(backend, "get chunks", rows.Err())
}

// SearchByVector scans every chunk, scores it against query and returns the
// best limit hits.
func (s *Store) SearchByVector(ctx context.Context, query []float32, limit int) ([]*storage.ScoredChunk, error) {
	if err := storage.ValidateQuery(query, limit, s.dim); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_text, c.chunk_index, c.embedding, c.created_at
		FROM document_chunks c`)
	if err != nil {
		return nil, storage.Wrap(backend, "search", err)
	}

	var hits []*storage.ScoredChunk
	for rows.Next() {
		var (
			c         storage.Chunk
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.Index, &blob, &createdAt); err != nil {
			rows.Close()
			return nil, storage.Wrap(backend, "scan chunk", err)
		}
		vec, err := storage.DecodeEmbedding(blob)
		if err != nil {
			rows.Close()
			return nil, storage.Wrap(backend, "decode chunk", err)
		}
		score, err := storage.CosineSimilarity(query, vec)
		if err != nil {
			rows.Close()
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		hits = append(hits, &storage.ScoredChunk{Chunk: &c, Score: score})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, storage.Wrap(backend, "search", err)
	}

	storage.SortScored(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	// The single pooled connection is free again once rows is closed.
	docs := make(map[int64]*storage.Document)
	for _, h := range hits {
		doc, ok := docs[h.Chunk.DocumentID]
		if !ok {
			if doc, err = s.GetDocument(ctx, h.Chunk.DocumentID); err != nil {
				return nil, err
			}
			docs[doc.ID] = doc
		}
		h.Document = doc
	}
	return hits, nil
}

// DeleteDocument removes a document; its chunks go with it via ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap(backend, "delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Wrap(backend, "delete document", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Stats counts documents and chunks.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var st storage.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM document_chunks)`).
		Scan(&st.Documents, &st.Chunks)
	return st, storage.Wrap(backend, "stats", err)
}

// WithTx runs fn inside one SQLite transaction. The deferred rollback is a
// no-op after a successful commit.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(backend, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txn{tx: tx, dim: s.dim}); err != nil {
		return err
	}
	return storage.Wrap(backend, "commit", tx.Commit())
}

type txn struct {
	tx  *sql.Tx
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
	now := time.Now().UTC()

	var id int64
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO documents (filename, fingerprint, content_type, size_bytes, processed_at, blob_location, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id`,
		doc.Filename, doc.Fingerprint, doc.ContentType, doc.Size,
		now.Format(time.RFC3339Nano), doc.BlobLocation, string(metaJSON),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrConflict
	}
	if err != nil {
		return nil, storage.Wrap(backend, "insert document", err)
	}

	// Round-trip metadata so callers see what a later read returns.
	var stored map[string]any
	_ = json.Unmarshal(metaJSON, &stored)

	return &storage.Document{
		ID:           id,
		Filename:     doc.Filename,
		Fingerprint:  doc.Fingerprint,
		ContentType:  doc.ContentType,
		Size:         doc.Size,
		ProcessedAt:  now,
		BlobLocation: doc.BlobLocation,
		Metadata:     stored,
	}, nil
}

func (t *txn) InsertChunks(ctx context.Context, documentID int64, chunks []storage.NewChunk) error {
	if err := storage.ValidateChunks(chunks, t.dim); err != nil {
		return err
	}

	var exists int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: document %d", storage.ErrNotFound, documentID)
	}
	if err != nil {
		return storage.Wrap(backend, "insert chunks", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (document_id, chunk_text, chunk_index, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return storage.Wrap(backend, "insert chunks", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, documentID, c.Text, c.Index, storage.EncodeEmbedding(c.Embedding), now); err != nil {
			return storage.Wrap(backend, "insert chunks", err)
		}
	}
	return nil
}
