package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/bull/docindex/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE,
    content_type TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    processed_at TEXT NOT NULL,
    blob_location TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS document_chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_text TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    embedding BLOB NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks(document_id);

CREATE TABLE IF NOT EXISTS catalog_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// EnsureSchema creates the catalog tables if they do not exist and pins the
// embedding dimension on first use. Opening an existing catalog with a
// different dimension fails with storage.ErrDimensionMismatch.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storage.Wrap(backend, "create schema", err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM catalog_meta WHERE key = 'embedding_dimension'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO catalog_meta(key, value) VALUES('embedding_dimension', ?)`, strconv.Itoa(s.dim))
		return storage.Wrap(backend, "pin dimension", err)
	case err != nil:
		return storage.Wrap(backend, "read dimension", err)
	}

	if stored != strconv.Itoa(s.dim) {
		return fmt.Errorf("%w: catalog was created with %s dimensions, configured %d",
			storage.ErrDimensionMismatch, stored, s.dim)
	}
	return nil
}
