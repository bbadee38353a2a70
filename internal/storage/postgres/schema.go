package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bull/docindex/internal/storage"
)

func schemaStatements(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			filename VARCHAR(255) NOT NULL,
			fingerprint VARCHAR(64) NOT NULL UNIQUE,
			content_type VARCHAR(100) NOT NULL DEFAULT '',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			blob_location VARCHAR(500) NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_text TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (document_id, chunk_index)
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
			ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS catalog_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
}

// EnsureSchema installs the pgvector extension and creates the catalog
// tables and indexes if they do not exist. The embedding dimension is pinned
// on first use; a later mismatch fails with storage.ErrDimensionMismatch.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dim) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return storage.Wrap(backend, "create schema", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO catalog_meta(key, value) VALUES('embedding_dimension', $1)
		ON CONFLICT (key) DO NOTHING`, strconv.Itoa(s.dim))
	if err != nil {
		return storage.Wrap(backend, "pin dimension", err)
	}

	var stored string
	err = s.pool.QueryRow(ctx,
		`SELECT value FROM catalog_meta WHERE key = 'embedding_dimension'`).Scan(&stored)
	if err != nil {
		return storage.Wrap(backend, "read dimension", err)
	}
	if stored != strconv.Itoa(s.dim) {
		return fmt.Errorf("%w: catalog was created with %s dimensions, configured %d",
			storage.ErrDimensionMismatch, stored, s.dim)
	}
	s.logger.Info("schema ready", "dimension", s.dim)
	return nil
}
