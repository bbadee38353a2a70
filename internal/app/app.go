// Package app builds the ingestion pipeline, search engine and their
// collaborators from configuration. Both binaries start here.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bull/docindex/internal/blob"
	"github.com/bull/docindex/internal/chunking"
	"github.com/bull/docindex/internal/config"
	"github.com/bull/docindex/internal/embedding"
	"github.com/bull/docindex/internal/extract"
	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/metadata"
	"github.com/bull/docindex/internal/search"
	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/storage/postgres"
	"github.com/bull/docindex/internal/storage/qdrant"
	"github.com/bull/docindex/internal/storage/sqlite"
)

// Embedder is what the pipeline and search engine need from a provider.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// BlobStore is a provisionable blob store.
type BlobStore interface {
	indexer.BlobStore
	EnsureBucket(ctx context.Context) error
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Catalog  storage.Catalog
	Blobs    BlobStore
	Embedder Embedder
	Pipeline *indexer.Pipeline
	Search   *search.Engine
	Logger   *slog.Logger
}

// New connects to the configured backends and wires the pipeline and search
// engine. It does not provision schemas or buckets; see Provision.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := NewBlobStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	chunker, err := chunking.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	catalog, err := OpenCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var opts []indexer.Option
	if cfg.Summarizer.Enabled {
		summarizer, err := NewSummarizer(cfg, logger)
		if err != nil {
			catalog.Close()
			return nil, err
		}
		opts = append(opts, indexer.WithSummarizer(summarizer))
	}

	return &App{
		Config:   cfg,
		Catalog:  catalog,
		Blobs:    blobs,
		Embedder: embedder,
		Pipeline: indexer.NewPipeline(catalog, blobs, extract.New(), chunker, embedder, logger, opts...),
		Search:   search.NewEngine(catalog, embedder, logger),
		Logger:   logger,
	}, nil
}

// Close releases backend connections.
func (a *App) Close() error {
	return a.Catalog.Close()
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type collectionEnsurer interface {
	EnsureCollection(ctx context.Context) error
}

// Provision creates the catalog schema (or collection) and the blob bucket.
// It is idempotent.
func (a *App) Provision(ctx context.Context) error {
	switch c := a.Catalog.(type) {
	case schemaEnsurer:
		if err := c.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	case collectionEnsurer:
		if err := c.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}
	}
	if err := a.Blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	return nil
}

// OpenCatalog connects to the configured catalog backend.
func OpenCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Catalog, error) {
	dim := cfg.Embedding.Dimension
	switch cfg.Catalog.Backend {
	case config.CatalogSQLite:
		return sqlite.New(ctx, cfg.SQLite.Path, dim)
	case config.CatalogPostgres:
		return postgres.New(ctx, cfg.Postgres.DSN, dim, logger.With("component", "postgres"))
	case config.CatalogQdrant:
		return qdrant.New(ctx, qdrant.Config{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
		}, dim, logger.With("component", "qdrant"))
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.Catalog.Backend)
	}
}

// NewBlobStore builds the configured blob store.
func NewBlobStore(cfg *config.Config, logger *slog.Logger) (BlobStore, error) {
	switch cfg.Blob.Backend {
	case config.BlobFS:
		return blob.NewFSStore(cfg.Blob.Dir), nil
	case config.BlobMinIO:
		return blob.NewMinIOStore(blob.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Region:    cfg.MinIO.Region,
		}, logger.With("component", "minio"))
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

// NewEmbedder builds the configured embedding provider.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.EmbeddingHash:
		return embedding.NewHashEmbedder(cfg.Embedding.Dimension), nil
	case config.EmbeddingOpenAI:
		client, err := embedding.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL)
		if err != nil {
			return nil, err
		}
		return embedding.NewEmbedder(client, embedding.Options{
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			BatchSize: cfg.Embedding.BatchSize,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// NewSummarizer builds the chat-model metadata generator.
func NewSummarizer(cfg *config.Config, logger *slog.Logger) (*metadata.Generator, error) {
	client, err := embedding.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("summarizer: %w", err)
	}
	return metadata.NewGenerator(client.OpenAI(), cfg.Summarizer.Model, cfg.Summarizer.MaxTokens, logger), nil
}

// NewLogger builds a slog logger writing to w.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
