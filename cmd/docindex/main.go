// Package main provides the docindex CLI: provision backends, ingest
// documents and query the index.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docindex/internal/app"
	"github.com/bull/docindex/internal/config"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "docindex",
	Short: "Document ingestion and semantic search",
	Long: `docindex stores documents, splits their text into overlapping chunks,
embeds the chunks and answers similarity queries over them.

Configuration is read from --config (YAML) and then the environment:
  DOCINDEX_CATALOG   sqlite, postgres or qdrant (default: sqlite)
                     (qdrant: concurrent ingests of identical bytes may both
                     report success; they share one document point)
  DATABASE_URL       Postgres connection string
  QDRANT_HOST        Qdrant hostname (default: localhost)
  DOCINDEX_BLOB      fs or minio (default: fs)
  OPENAI_API_KEY     OpenAI API key for embeddings
  GITHUB_TOKEN       GitHub token for higher rate limits (optional)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DOCINDEX_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(initCmd, ingestCmd, ingestGitHubCmd, searchCmd, showCmd, deleteCmd, statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openApp loads configuration and connects to the configured backends.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cmd.ErrOrStderr(), cfg.Log)
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
