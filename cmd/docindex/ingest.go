package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	ghclient "github.com/bull/docindex/internal/github"
	"github.com/bull/docindex/internal/indexer"
)

var (
	ingestConcurrency int
	ingestExtensions  []string
	githubRef         string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest PATH...",
	Short: "Ingest files or directories",
	Long: `Ingests each file named on the command line. Directories are walked
recursively and files with a supported extension are ingested.
Documents whose bytes are already indexed are reported as already_exists.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var ingestGitHubCmd = &cobra.Command{
	Use:   "ingest-github OWNER/REPO[/PATH]",
	Short: "Ingest documents from a GitHub repository directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestGitHub,
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, ingestGitHubCmd} {
		c.Flags().IntVar(&ingestConcurrency, "concurrency", 0, "documents ingested in parallel (default from config)")
		c.Flags().StringSliceVar(&ingestExtensions, "ext", ghclient.DefaultExtensions, "file extensions to ingest from directories")
	}
	ingestGitHubCmd.Flags().StringVar(&githubRef, "ref", "", "branch, tag or commit (default branch when empty)")
}

// collectSources reads the named files and every matching file below the
// named directories.
func collectSources(paths, extensions []string) ([]indexer.Source, error) {
	var sources []indexer.Source
	add := func(p string) error {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sources = append(sources, indexer.Source{
			Filename: filepath.Base(p),
			Data:     data,
			Metadata: map[string]any{"source": "file", "path": p},
		})
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if err := add(root); err != nil {
				return nil, err
			}
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !slices.Contains(extensions, strings.ToLower(filepath.Ext(p))) {
				return nil
			}
			return add(p)
		})
		if err != nil {
			return nil, err
		}
	}
	return sources, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	sources, err := collectSources(args, ingestExtensions)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no documents found")
	}
	return ingestSources(cmd, sources)
}

func runIngestGitHub(cmd *cobra.Command, args []string) error {
	repo, err := ghclient.ParseRepo(args[0])
	if err != nil {
		return err
	}
	repo.Ref = githubRef

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := ghclient.NewClient(a.Config.GitHub.Token)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}
	fetcher := ghclient.NewFetcher(client, repo, ingestExtensions)

	fmt.Fprintf(cmd.ErrOrStderr(), "Fetching documents from %s...\n", repo)
	sources, failed, err := fetcher.Sources(cmd.Context())
	if err != nil {
		return err
	}
	for p, ferr := range failed {
		a.Logger.Warn("Failed to fetch document", "path", p, "error", ferr)
	}

	result := a.Pipeline.ProcessAll(cmd.Context(), sources, concurrency(a.Config.Ingest.Concurrency))
	return report(cmd.OutOrStdout(), result, len(failed))
}

func ingestSources(cmd *cobra.Command, sources []indexer.Source) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.Pipeline.ProcessAll(cmd.Context(), sources, concurrency(a.Config.Ingest.Concurrency))
	return report(cmd.OutOrStdout(), result, 0)
}

func concurrency(fromConfig int) int {
	if ingestConcurrency > 0 {
		return ingestConcurrency
	}
	return fromConfig
}

// report prints the batch outcome and returns an error if anything failed.
func report(w io.Writer, result *indexer.IndexResult, fetchFailures int) error {
	if jsonOutput {
		if err := printJSON(w, result.Results); err != nil {
			return err
		}
	} else {
		for _, r := range result.Results {
			switch r.Status {
			case indexer.StatusError:
				fmt.Fprintf(w, "  %-15s %s: %s\n", r.Status, r.Filename, r.Message)
			default:
				fmt.Fprintf(w, "  %-15s %s (id %d, %d chunks)\n", r.Status, r.Filename, r.DocumentID, r.ChunkCount)
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Documents: %d new, %d existing, %d failed of %d\n",
			result.SuccessfulDocs, result.ExistingDocs, len(result.FailedDocs), result.TotalDocs)
		fmt.Fprintf(w, "Chunks: %d\n", result.TotalChunks)
		fmt.Fprintf(w, "Duration: %s\n", result.Duration.Round(time.Millisecond))
	}

	if n := len(result.FailedDocs) + fetchFailures; n > 0 {
		return fmt.Errorf("%d documents failed", n)
	}
	return nil
}
