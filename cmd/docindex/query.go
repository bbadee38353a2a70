package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/docindex/internal/search"
	"github.com/bull/docindex/internal/storage"
)

var (
	searchLimit int
	showChunks  bool
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Find the chunks most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		matches, err := a.Search.Search(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, matches)
		}
		if len(matches) == 0 {
			fmt.Fprintln(w, "No matching documents found.")
			return nil
		}
		for i, m := range matches {
			fmt.Fprintf(w, "%d. %s (document %d, chunk %d) score %.4f\n", i+1, m.Filename, m.DocumentID, m.ChunkIndex, m.Score)
			fmt.Fprintf(w, "   %s\n\n", preview(m.ChunkText, 200))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show DOCUMENT_ID",
	Short: "Show a document's metadata and chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		detail, err := a.Search.Document(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !detail.Found {
			return fmt.Errorf("document %d not found", id)
		}

		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, detail)
		}
		printDocument(cmd, detail)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete DOCUMENT_ID",
	Short: "Delete a document and its chunks",
	Long:  "Deletes a document and its chunks from the catalog. The stored blob is kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.Catalog.DeleteDocument(cmd.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("document %d not found", id)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %d\n", id)
		return nil
	},
}

type statusReport struct {
	Backend   string `json:"backend"`
	Documents int64  `json:"total_docs"`
	Chunks    int64  `json:"total_chunks"`
	Dimension int    `json:"embedding_dimension"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog counts and health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Catalog.Health(cmd.Context()); err != nil {
			return fmt.Errorf("catalog unhealthy: %w", err)
		}
		st, err := a.Catalog.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := statusReport{
			Backend:   a.Config.Catalog.Backend,
			Documents: st.Documents,
			Chunks:    st.Chunks,
			Dimension: a.Catalog.Dimension(),
		}

		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, out)
		}
		fmt.Fprintf(w, "Backend:   %s\n", out.Backend)
		fmt.Fprintf(w, "Documents: %d\n", out.Documents)
		fmt.Fprintf(w, "Chunks:    %d\n", out.Chunks)
		fmt.Fprintf(w, "Dimension: %d\n", out.Dimension)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", search.DefaultLimit, "number of chunks to return")
	showCmd.Flags().BoolVar(&showChunks, "chunks", false, "print chunk text")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document ID %q", s)
	}
	return id, nil
}

func printDocument(cmd *cobra.Command, detail *search.DocumentDetail) {
	w := cmd.OutOrStdout()
	doc := detail.Document
	fmt.Fprintf(w, "ID:           %d\n", doc.ID)
	fmt.Fprintf(w, "Filename:     %s\n", doc.Filename)
	fmt.Fprintf(w, "Content type: %s\n", doc.ContentType)
	fmt.Fprintf(w, "Size:         %d bytes\n", doc.Size)
	fmt.Fprintf(w, "Fingerprint:  %s\n", doc.Fingerprint)
	fmt.Fprintf(w, "Blob:         %s\n", doc.BlobLocation)
	fmt.Fprintf(w, "Processed:    %s\n", doc.ProcessedAt.Format("2006-01-02 15:04:05 MST"))
	if summary, ok := doc.Metadata["summary"].(string); ok && summary != "" {
		fmt.Fprintf(w, "Summary:      %s\n", summary)
	}
	fmt.Fprintf(w, "Chunks:       %d\n", len(detail.Chunks))

	if !showChunks {
		return
	}
	for _, c := range detail.Chunks {
		fmt.Fprintf(w, "\n--- chunk %d ---\n%s\n", c.Index, c.Text)
	}
}

// preview flattens whitespace and cuts s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
