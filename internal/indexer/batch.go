package indexer

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of documents ProcessAll ingests at once.
const DefaultConcurrency = 4

// Source is one document handed to ProcessAll.
type Source struct {
	Filename string
	Data     []byte
	// ContentType overrides detection when set.
	ContentType string
	// Metadata is merged into the document metadata (e.g. repository, path).
	Metadata map[string]any
}

// IndexResult contains statistics about a batch ingestion.
type IndexResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	ExistingDocs   int
	FailedDocs     []FailedDoc
	Results        []*Result
	Duration       time.Duration
}

// FailedDoc represents a document that failed to ingest.
type FailedDoc struct {
	Filename string
	Step     Step
	Reason   string
}

// ProcessAll ingests sources with at most concurrency documents in flight.
// A failing document does not stop the batch; it is listed in FailedDocs.
// Results are reported in input order.
func (p *Pipeline) ProcessAll(ctx context.Context, sources []Source, concurrency int) *IndexResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	start := time.Now()
	results := make([]*Result, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, src := range sources {
		g.Go(func() error {
			results[i], errs[i] = p.process(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	out := &IndexResult{TotalDocs: len(sources), Results: results}
	for i, r := range results {
		switch r.Status {
		case StatusSuccess:
			out.SuccessfulDocs++
			out.TotalChunks += r.ChunkCount
		case StatusAlreadyExists:
			out.ExistingDocs++
		default:
			failed := FailedDoc{Filename: r.Filename, Reason: r.Message}
			var stepErr *StepError
			if errors.As(errs[i], &stepErr) {
				failed.Step = stepErr.Step
			}
			out.FailedDocs = append(out.FailedDocs, failed)
		}
	}
	out.Duration = time.Since(start)

	p.logger.Info("Batch ingestion complete",
		"total", out.TotalDocs,
		"successful", out.SuccessfulDocs,
		"existing", out.ExistingDocs,
		"failed", len(out.FailedDocs),
		"chunks", out.TotalChunks,
		"duration", out.Duration,
	)
	return out
}
