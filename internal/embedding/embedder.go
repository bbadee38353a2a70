// Package embedding maps chunk and query text to fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector dimension for text-embedding-3-small.
	DefaultDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500
)

// ErrBadResponse means the provider returned vectors that do not line up
// with the request.
var ErrBadResponse = errors.New("embedding response mismatch")

// Embedder generates embeddings through the OpenAI embeddings API.
// It batches requests for efficiency and implements exponential backoff on rate limit errors.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
}

// Options configures an Embedder. Zero values select the defaults.
type Options struct {
	Model     string
	Dimension int
	BatchSize int
}

// NewEmbedder creates a new Embedder with the given client and options.
func NewEmbedder(client *Client, opts Options) *Embedder {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Embedder{
		client:    client,
		model:     opts.Model,
		dimension: opts.Dimension,
		batchSize: opts.BatchSize,
	}
}

// Dimension returns the vector length this embedder produces.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// GenerateEmbeddings returns one vector per text, in input order.
// Batches requests and retries with exponential backoff on rate limit errors.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors are treated as permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(e.model),
	}
	// Only the text-embedding-3 family accepts a reduced dimension.
	if strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				return err // Will retry with backoff
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("%w: %d vectors for %d texts", ErrBadResponse, len(resp.Data), len(texts)))
		}
		// The API tags each vector with its input index.
		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

		embeddings = make([][]float32, len(data))
		for i, d := range data {
			if len(d.Embedding) != e.dimension {
				return backoff.Permanent(fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
					ErrBadResponse, i, len(d.Embedding), e.dimension))
			}
			embeddings[i] = toFloat32(d.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
