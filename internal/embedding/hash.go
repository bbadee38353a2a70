package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashEmbedder is an offline embedder that feature-hashes word unigrams and
// bigrams into a fixed number of buckets. Texts sharing vocabulary land
// close together under cosine similarity; it has no notion of synonyms.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing dim-length vectors.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

// Dimension returns the vector length.
func (h *HashEmbedder) Dimension() int {
	return h.dim
}

// GenerateEmbeddings embeds every text independently.
func (h *HashEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// add hashes feature into a bucket; one hash bit picks the sign so
// collisions cancel out on average.
func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
