package embeddings

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/chatbi-labs/queryassist/internal/tokenize"
)

// HashingEncoder is the built-in local encoder: character n-grams of the
// tokenized input are hashed onto a fixed number of dimensions with a
// signed feature-hashing scheme, then L2-normalized. It needs no model
// download, handles CJK and Latin alike, and is fully deterministic, which
// makes it the default for development and tests. Deployments wanting
// semantic embeddings plug in HTTPEncoder instead.
type HashingEncoder struct {
	dim int
}

// NewHashingEncoder creates an encoder producing dim-dimensional vectors.
func NewHashingEncoder(dim int) *HashingEncoder {
	if dim <= 0 {
		dim = 384
	}
	return &HashingEncoder{dim: dim}
}

func (h *HashingEncoder) Dimension() int { return h.dim }

// Encode implements Encoder.
func (h *HashingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.encodeOne(text)
	}
	return out, nil
}

func (h *HashingEncoder) encodeOne(text string) []float32 {
	vec := make([]float64, h.dim)

	for _, term := range tokenize.Terms(text) {
		// Whole token plus its 1..3-grams: the unigram features give CJK
		// single-character tokens overlap with longer phrases.
		addFeature(vec, term, 2)
		runes := []rune(term)
		for n := 1; n <= 3; n++ {
			for j := 0; j+n <= len(runes); j++ {
				addFeature(vec, string(runes[j:j+n]), 1)
			}
		}
	}

	var sum float64
	for _, x := range vec {
		sum += x * x
	}
	out := make([]float32, h.dim)
	if sum == 0 {
		// Degenerate input (no tokens): deterministic basis vector.
		out[0] = 1
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range vec {
		out[i] = float32(x * inv)
	}
	return out
}

func addFeature(vec []float64, feature string, weight float64) {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(feature))
	sum := hash.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
