// Package embeddings maps text to fixed-dimension unit vectors. The encoder
// is pluggable; the service adds batching, truncation and a bounded LRU
// cache in front of it.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chatbi-labs/queryassist/internal/metrics"
	"github.com/chatbi-labs/queryassist/internal/tokenize"
)

var ErrEmptyText = errors.New("embeddings: text is empty")

// Encoder turns a batch of texts into vectors. Implementations must be
// deterministic within a run: identical input, identical output.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config controls the service.
type Config struct {
	Model         string
	Dimension     int
	CacheSize     int
	MaxInputChars int // inputs longer than this are right-truncated at a token boundary
	CacheTTL      time.Duration
}

// Service provides embedding generation with caching.
type Service struct {
	cfg Config
	enc Encoder
	lru *LocalLRU
}

// NewService wraps enc with caching and input policy.
func NewService(cfg Config, enc Encoder) (*Service, error) {
	if cfg.Dimension == 0 {
		cfg.Dimension = enc.Dimension()
	}
	if cfg.Dimension != enc.Dimension() {
		return nil, fmt.Errorf("embeddings: configured dimension %d does not match encoder dimension %d",
			cfg.Dimension, enc.Dimension())
	}
	if cfg.MaxInputChars == 0 {
		cfg.MaxInputChars = 512
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 2048
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Service{cfg: cfg, enc: enc, lru: NewLocalLRU(cfg.CacheSize)}, nil
}

// Dimension returns the vector dimension produced by this service.
func (s *Service) Dimension() int { return s.cfg.Dimension }

// Embed returns the unit vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one encoder call, serving cached entries from
// the LRU. Results line up with the input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var uncached []string
	var uncachedIdx []int

	for i, text := range texts {
		t := truncate(text, s.cfg.MaxInputChars)
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w (batch index %d)", ErrEmptyText, i)
		}
		key := MakeKey(s.cfg.Model, t)
		if v, ok := s.lru.Get(key); ok {
			results[i] = v
			metrics.EmbeddingCacheHits.Inc()
			continue
		}
		metrics.EmbeddingCacheMisses.Inc()
		uncached = append(uncached, t)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	vecs, err := s.enc.Encode(ctx, uncached)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(vecs) != len(uncached) {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embeddings: encoder returned %d vectors for %d texts", len(vecs), len(uncached))
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()

	for i, vec := range vecs {
		v := normalize(vec)
		results[uncachedIdx[i]] = v
		s.lru.Set(MakeKey(s.cfg.Model, uncached[i]), v, s.cfg.CacheTTL)
	}
	return results, nil
}

// truncate right-truncates s to at most max runes, backing off to the last
// token boundary that fits so a Latin word is never split mid-token.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := len(string(runes[:max]))
	boundary := 0
	for _, tok := range tokenize.Tokenize(s) {
		if tok.End > cut {
			break
		}
		boundary = tok.End
	}
	if boundary == 0 {
		// The first token alone exceeds the limit; fall back to a rune cut.
		return string(runes[:max])
	}
	return s[:boundary]
}

// normalize scales vec to unit L2 norm. Encoders are expected to produce
// unit vectors already; this enforces the invariant against drift.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
