// Package search blends the lexical and vector retrieval legs into one
// candidate set. The legs run concurrently under their own timeouts; a leg
// that fails degrades the request instead of failing it, and only when both
// legs are down does the searcher return an error.
package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/lexical"
	"github.com/chatbi-labs/queryassist/internal/metrics"
	"github.com/chatbi-labs/queryassist/internal/suggest"
	"github.com/chatbi-labs/queryassist/internal/vectorindex"
)

// ErrAllLegsFailed reports that neither retrieval leg produced results.
var ErrAllLegsFailed = errors.New("search: all retrieval legs failed")

// Weights is the blend of the two legs; the pair must sum to 1.
type Weights struct {
	Keyword float64
	Vector  float64
}

// DefaultWeights favors the lexical leg.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.7, Vector: 0.3}
}

// Candidate is one deduplicated search hit with its per-leg contributions.
type Candidate struct {
	ID        string
	Text      string
	Score     float64 // blended, in [0, 1] before ranking adjustments
	Source    string
	LexScore  float64 // raw lexical score, kept for tiebreaks
	VecScore  float64 // cosine similarity
	Frequency int64
	Keywords  []string
	Metadata  map[string]interface{}
}

// Config bounds the per-leg fan-out.
type Config struct {
	LexicalTimeout time.Duration
	VectorTimeout  time.Duration
	LexicalLimit   int
	VectorLimit    int
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		LexicalTimeout: 200 * time.Millisecond,
		VectorTimeout:  200 * time.Millisecond,
		LexicalLimit:   20,
		VectorLimit:    20,
	}
}

// Searcher fans a query out to both indexes and blends the results.
type Searcher struct {
	lex    *lexical.Index
	vec    *vectorindex.Index
	cfg    Config
	logger *zap.Logger
}

// NewSearcher builds a searcher over the two indexes.
func NewSearcher(lex *lexical.Index, vec *vectorindex.Index, cfg Config, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LexicalTimeout == 0 {
		cfg.LexicalTimeout = 200 * time.Millisecond
	}
	if cfg.VectorTimeout == 0 {
		cfg.VectorTimeout = 200 * time.Millisecond
	}
	if cfg.LexicalLimit <= 0 {
		cfg.LexicalLimit = 20
	}
	if cfg.VectorLimit <= 0 {
		cfg.VectorLimit = 20
	}
	return &Searcher{lex: lex, vec: vec, cfg: cfg, logger: logger}
}

// Search runs both legs concurrently and returns the blended, deduplicated
// candidates, best first. A nil embedding skips the vector leg (keyword-only
// fallback); weights with Keyword == 0 skip the lexical leg.
func (s *Searcher) Search(ctx context.Context, query string, embedding []float32, w Weights, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 10
	}

	var (
		wg      sync.WaitGroup
		lexHits []lexical.Result
		lexErr  error
		vecHits []vectorindex.Hit
		vecErr  error
	)

	runLexical := w.Keyword > 0
	runVector := w.Vector > 0 && embedding != nil

	if runLexical {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lctx, cancel := context.WithTimeout(ctx, s.cfg.LexicalTimeout)
			defer cancel()
			start := time.Now()
			lexHits, lexErr = s.lex.Search(lctx, query, s.cfg.LexicalLimit)
			observeLeg("lexical", start, lexErr)
		}()
	}
	if runVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vctx, cancel := context.WithTimeout(ctx, s.cfg.VectorTimeout)
			defer cancel()
			start := time.Now()
			vecHits, vecErr = s.vec.Search(vctx, embedding, s.cfg.VectorLimit)
			observeLeg("vector", start, vecErr)
		}()
	}
	wg.Wait()

	if runLexical && lexErr != nil && !errors.Is(lexErr, lexical.ErrEmptyQuery) {
		metrics.DegradedRequests.WithLabelValues("lexical").Inc()
		s.logger.Warn("lexical leg failed, degrading to vector only",
			zap.String("query", query), zap.Error(lexErr))
	}
	if runVector && vecErr != nil {
		metrics.DegradedRequests.WithLabelValues("vector").Inc()
		s.logger.Warn("vector leg failed, degrading to keyword only",
			zap.String("query", query), zap.Error(vecErr))
	}

	lexOK := runLexical && lexErr == nil
	vecOK := runVector && vecErr == nil
	if !lexOK && !vecOK {
		if runLexical && errors.Is(lexErr, lexical.ErrEmptyQuery) {
			return nil, lexErr
		}
		return nil, ErrAllLegsFailed
	}

	cands := s.blend(lexHits, vecHits, lexOK, vecOK, w)
	if len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}

func (s *Searcher) blend(lexHits []lexical.Result, vecHits []vectorindex.Hit, lexOK, vecOK bool, w Weights) []Candidate {
	byID := make(map[string]*Candidate)
	var order []string

	if lexOK {
		var maxLex float64
		for _, h := range lexHits {
			if h.Score > maxLex {
				maxLex = h.Score
			}
		}
		for _, h := range lexHits {
			norm := 0.0
			if maxLex > 0 {
				norm = h.Score / maxLex
			}
			byID[h.Document.ID] = &Candidate{
				ID:        h.Document.ID,
				Text:      h.Document.Text,
				Score:     w.Keyword * norm,
				Source:    suggest.SourceKeyword,
				LexScore:  h.Score,
				Frequency: h.Document.Frequency,
				Keywords:  h.Document.Keywords,
				Metadata:  h.Document.Metadata,
			}
			order = append(order, h.Document.ID)
		}
	}

	if vecOK {
		for _, h := range vecHits {
			norm := (h.Similarity + 1) / 2
			if c, ok := byID[h.ID]; ok {
				c.Score += w.Vector * norm
				c.VecScore = h.Similarity
				c.Source = suggest.SourceHybrid
				continue
			}
			doc, ok := s.lex.Get(h.ID)
			if !ok {
				// Half-indexed document: vector hit with no lexical record.
				continue
			}
			byID[h.ID] = &Candidate{
				ID:        h.ID,
				Text:      doc.Text,
				Score:     w.Vector * norm,
				Source:    suggest.SourceVector,
				VecScore:  h.Similarity,
				Frequency: doc.Frequency,
				Keywords:  doc.Keywords,
				Metadata:  doc.Metadata,
			}
			order = append(order, h.ID)
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	SortCandidates(out)
	return out
}

// SortCandidates applies the canonical ordering: blended score descending,
// then raw lexical score, then frequency, then id ascending.
func SortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].LexScore != cands[j].LexScore {
			return cands[i].LexScore > cands[j].LexScore
		}
		if cands[i].Frequency != cands[j].Frequency {
			return cands[i].Frequency > cands[j].Frequency
		}
		return cands[i].ID < cands[j].ID
	})
}

func observeLeg(leg string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SearchLegDuration.WithLabelValues(leg, status).Observe(time.Since(start).Seconds())
}
