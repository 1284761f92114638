// Package orchestrator composes retrieval, ranking, personalization, prefix
// completion and the oracle into the public engine operations. Oracle and
// behavior failures never escape this layer; the only errors callers see are
// validation and full unavailability.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/behavior"
	"github.com/chatbi-labs/queryassist/internal/docstore"
	"github.com/chatbi-labs/queryassist/internal/embeddings"
	"github.com/chatbi-labs/queryassist/internal/metrics"
	"github.com/chatbi-labs/queryassist/internal/oracle"
	"github.com/chatbi-labs/queryassist/internal/prefix"
	"github.com/chatbi-labs/queryassist/internal/ranking"
	"github.com/chatbi-labs/queryassist/internal/search"
	"github.com/chatbi-labs/queryassist/internal/suggest"
)

var (
	// ErrValidation marks malformed input; the HTTP layer maps it to 400.
	ErrValidation = errors.New("invalid request")
	// ErrUnavailable means no candidate source produced results; mapped to 503.
	ErrUnavailable = errors.New("no suggestion source available")
)

// originalQueryPriority favors the user's own phrasing over oracle
// expansions when both retrieve the same document.
const originalQueryPriority = 1.1

// Config holds the orchestration knobs.
type Config struct {
	Weights         search.Weights
	MaxSuggestions  int
	MinScore        float64
	Expansions      int
	Related         int
	PrefixEnabled   bool
	BehaviorEnabled bool

	EmbedTimeout    time.Duration
	OracleTimeout   time.Duration
	BehaviorTimeout time.Duration
	TotalTimeout    time.Duration
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Weights:         search.DefaultWeights(),
		MaxSuggestions:  10,
		MinScore:        0.0,
		Expansions:      3,
		Related:         5,
		PrefixEnabled:   true,
		BehaviorEnabled: true,
		EmbedTimeout:    500 * time.Millisecond,
		OracleTimeout:   time.Second,
		BehaviorTimeout: 100 * time.Millisecond,
		TotalTimeout:    1500 * time.Millisecond,
	}
}

// Request is the common input of the suggestion operations.
type Request struct {
	Query   string
	UserID  string
	Limit   int
	Context oracle.Context
}

// Service wires the engine together. Construct with NewService; all
// dependencies are injected, none are optional except oracle and behavior.
type Service struct {
	emb      *embeddings.Service
	docs     *docstore.Store
	behavior *behavior.Store
	searcher *search.Searcher
	ranker   *ranking.Ranker
	prefix   *prefix.Engine
	oracle   oracle.Client
	cfg      Config
	logger   *zap.Logger

	weightsMu sync.RWMutex
	blend     search.Weights
}

// NewService builds the orchestrator. behavior and prefix may be nil; a nil
// oracle is replaced with the disabled client.
func NewService(
	emb *embeddings.Service,
	docs *docstore.Store,
	bh *behavior.Store,
	searcher *search.Searcher,
	ranker *ranking.Ranker,
	pe *prefix.Engine,
	oc oracle.Client,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if oc == nil {
		oc = oracle.Disabled{}
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 10
	}
	if cfg.TotalTimeout == 0 {
		cfg.TotalTimeout = 1500 * time.Millisecond
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 500 * time.Millisecond
	}
	if cfg.OracleTimeout == 0 {
		cfg.OracleTimeout = time.Second
	}
	if cfg.BehaviorTimeout == 0 {
		cfg.BehaviorTimeout = 100 * time.Millisecond
	}
	return &Service{
		emb:      emb,
		docs:     docs,
		behavior: bh,
		searcher: searcher,
		ranker:   ranker,
		prefix:   pe,
		oracle:   oc,
		cfg:      cfg,
		logger:   logger,
		blend:    cfg.Weights,
	}
}

// SetWeights swaps the retrieval blend; in-flight requests keep the weights
// they started with, the next request observes the new pair.
func (s *Service) SetWeights(w search.Weights) {
	s.weightsMu.Lock()
	s.blend = w
	s.weightsMu.Unlock()
}

func (s *Service) weights() search.Weights {
	s.weightsMu.RLock()
	defer s.weightsMu.RUnlock()
	return s.blend
}

func (s *Service) validate(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.MaxSuggestions
	}
	if req.Limit < 1 || req.Limit > 50 {
		return fmt.Errorf("%w: limit must be in [1, 50]", ErrValidation)
	}
	return nil
}

// GetSuggestions is the autocomplete entry point. Long queries go through
// prefix-preserving completion first; otherwise the query (plus oracle
// expansions, when available) runs through hybrid search and the ranker.
func (s *Service) GetSuggestions(ctx context.Context, req Request) ([]suggest.Suggestion, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TotalTimeout)
	defer cancel()

	if s.cfg.PrefixEnabled && s.prefix != nil {
		if out, ok := s.prefix.Complete(ctx, req.Query, req.Context, req.Limit); ok {
			countServed(out)
			return out, nil
		}
	}

	// The embedding and the oracle expansion are independent; run them side
	// by side under their own budgets.
	var (
		wg         sync.WaitGroup
		vec        []float32
		expansions []string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		vec = s.embedQuery(ctx, req.Query)
	}()
	if s.oracle.IsAvailable() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			octx, ocancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
			defer ocancel()
			exp, err := s.oracle.ExpandQuery(octx, req.Query, s.cfg.Expansions)
			if err != nil {
				metrics.SwallowedErrors.WithLabelValues("oracle").Inc()
				return
			}
			expansions = exp
		}()
	}
	wg.Wait()

	cands, err := s.gather(ctx, req.Query, vec, expansions, req.Limit)
	if err != nil {
		return nil, err
	}

	ranked := s.ranker.Rank(ctx, req.UserID, req.Query, cands, req.Limit)
	out := toSuggestions(ranked)
	countServed(out)
	return out, nil
}

// gather searches the original query and each expansion, merging per-id with
// the maximum score. The original query's scores carry a priority multiplier.
func (s *Service) gather(ctx context.Context, query string, vec []float32, expansions []string, limit int) ([]search.Candidate, error) {
	type legResult struct {
		cands    []search.Candidate
		err      error
		original bool
	}

	queries := append([]string{query}, expansions...)
	results := make([]legResult, len(queries))

	var expVecs [][]float32
	if len(expansions) > 0 && vec != nil {
		ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		vs, err := s.emb.EmbedBatch(ectx, expansions)
		cancel()
		if err != nil {
			metrics.SwallowedErrors.WithLabelValues("embeddings").Inc()
		} else {
			expVecs = vs
		}
	}

	w := s.weights()
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			var qv []float32
			if i == 0 {
				qv = vec
			} else if expVecs != nil {
				qv = expVecs[i-1]
			}
			cands, err := s.searcher.Search(ctx, q, qv, w, limit*2)
			results[i] = legResult{cands: cands, err: err, original: i == 0}
		}(i, q)
	}
	wg.Wait()

	if results[0].err != nil && len(expansions) == 0 {
		if errors.Is(results[0].err, search.ErrAllLegsFailed) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("%w: %s", ErrValidation, results[0].err)
	}

	byID := make(map[string]search.Candidate)
	anySucceeded := false
	for _, r := range results {
		if r.err != nil {
			continue
		}
		anySucceeded = true
		for _, c := range r.cands {
			if r.original {
				c.Score *= originalQueryPriority
			}
			if prev, ok := byID[c.ID]; !ok || c.Score > prev.Score {
				byID[c.ID] = c
			}
		}
	}
	if !anySucceeded {
		return nil, ErrUnavailable
	}

	merged := make([]search.Candidate, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	search.SortCandidates(merged)
	return dedupCandidates(merged), nil
}

// GetSimilarQueries finds semantically close queries: the hybrid path with
// all weight on the vector leg. Without an embedding it degrades to the
// standard blend so the request still serves.
func (s *Service) GetSimilarQueries(ctx context.Context, req Request) ([]suggest.Suggestion, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TotalTimeout)
	defer cancel()

	vec := s.embedQuery(ctx, req.Query)
	weights := search.Weights{Keyword: 0, Vector: 1}
	if vec == nil {
		weights = s.weights()
		metrics.DegradedRequests.WithLabelValues("vector").Inc()
	}

	// Fetch one extra so dropping the query itself still fills the limit.
	cands, err := s.searcher.Search(ctx, req.Query, vec, weights, req.Limit+1)
	if err != nil {
		if errors.Is(err, search.ErrAllLegsFailed) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	self := suggest.DedupKey(req.Query)
	filtered := cands[:0]
	for _, c := range cands {
		if suggest.DedupKey(c.Text) == self {
			continue
		}
		filtered = append(filtered, c)
	}

	ranked := s.ranker.Rank(ctx, req.UserID, req.Query, dedupCandidates(filtered), req.Limit)
	out := toSuggestions(ranked)
	countServed(out)
	return out, nil
}

// Related-source score bands.
const (
	relatedLLMTop    = 0.95
	relatedLLMFloor  = 0.90
	relatedSeqNext   = 0.85
	relatedHybridCap = 0.80
	relatedSeqPrev   = 0.75
	relatedHistory   = 0.70
)

// GetRelatedQueries unions five candidate sources, each with its own score
// band, so sequence and oracle knowledge outrank plain retrieval.
func (s *Service) GetRelatedQueries(ctx context.Context, req Request) ([]suggest.Suggestion, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TotalTimeout)
	defer cancel()

	// Each source counts as attempted when launched and failed when it
	// errors; only all-failed with nothing gathered maps to unavailability.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		gathered  []suggest.Suggestion
		attempted int
		failed    int
	)
	collect := func(ss []suggest.Suggestion) {
		mu.Lock()
		gathered = append(gathered, ss...)
		mu.Unlock()
	}
	fail := func() {
		mu.Lock()
		failed++
		mu.Unlock()
	}

	if s.oracle.IsAvailable() {
		attempted++
		wg.Add(1)
		go func() {
			defer wg.Done()
			octx, ocancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
			defer ocancel()
			texts, err := s.oracle.GenerateRelated(octx, req.Query, req.Context, s.cfg.Related)
			if err != nil {
				metrics.SwallowedErrors.WithLabelValues("oracle").Inc()
				fail()
				return
			}
			ss := make([]suggest.Suggestion, 0, len(texts))
			for i, t := range texts {
				score := relatedLLMTop - 0.01*float64(i)
				if score < relatedLLMFloor {
					score = relatedLLMFloor
				}
				ss = append(ss, suggest.Suggestion{Text: t, Score: score, Source: suggest.SourceLLM})
			}
			collect(ss)
		}()
	}

	if s.cfg.BehaviorEnabled && s.behavior != nil {
		attempted++
		wg.Add(1)
		go func() {
			defer wg.Done()
			bctx, bcancel := context.WithTimeout(ctx, s.cfg.BehaviorTimeout)
			defer bcancel()
			// Store reads swallow their own errors, so reachability is
			// probed explicitly before this source counts as serving.
			if err := s.behavior.Ping(bctx); err != nil {
				fail()
				return
			}
			seqs := s.behavior.GetSequences(bctx, req.Query, req.UserID)
			collect(edgeSuggestions(seqs.Next, relatedSeqNext, suggest.SourceSequenceNext))
			collect(edgeSuggestions(seqs.Previous, relatedSeqPrev, suggest.SourceSequencePrev))

			// What other users selected for this exact query, weighted by
			// popularity within the history band.
			collect(edgeSuggestions(s.behavior.GetGlobalPreferences(bctx, req.Query), relatedHistory, suggest.SourceHistory))

			if req.UserID != "" {
				hctx, hcancel := context.WithTimeout(ctx, s.cfg.BehaviorTimeout)
				defer hcancel()
				var ss []suggest.Suggestion
				for _, e := range s.behavior.GetRecentHistory(hctx, req.UserID, 0) {
					if e.Query == req.Query && e.Selected != "" {
						ss = append(ss, suggest.Suggestion{
							Text:   e.Selected,
							Score:  relatedHistory,
							Source: suggest.SourceHistory,
						})
					}
				}
				collect(ss)
			}
		}()
	}

	attempted++
	wg.Add(1)
	go func() {
		defer wg.Done()
		vec := s.embedQuery(ctx, req.Query)
		cands, err := s.searcher.Search(ctx, req.Query, vec, s.weights(), req.Limit+1)
		if err != nil {
			fail()
			return
		}
		ss := make([]suggest.Suggestion, 0, len(cands))
		for _, c := range cands {
			score := c.Score
			if score > relatedHybridCap {
				score = relatedHybridCap
			}
			ss = append(ss, suggest.Suggestion{Text: c.Text, Score: score, Source: suggest.SourceHybrid, Metadata: c.Metadata})
		}
		collect(ss)
	}()

	wg.Wait()

	out := dedupSuggestions(gathered, req.Query)
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	// Empty-but-successful sources are a valid empty answer; only when
	// every attempted source errored is nothing reachable.
	if len(out) == 0 && attempted > 0 && failed == attempted {
		return nil, ErrUnavailable
	}
	countServed(out)
	return out, nil
}

// RecordFeedback persists a selection into the behavior store and bumps the
// selected document's frequency. Storage failures are swallowed; only
// validation errors reach the caller.
func (s *Service) RecordFeedback(ctx context.Context, userID, query, selected string, ts time.Time) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if selected == "" {
		selected = query
	}

	if s.cfg.BehaviorEnabled && s.behavior != nil && userID != "" {
		bctx, cancel := context.WithTimeout(ctx, s.cfg.BehaviorTimeout)
		s.behavior.RecordSelection(bctx, userID, query, selected, ts)
		cancel()
	}

	s.docs.IncrementFrequency(selected, 1)
	return nil
}

// AddDocument forwards to the document store.
func (s *Service) AddDocument(ctx context.Context, item docstore.Item) (string, error) {
	return s.docs.Add(ctx, item)
}

// BulkAddDocuments forwards to the document store.
func (s *Service) BulkAddDocuments(ctx context.Context, items []docstore.Item) docstore.BulkResult {
	return s.docs.BulkAdd(ctx, items)
}

// embedQuery returns the query embedding, or nil when embedding fails; the
// caller falls back to keyword-only retrieval.
func (s *Service) embedQuery(ctx context.Context, query string) []float32 {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()
	vec, err := s.emb.Embed(ectx, query)
	if err != nil {
		metrics.SwallowedErrors.WithLabelValues("embeddings").Inc()
		s.logger.Warn("query embedding failed, keyword-only retrieval",
			zap.String("query", query), zap.Error(err))
		return nil
	}
	return vec
}

func edgeSuggestions(edges []behavior.Entry, band float64, source string) []suggest.Suggestion {
	if len(edges) == 0 {
		return nil
	}
	max := edges[0].Score
	for _, e := range edges {
		if e.Score > max {
			max = e.Score
		}
	}
	out := make([]suggest.Suggestion, 0, len(edges))
	for _, e := range edges {
		norm := 0.0
		if max > 0 {
			norm = e.Score / max
		}
		out = append(out, suggest.Suggestion{Text: e.Text, Score: band * norm, Source: source})
	}
	return out
}

// dedupCandidates keeps one candidate per normalized text. Input comes in
// canonical order, so the first occurrence is the best-scoring one.
func dedupCandidates(cands []search.Candidate) []search.Candidate {
	seen := make(map[string]struct{}, len(cands))
	out := cands[:0]
	for _, c := range cands {
		key := suggest.DedupKey(c.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// dedupSuggestions keeps the best-scoring entry per normalized text, drops
// the query itself, and orders by score descending with text ascending.
func dedupSuggestions(in []suggest.Suggestion, query string) []suggest.Suggestion {
	self := suggest.DedupKey(query)
	best := make(map[string]suggest.Suggestion, len(in))
	for _, s := range in {
		key := suggest.DedupKey(s.Text)
		if key == "" || key == self {
			continue
		}
		if prev, ok := best[key]; !ok || s.Score > prev.Score {
			best[key] = s
		}
	}
	out := make([]suggest.Suggestion, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	return out
}

func toSuggestions(cands []search.Candidate) []suggest.Suggestion {
	out := make([]suggest.Suggestion, 0, len(cands))
	for _, c := range cands {
		out = append(out, suggest.Suggestion{
			Text:     c.Text,
			Score:    c.Score,
			Source:   c.Source,
			Metadata: c.Metadata,
		})
	}
	return out
}

func countServed(ss []suggest.Suggestion) {
	for _, s := range ss {
		metrics.SuggestionsServed.WithLabelValues(s.Source).Inc()
	}
}
