// Package prefix implements prefix-preserving completion: a long query is
// split into a stable prefix and an incomplete tail, candidates are found
// for the tail alone, and suggestions are emitted as prefix + completed
// tail so the user's phrasing survives.
package prefix

import (
	"context"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/lexical"
	"github.com/chatbi-labs/queryassist/internal/oracle"
	"github.com/chatbi-labs/queryassist/internal/suggest"
	"github.com/chatbi-labs/queryassist/internal/tokenize"
)

// fallbackFreqScale divides log(1+frequency) in the no-oracle scoring path.
const fallbackFreqScale = 10.0

// Config controls triggering and bounds.
type Config struct {
	MinTokens      int // trigger: at least this many tokens in the query
	MinTailChars   int // trigger: tail has at least this many runes
	CandidateLimit int
	ResultLimit    int
	MinPreserved   int           // below this many completions the engine reports no result
	OracleTimeout  time.Duration // budget for the ranking call
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		MinTokens:      5,
		MinTailChars:   1,
		CandidateLimit: 20,
		ResultLimit:    10,
		MinPreserved:   1,
		OracleTimeout:  time.Second,
	}
}

// Analysis is the prefix/tail split of a triggering query.
type Analysis struct {
	Prefix string // everything before the tail, separators intact
	Tail   string // the incomplete last token
}

// Engine produces prefix-preserving completions.
type Engine struct {
	lex    *lexical.Index
	oracle oracle.Client
	cfg    Config
	logger *zap.Logger
}

// NewEngine builds an engine; oracle may be nil to force fallback scoring.
func NewEngine(lex *lexical.Index, oc oracle.Client, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if oc == nil {
		oc = oracle.Disabled{}
	}
	if cfg.MinTokens <= 0 {
		cfg.MinTokens = 5
	}
	if cfg.MinTailChars <= 0 {
		cfg.MinTailChars = 1
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 20
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 10
	}
	if cfg.MinPreserved <= 0 {
		cfg.MinPreserved = 1
	}
	if cfg.OracleTimeout == 0 {
		cfg.OracleTimeout = time.Second
	}
	return &Engine{lex: lex, oracle: oc, cfg: cfg, logger: logger}
}

// Analyze splits query into prefix and tail. ok is false when the query is
// too short to trigger this mode.
func (e *Engine) Analyze(query string) (Analysis, bool) {
	toks := tokenize.Tokenize(query)
	if len(toks) < e.cfg.MinTokens {
		return Analysis{}, false
	}
	tail := toks[len(toks)-1]
	if utf8.RuneCountInString(tail.Text) < e.cfg.MinTailChars {
		return Analysis{}, false
	}
	return Analysis{Prefix: query[:tail.Start], Tail: tail.Text}, true
}

// Complete attempts prefix-preserving completion. ok is false when the mode
// did not trigger or produced fewer than MinPreserved results, in which case
// the caller falls back to the regular suggestion path.
func (e *Engine) Complete(ctx context.Context, query string, octx oracle.Context, limit int) ([]suggest.Suggestion, bool) {
	an, ok := e.Analyze(query)
	if !ok {
		return nil, false
	}
	if limit <= 0 || limit > e.cfg.ResultLimit {
		limit = e.cfg.ResultLimit
	}

	hits, err := e.lex.Search(ctx, an.Tail, e.cfg.CandidateLimit)
	if err != nil {
		e.logger.Warn("completion candidate search failed",
			zap.String("tail", an.Tail), zap.Error(err))
		return nil, false
	}
	if len(hits) == 0 {
		return nil, false
	}

	completions, method := e.rank(ctx, an, hits, octx)

	out := make([]suggest.Suggestion, 0, len(completions))
	seen := make(map[string]struct{}, len(completions))
	for _, c := range completions {
		text := an.Prefix + c.Text
		key := suggest.DedupKey(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, suggest.Suggestion{
			Text:   text,
			Score:  c.Score,
			Source: suggest.SourcePrefixPreserved,
			Metadata: map[string]interface{}{
				"prefix":          an.Prefix,
				"incomplete_term": an.Tail,
				"completed_term":  c.Text,
				"method":          method,
			},
		})
	}

	// Cut after dedup so duplicate tails cannot shrink a full page.
	if len(out) > limit {
		out = out[:limit]
	}

	if len(out) < e.cfg.MinPreserved {
		return nil, false
	}
	return out, true
}

// rank orders the candidate tails, via the oracle when available, else by
// normalized lexical score plus a damped frequency term.
func (e *Engine) rank(ctx context.Context, an Analysis, hits []lexical.Result, octx oracle.Context) ([]oracle.RankedCompletion, string) {
	if e.oracle.IsAvailable() {
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.Document.Text
		}
		octx2, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
		ranked, err := e.oracle.RankPrefixCompletions(octx2, an.Prefix, an.Tail, texts, octx)
		cancel()
		if err == nil && len(ranked) > 0 {
			return ranked, "oracle"
		}
		if err != nil {
			e.logger.Warn("oracle completion ranking failed, using fallback", zap.Error(err))
		}
	}
	return fallbackRank(hits), "fallback"
}

func fallbackRank(hits []lexical.Result) []oracle.RankedCompletion {
	var maxScore float64
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	out := make([]oracle.RankedCompletion, 0, len(hits))
	for _, h := range hits {
		norm := 0.0
		if maxScore > 0 {
			norm = h.Score / maxScore
		}
		score := norm + math.Log1p(float64(h.Document.Frequency))/fallbackFreqScale
		if score > 1 {
			score = 1
		}
		out = append(out, oracle.RankedCompletion{Text: h.Document.Text, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	return out
}
