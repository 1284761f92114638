// Package ranking adjusts blended candidate scores with per-user signals:
// a multiplicative preference boost and an additive last-selection bonus.
package ranking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/behavior"
	"github.com/chatbi-labs/queryassist/internal/search"
	"github.com/chatbi-labs/queryassist/internal/suggest"
)

// Config holds the personalization knobs.
type Config struct {
	PersonalizationWeight float64 // alpha: multiplier strength for preference boost
	LastSelectionBonus    float64 // beta: additive bonus for exact last-selection match
	MinScore              float64
	BehaviorTimeout       time.Duration
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		PersonalizationWeight: 0.2,
		LastSelectionBonus:    0.3,
		MinScore:              0.0,
		BehaviorTimeout:       100 * time.Millisecond,
	}
}

// Ranker applies personalization on top of blended candidates.
type Ranker struct {
	behavior *behavior.Store
	cfg      Config
	logger   *zap.Logger
}

// NewRanker builds a ranker; behavior may be nil, which disables
// personalization entirely.
func NewRanker(store *behavior.Store, cfg Config, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BehaviorTimeout == 0 {
		cfg.BehaviorTimeout = 100 * time.Millisecond
	}
	return &Ranker{behavior: store, cfg: cfg, logger: logger}
}

// Rank applies the user's preference boost and last-selection bonus, filters
// by min score, sorts deterministically and truncates to limit. With no user
// or no behavior store the candidates pass through unboosted.
func (r *Ranker) Rank(ctx context.Context, user, query string, cands []search.Candidate, limit int) []search.Candidate {
	if limit <= 0 {
		limit = 10
	}

	boosts, lastSelection := r.userSignals(ctx, user, query)

	out := make([]search.Candidate, 0, len(cands))
	for _, c := range cands {
		base := c.Score
		final := base * (1 + r.cfg.PersonalizationWeight*boosts[c.Text])
		if lastSelection != "" && c.Text == lastSelection {
			final += r.cfg.LastSelectionBonus
		}
		if final < r.cfg.MinScore {
			continue
		}
		// The source escalates when the user-dependent part dominates.
		if final > 0 && (final-base)/final >= 0.5 {
			c.Source = suggest.SourcePersonalized
		}
		c.Score = final
		out = append(out, c)
	}

	search.SortCandidates(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// userSignals fetches the user's normalized preference boosts and the last
// selection for this query. Behavior store failures return empty signals.
func (r *Ranker) userSignals(ctx context.Context, user, query string) (map[string]float64, string) {
	boosts := map[string]float64{}
	if user == "" || r.behavior == nil {
		return boosts, ""
	}

	bctx, cancel := context.WithTimeout(ctx, r.cfg.BehaviorTimeout)
	defer cancel()

	prefs := r.behavior.GetUserPreferences(bctx, user)
	if len(prefs) > 0 {
		max := prefs[0].Score
		for _, p := range prefs {
			if p.Score > max {
				max = p.Score
			}
		}
		if max > 0 {
			for _, p := range prefs {
				boosts[p.Text] = p.Score / max
			}
		}
	}

	last, _ := r.behavior.GetLastSelection(bctx, user, query)
	return boosts, last
}
