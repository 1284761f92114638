package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/behavior"
	"github.com/chatbi-labs/queryassist/internal/circuitbreaker"
	"github.com/chatbi-labs/queryassist/internal/search"
	"github.com/chatbi-labs/queryassist/internal/suggest"
)

func newRankerWithStore(t *testing.T) (*Ranker, *behavior.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := behavior.NewStore(circuitbreaker.NewRedisWrapper(client, zap.NewNop()), behavior.DefaultConfig(), zap.NewNop())
	return NewRanker(store, DefaultConfig(), zap.NewNop()), store
}

func candidates() []search.Candidate {
	return []search.Candidate{
		{ID: "1", Text: "销售额", Score: 0.9, Source: suggest.SourceHybrid},
		{ID: "2", Text: "销售额趋势分析", Score: 0.8, Source: suggest.SourceHybrid},
		{ID: "3", Text: "市场分析", Score: 0.3, Source: suggest.SourceKeyword},
	}
}

func TestRankWithoutUserPassesThrough(t *testing.T) {
	r, _ := newRankerWithStore(t)
	out := r.Rank(context.Background(), "", "销售", candidates(), 10)
	require.Len(t, out, 3)
	assert.Equal(t, "1", out[0].ID)
	assert.InDelta(t, 0.9, out[0].Score, 1e-9)
	assert.Equal(t, suggest.SourceHybrid, out[0].Source)
}

func TestPreferenceBoostReordersResults(t *testing.T) {
	r, store := newRankerWithStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		store.RecordSelection(ctx, "u1", "销售", "销售额趋势分析", time.Now())
	}

	out := r.Rank(ctx, "u1", "销售", candidates(), 10)
	require.Len(t, out, 3)
	// Preference multiplier plus last-selection bonus lifts the favorite.
	assert.Equal(t, "2", out[0].ID)
	// 0.8 * (1 + 0.2*1.0) + 0.3 = 1.26
	assert.InDelta(t, 1.26, out[0].Score, 1e-9)
}

func TestPersonalizedSourceEscalation(t *testing.T) {
	r, store := newRankerWithStore(t)
	ctx := context.Background()
	store.RecordSelection(ctx, "u1", "销售", "市场分析", time.Now())

	out := r.Rank(ctx, "u1", "销售", candidates(), 10)
	for _, c := range out {
		if c.ID == "3" {
			// 0.3*(1+0.2) + 0.3 = 0.66; user part 0.36 is over half.
			assert.Equal(t, suggest.SourcePersonalized, c.Source)
			return
		}
	}
	t.Fatal("candidate 3 missing from ranked output")
}

func TestMinScoreFilters(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := behavior.NewStore(circuitbreaker.NewRedisWrapper(client, zap.NewNop()), behavior.DefaultConfig(), zap.NewNop())

	cfg := DefaultConfig()
	cfg.MinScore = 0.5
	r := NewRanker(store, cfg, zap.NewNop())

	out := r.Rank(context.Background(), "", "销售", candidates(), 10)
	require.Len(t, out, 2)
	for _, c := range out {
		assert.GreaterOrEqual(t, c.Score, 0.5)
	}
}

func TestLimitApplied(t *testing.T) {
	r, _ := newRankerWithStore(t)
	out := r.Rank(context.Background(), "", "销售", candidates(), 2)
	assert.Len(t, out, 2)
}

func TestNilBehaviorStore(t *testing.T) {
	r := NewRanker(nil, DefaultConfig(), zap.NewNop())
	out := r.Rank(context.Background(), "u1", "销售", candidates(), 10)
	assert.Len(t, out, 3)
}
