package prefix

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/lexical"
	"github.com/chatbi-labs/queryassist/internal/oracle"
	"github.com/chatbi-labs/queryassist/internal/suggest"
)

func newEngine(t *testing.T, oc oracle.Client) (*Engine, *lexical.Index) {
	t.Helper()
	lex := lexical.NewIndex(lexical.DefaultWeights(), zap.NewNop())
	for _, text := range []string{"销售额", "销量", "销售情况"} {
		require.NoError(t, lex.Upsert(lexical.Document{ID: text, Text: text}))
	}
	return NewEngine(lex, oc, DefaultConfig(), zap.NewNop()), lex
}

func TestAnalyzeTriggering(t *testing.T) {
	e, _ := newEngine(t, nil)

	an, ok := e.Analyze("帮我查询一下今年北京的销")
	require.True(t, ok)
	assert.Equal(t, "帮我查询一下今年北京的", an.Prefix)
	assert.Equal(t, "销", an.Tail)

	// Too few tokens.
	_, ok = e.Analyze("销售")
	assert.False(t, ok)
}

func TestCompletePreservesPrefix(t *testing.T) {
	e, _ := newEngine(t, nil)

	out, ok := e.Complete(context.Background(), "帮我查询一下今年北京的销", nil, 3)
	require.True(t, ok)
	require.NotEmpty(t, out)

	for _, s := range out {
		assert.True(t, strings.HasPrefix(s.Text, "帮我查询一下今年北京的"), s.Text)
		assert.Equal(t, suggest.SourcePrefixPreserved, s.Source)
		assert.Equal(t, "fallback", s.Metadata["method"])
		assert.Equal(t, "销", s.Metadata["incomplete_term"])

		tail, _ := s.Metadata["completed_term"].(string)
		assert.Contains(t, []string{"销售额", "销量", "销售情况"}, tail)
	}
}

func TestCompleteScoresMonotonic(t *testing.T) {
	e, _ := newEngine(t, nil)
	out, ok := e.Complete(context.Background(), "帮我查询一下今年北京的销", nil, 10)
	require.True(t, ok)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score)
	}
}

func TestCompleteNoCandidates(t *testing.T) {
	lex := lexical.NewIndex(lexical.DefaultWeights(), zap.NewNop())
	e := NewEngine(lex, nil, DefaultConfig(), zap.NewNop())

	_, ok := e.Complete(context.Background(), "帮我查询一下今年北京的销", nil, 3)
	assert.False(t, ok)
}

func TestCompleteShortQueryDoesNotTrigger(t *testing.T) {
	e, _ := newEngine(t, nil)
	_, ok := e.Complete(context.Background(), "销售", nil, 3)
	assert.False(t, ok)
}

// stubOracle returns a fixed ranking.
type stubOracle struct {
	ranked []oracle.RankedCompletion
	err    error
}

func (s stubOracle) IsAvailable() bool { return true }
func (s stubOracle) ExpandQuery(context.Context, string, int) ([]string, error) {
	return nil, nil
}
func (s stubOracle) GenerateRelated(context.Context, string, oracle.Context, int) ([]string, error) {
	return nil, nil
}
func (s stubOracle) RankPrefixCompletions(context.Context, string, string, []string, oracle.Context) ([]oracle.RankedCompletion, error) {
	return s.ranked, s.err
}
func (s stubOracle) RewriteQuery(_ context.Context, q string) (string, error) { return q, nil }

func TestCompleteWithOracleRanking(t *testing.T) {
	e, _ := newEngine(t, stubOracle{ranked: []oracle.RankedCompletion{
		{Text: "销售情况", Score: 0.95},
		{Text: "销售额", Score: 0.60},
	}})

	out, ok := e.Complete(context.Background(), "帮我查询一下今年北京的销", nil, 3)
	require.True(t, ok)
	require.Len(t, out, 2)
	assert.Equal(t, "帮我查询一下今年北京的销售情况", out[0].Text)
	assert.Equal(t, "oracle", out[0].Metadata["method"])
}

func TestCompleteDedupKeepsPageFull(t *testing.T) {
	lex := lexical.NewIndex(lexical.DefaultWeights(), zap.NewNop())
	// "revenue" and "Revenue" collapse to one suggestion; "revision" must
	// still fill the second slot instead of being cut before dedup.
	for _, d := range []lexical.Document{
		{ID: "a", Text: "revenue"},
		{ID: "b", Text: "Revenue"},
		{ID: "c", Text: "revision"},
	} {
		require.NoError(t, lex.Upsert(d))
	}
	e := NewEngine(lex, nil, DefaultConfig(), zap.NewNop())

	out, ok := e.Complete(context.Background(), "帮我查询一下今年北京的rev", nil, 2)
	require.True(t, ok)
	require.Len(t, out, 2)
	seen := map[string]bool{}
	for _, s := range out {
		key := suggest.DedupKey(s.Text)
		assert.False(t, seen[key], s.Text)
		seen[key] = true
	}
}

func TestCompleteOracleFailureFallsBack(t *testing.T) {
	e, _ := newEngine(t, stubOracle{err: errors.New("oracle down")})

	out, ok := e.Complete(context.Background(), "帮我查询一下今年北京的销", nil, 3)
	require.True(t, ok)
	require.NotEmpty(t, out)
	assert.Equal(t, "fallback", out[0].Metadata["method"])
}
