package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/embeddings"
	"github.com/chatbi-labs/queryassist/internal/lexical"
	"github.com/chatbi-labs/queryassist/internal/suggest"
	"github.com/chatbi-labs/queryassist/internal/vectorindex"
)

const testDim = 64

func newFixture(t *testing.T) (*Searcher, *lexical.Index, *vectorindex.Index, *embeddings.Service) {
	t.Helper()
	lex := lexical.NewIndex(lexical.DefaultWeights(), zap.NewNop())
	vec := vectorindex.NewIndex(testDim)
	emb, err := embeddings.NewService(embeddings.Config{Model: "test"}, embeddings.NewHashingEncoder(testDim))
	require.NoError(t, err)
	s := NewSearcher(lex, vec, DefaultConfig(), zap.NewNop())
	return s, lex, vec, emb
}

func index(t *testing.T, lex *lexical.Index, vec *vectorindex.Index, emb *embeddings.Service, id, text string, keywords ...string) {
	t.Helper()
	require.NoError(t, lex.Upsert(lexical.Document{ID: id, Text: text, Keywords: keywords}))
	v, err := emb.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, vec.Upsert(id, v))
}

func TestHybridBlendsBothLegs(t *testing.T) {
	s, lex, vec, emb := newFixture(t)
	index(t, lex, vec, emb, "1", "销售额", "销售")
	index(t, lex, vec, emb, "2", "销售额趋势分析", "销售")
	index(t, lex, vec, emb, "3", "市场分析")

	qv, err := emb.Embed(context.Background(), "销售")
	require.NoError(t, err)

	cands, err := s.Search(context.Background(), "销售", qv, DefaultWeights(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, cands)

	for _, c := range cands {
		switch c.ID {
		case "1", "2":
			assert.Equal(t, suggest.SourceHybrid, c.Source, "matched by both legs, must be hybrid")
		default:
			// Doc 3 shares no token with the query, so it can only surface
			// from the vector leg.
			assert.Equal(t, suggest.SourceVector, c.Source)
		}
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
	// One entry per id.
	seen := map[string]bool{}
	for _, c := range cands {
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}

func TestKeywordOnlyWhenNoEmbedding(t *testing.T) {
	s, lex, vec, emb := newFixture(t)
	index(t, lex, vec, emb, "1", "销售额", "销售")

	cands, err := s.Search(context.Background(), "销售", nil, DefaultWeights(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, suggest.SourceKeyword, cands[0].Source)
}

func TestVectorLegFailureDegradesToKeyword(t *testing.T) {
	s, lex, vec, emb := newFixture(t)
	index(t, lex, vec, emb, "1", "销售额", "销售")
	index(t, lex, vec, emb, "2", "销售额趋势分析", "销售")

	// Wrong dimension makes the vector leg fail while lexical still serves.
	badVec := make([]float32, testDim+1)
	cands, err := s.Search(context.Background(), "销售", badVec, DefaultWeights(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	for _, c := range cands {
		assert.Equal(t, suggest.SourceKeyword, c.Source)
	}
}

func TestBothLegsFailing(t *testing.T) {
	s, _, _, _ := newFixture(t)
	badVec := make([]float32, testDim+1)
	// Unmatchable empty-token query kills the lexical leg too.
	_, err := s.Search(context.Background(), "!!!", badVec, DefaultWeights(), 10)
	assert.Error(t, err)
}

func TestVectorOnlyWeights(t *testing.T) {
	s, lex, vec, emb := newFixture(t)
	index(t, lex, vec, emb, "1", "销售额")
	index(t, lex, vec, emb, "2", "市场分析")

	qv, err := emb.Embed(context.Background(), "销售额")
	require.NoError(t, err)

	cands, err := s.Search(context.Background(), "销售额", qv, Weights{Keyword: 0, Vector: 1}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "1", cands[0].ID)
	assert.Equal(t, suggest.SourceVector, cands[0].Source)
}

func TestDeterministicOrdering(t *testing.T) {
	s, lex, vec, emb := newFixture(t)
	index(t, lex, vec, emb, "1", "销售额", "销售")
	index(t, lex, vec, emb, "2", "销售额趋势分析", "销售")
	index(t, lex, vec, emb, "3", "销售情况", "销售")

	qv, err := emb.Embed(context.Background(), "销售")
	require.NoError(t, err)

	first, err := s.Search(context.Background(), "销售", qv, DefaultWeights(), 10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Search(context.Background(), "销售", qv, DefaultWeights(), 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHalfIndexedDocumentSkipped(t *testing.T) {
	s, _, vec, emb := newFixture(t)
	// Vector entry without a lexical record cannot be resolved to a text.
	v, err := emb.Embed(context.Background(), "orphan")
	require.NoError(t, err)
	require.NoError(t, vec.Upsert("ghost", v))

	cands, err := s.Search(context.Background(), "orphan", v, DefaultWeights(), 10)
	require.NoError(t, err)
	for _, c := range cands {
		assert.NotEqual(t, "ghost", c.ID)
	}
}
