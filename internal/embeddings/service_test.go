package embeddings

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEncoder wraps another encoder and counts Encode calls.
type countingEncoder struct {
	inner Encoder
	calls int
}

func (c *countingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.inner.Encode(ctx, texts)
}

func (c *countingEncoder) Dimension() int { return c.inner.Dimension() }

type failingEncoder struct{ dim int }

func (f failingEncoder) Encode(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("encoder down")
}

func (f failingEncoder) Dimension() int { return f.dim }

func l2(vec []float32) float64 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbedProducesUnitVector(t *testing.T) {
	svc, err := NewService(Config{Model: "test"}, NewHashingEncoder(64))
	require.NoError(t, err)

	for _, text := range []string{"销售额", "monthly revenue", "帮我查询一下今年北京的销售额"} {
		vec, err := svc.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, vec, 64)
		assert.InDelta(t, 1.0, l2(vec), 1e-6)
	}
}

func TestEmbedDeterministic(t *testing.T) {
	svc, err := NewService(Config{Model: "test"}, NewHashingEncoder(64))
	require.NoError(t, err)

	a, err := svc.Embed(context.Background(), "销售额趋势")
	require.NoError(t, err)
	b, err := svc.Embed(context.Background(), "销售额趋势")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedBatchUsesCache(t *testing.T) {
	enc := &countingEncoder{inner: NewHashingEncoder(32)}
	svc, err := NewService(Config{Model: "test"}, enc)
	require.NoError(t, err)

	_, err = svc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, enc.calls)

	// Second call is fully served from cache.
	_, err = svc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, enc.calls)

	// Mixed batch encodes only the uncached text.
	out, err := svc.EmbedBatch(context.Background(), []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, enc.calls)
	assert.Len(t, out, 2)
}

func TestEmbedEmptyText(t *testing.T) {
	svc, err := NewService(Config{Model: "test"}, NewHashingEncoder(32))
	require.NoError(t, err)

	_, err = svc.EmbedBatch(context.Background(), []string{"ok", "   "})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestEmbedTruncatesLongInput(t *testing.T) {
	svc, err := NewService(Config{Model: "test", MaxInputChars: 8}, NewHashingEncoder(32))
	require.NoError(t, err)

	long, err := svc.Embed(context.Background(), strings.Repeat("销", 100))
	require.NoError(t, err)
	short, err := svc.Embed(context.Background(), strings.Repeat("销", 8))
	require.NoError(t, err)
	assert.Equal(t, short, long)
}

func TestTruncateAtTokenBoundary(t *testing.T) {
	svc, err := NewService(Config{Model: "test", MaxInputChars: 8}, NewHashingEncoder(32))
	require.NoError(t, err)

	// A plain rune cut would land inside "revenue"; truncation backs off to
	// the end of "monthly" instead.
	long, err := svc.Embed(context.Background(), "monthly revenue totals")
	require.NoError(t, err)
	word, err := svc.Embed(context.Background(), "monthly")
	require.NoError(t, err)
	assert.Equal(t, word, long)
}

func TestEmbedWhitespaceOnlyRejected(t *testing.T) {
	svc, err := NewService(Config{Model: "test"}, NewHashingEncoder(32))
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "\t \n")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestEmbedEncoderFailure(t *testing.T) {
	svc, err := NewService(Config{Model: "test", Dimension: 16}, failingEncoder{dim: 16})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "anything")
	assert.Error(t, err)
}

func TestDimensionMismatchRejected(t *testing.T) {
	_, err := NewService(Config{Model: "test", Dimension: 100}, NewHashingEncoder(64))
	assert.Error(t, err)
}

func TestLocalLRUEviction(t *testing.T) {
	lru := NewLocalLRU(2)
	lru.Set("a", []float32{1}, time.Hour)
	lru.Set("b", []float32{2}, time.Hour)
	lru.Set("c", []float32{3}, time.Hour)

	_, ok := lru.Get("a")
	assert.False(t, ok)
	_, ok = lru.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, lru.Len())
}
