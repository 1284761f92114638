package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndSearch(t *testing.T) {
	ix := NewIndex(3)
	require.NoError(t, ix.Upsert("a", []float32{1, 0, 0}))
	require.NoError(t, ix.Upsert("b", []float32{0, 1, 0}))
	require.NoError(t, ix.Upsert("c", []float32{0.707, 0.707, 0}))

	hits, err := ix.Search(context.Background(), []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "c", hits[1].ID)
}

func TestSearchTiebreakByID(t *testing.T) {
	ix := NewIndex(2)
	require.NoError(t, ix.Upsert("z", []float32{1, 0}))
	require.NoError(t, ix.Upsert("a", []float32{1, 0}))

	hits, err := ix.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "z", hits[1].ID)
}

func TestDimensionMismatch(t *testing.T) {
	ix := NewIndex(3)
	assert.ErrorIs(t, ix.Upsert("a", []float32{1, 0}), ErrDimMismatch)

	_, err := ix.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestUpsertOverwrites(t *testing.T) {
	ix := NewIndex(2)
	require.NoError(t, ix.Upsert("a", []float32{1, 0}))
	require.NoError(t, ix.Upsert("a", []float32{0, 1}))
	assert.Equal(t, 1, ix.Len())

	hits, err := ix.Search(context.Background(), []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestUpsertCopiesVector(t *testing.T) {
	ix := NewIndex(2)
	vec := []float32{1, 0}
	require.NoError(t, ix.Upsert("a", vec))
	vec[0] = 0

	hits, err := ix.Search(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestEmptyID(t *testing.T) {
	ix := NewIndex(2)
	assert.ErrorIs(t, ix.Upsert("", []float32{1, 0}), ErrEmptyID)
}
