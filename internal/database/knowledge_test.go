package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/groupmind/internal/database"
)

func chunk(group, key, text string, vec []float32, at time.Time) *database.KnowledgeChunk {
	return &database.KnowledgeChunk{
		GroupID:   group,
		SourceKey: key,
		Text:      text,
		Embedding: vec,
		CreatedAt: at,
	}
}

func TestKnowledgeSearch_GroupIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := database.NewKnowledgeIndex(newTestDB(t), 3, nil)

	vec := []float32{1, 0, 0}
	require.NoError(t, index.Add(ctx,
		chunk("A", "a1", "the venue is Riverside Hall", vec, baseTime),
		chunk("B", "b1", "the venue is Riverside Hall", vec, baseTime),
	))

	got, err := index.Search(ctx, "A", vec, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Chunk.GroupID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)

	empty, err := index.Search(ctx, "C", vec, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestKnowledgeSearch_RankingAndTies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := database.NewKnowledgeIndex(newTestDB(t), 2, nil)

	require.NoError(t, index.Add(ctx,
		chunk("g", "far", "far", []float32{0, 1}, baseTime),
		chunk("g", "old-tie", "old", []float32{1, 0}, baseTime),
		chunk("g", "new-tie", "new", []float32{2, 0}, baseTime.Add(time.Hour)),
		chunk("g", "mid", "mid", []float32{1, 1}, baseTime),
	))

	got, err := index.Search(ctx, "g", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "new", got[0].Chunk.Text)
	assert.Equal(t, "old", got[1].Chunk.Text)
	assert.Equal(t, "mid", got[2].Chunk.Text)
	assert.GreaterOrEqual(t, got[1].Similarity, got[2].Similarity)
}

func TestKnowledgeSearch_Supersession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := database.NewKnowledgeIndex(newTestDB(t), 2, nil)

	require.NoError(t, index.Add(ctx, chunk("g", "topic", "first draft", []float32{1, 0}, baseTime)))
	require.NoError(t, index.Add(ctx, chunk("g", "topic", "revised", []float32{1, 0}, baseTime.Add(time.Minute))))

	got, err := index.Search(ctx, "g", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "revised", got[0].Chunk.Text)

	n, err := index.Count(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKnowledge_DimensionMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := database.NewKnowledgeIndex(newTestDB(t), 3, nil)

	err := index.Add(ctx, chunk("g", "k", "x", []float32{1, 0}, baseTime))
	assert.ErrorIs(t, err, database.ErrDimensionMismatch)

	_, err = index.Search(ctx, "g", []float32{1}, 3)
	assert.ErrorIs(t, err, database.ErrDimensionMismatch)
}

func TestKnowledgeAdd_FillsIDAndKeepsSources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := database.NewKnowledgeIndex(newTestDB(t), 2, nil)

	c := chunk("g", "k", "x", []float32{1, 0}, time.Time{})
	c.SourceMessageIDs = []string{"m1", "m2"}
	require.NoError(t, index.Add(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := index.Search(ctx, "g", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].Chunk.ID)
	assert.Equal(t, []string{"m1", "m2"}, got[0].Chunk.SourceMessageIDs)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := database.CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := database.CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, database.ErrDimensionMismatch)
}
