package ftsindex

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idx, err := Open(db)
	require.NoError(t, err)
	return idx
}

func TestUpsertAndSearchFindsMatch(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "doc1", "Go Channels", "channels are a core concurrency primitive in golang"))
	require.NoError(t, idx.Upsert(ctx, "doc2", "Baking Bread", "sourdough starter needs regular feeding"))

	results, err := idx.Search(ctx, "channels", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "doc1", results[0].DocID)
	require.InDelta(t, 1.0, results[0].NormScore, 0.0001)
}

func TestUpsertReplacesPreviousContent(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "doc1", "v1", "alpha content"))
	require.NoError(t, idx.Upsert(ctx, "doc1", "v2", "beta content"))

	results, err := idx.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = idx.Search(ctx, "beta", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRemoveDropsDocumentFromIndex(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "doc1", "title", "unique searchable term"))
	require.NoError(t, idx.Remove(ctx, "doc1"))

	results, err := idx.Search(ctx, "unique", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchNormalizesScoresAgainstTopHit(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "doc1", "t", "golang golang golang concurrency"))
	require.NoError(t, idx.Upsert(ctx, "doc2", "t", "golang basics"))

	results, err := idx.Search(ctx, "golang", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.InDelta(t, 1.0, results[0].NormScore, 0.0001)
	require.LessOrEqual(t, results[1].NormScore, results[0].NormScore)
}

func TestSearchEmptyQueryReturnsNoResults(t *testing.T) {
	idx := openTestIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
