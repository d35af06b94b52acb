package content

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertIdempotence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	modAt := time.Now()

	r1, err := s.Upsert(ctx, "notes", "a.md", "A", "hello world", modAt)
	require.NoError(t, err)
	require.Equal(t, StatusInserted, r1.Status)

	r2, err := s.Upsert(ctx, "notes", "a.md", "A", "hello world", modAt)
	require.NoError(t, err)
	require.Equal(t, StatusUnchanged, r2.Status)
	require.Equal(t, r1.Hash, r2.Hash)

	doc, err := s.LookupByPath(ctx, "notes", "a.md")
	require.NoError(t, err)
	require.True(t, doc.Active)
	require.Equal(t, r1.Hash, doc.Hash)

	// Exactly one active row for the slot.
	var count int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ? AND path = ? AND active = 1`,
		"notes", "a.md").Scan(&count))
	require.Equal(t, 1, count)
}

func TestUpsertReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	modAt := time.Now()

	r1, err := s.Upsert(ctx, "notes", "a.md", "A", "version one", modAt)
	require.NoError(t, err)
	require.Equal(t, StatusInserted, r1.Status)

	r2, err := s.Upsert(ctx, "notes", "a.md", "A", "version two", modAt.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, StatusReplaced, r2.Status)
	require.NotEqual(t, r1.Hash, r2.Hash)

	doc, err := s.LookupByPath(ctx, "notes", "a.md")
	require.NoError(t, err)
	require.Equal(t, r2.Hash, doc.Hash)

	body, err := s.LookupByHash(ctx, r1.Hash)
	require.NoError(t, err)
	require.Equal(t, "version one", body)
}

func TestDeactivateAndGC(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.Upsert(ctx, "notes", "a.md", "A", "only here", time.Now())
	require.NoError(t, err)

	require.NoError(t, s.Deactivate(ctx, "notes", "a.md"))

	_, err = s.LookupByPath(ctx, "notes", "a.md")
	require.Error(t, err)

	stats, err := s.GC(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ContentRowsRemoved)

	_, err = s.LookupByHash(ctx, r.Hash)
	require.Error(t, err)
}

func TestContentHashDeterministic(t *testing.T) {
	h1 := ContentHash("the same string")
	h2 := ContentHash("the same string")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, ContentHash("a different string"))
}

func TestDocIDLookupResolvesUniquePrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Two bodies sharing a 6-hex-char hash prefix are impractical to craft,
	// so this checks the common case: a unique prefix resolves to the right
	// document.
	r, err := s.Upsert(ctx, "notes", "a.md", "A", "unique body for docid test", time.Now())
	require.NoError(t, err)

	doc, err := s.LookupByDocID(ctx, r.Hash[:6])
	require.NoError(t, err)
	require.Equal(t, "a.md", doc.Path)
}

func TestPathContextLongestPrefixWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPathContext(ctx, "notes", "", "generic context"))
	require.NoError(t, s.SetPathContext(ctx, "notes", "projects/", "project context"))
	require.NoError(t, s.SetPathContext(ctx, "notes", "projects/alpha/", "alpha context"))

	got, err := s.ContextFor(ctx, "notes", "projects/alpha/readme.md")
	require.NoError(t, err)
	require.Equal(t, "alpha context", got)

	got, err = s.ContextFor(ctx, "notes", "projects/beta/readme.md")
	require.NoError(t, err)
	require.Equal(t, "project context", got)

	got, err = s.ContextFor(ctx, "notes", "misc.md")
	require.NoError(t, err)
	require.Equal(t, "generic context", got)
}

func TestSearchHistoryAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSearch(ctx, "keyword", "golang channels", 3, "notes"))
	require.NoError(t, s.RecordSearch(ctx, "deep", "how does rrf work", 5, "notes"))

	entries, err := s.RecentSearches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "deep", entries[0].CommandKind)
	require.Equal(t, "keyword", entries[1].CommandKind)
}

func TestCollectionsUniqueName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, "notes", "/home/user/notes", "**/*.md", "personal notes")
	require.NoError(t, err)

	_, err = s.CreateCollection(ctx, "notes", "/home/user/other", "**/*.md", "")
	require.Error(t, err)

	c, err := s.GetCollection(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, "/home/user/notes", c.Root)
}
