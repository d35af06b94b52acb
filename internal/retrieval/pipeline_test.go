package retrieval

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qmd-dev/qmd/internal/ftsindex"
	"github.com/qmd-dev/qmd/internal/gateway"
	"github.com/qmd-dev/qmd/internal/vector"

	_ "modernc.org/sqlite"
)

// stubGateway is a fixed Gateway double driven entirely by its fields, so
// each test can pin exactly the expansion/rerank/generate behavior it
// needs without a real provider.
type stubGateway struct {
	embeddings map[string][]float32
	expansions []gateway.Expansion
	generated  string
	rerank     func(query string, docs []string) ([]gateway.RerankResult, error)
}

func (g *stubGateway) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := g.embeddings[text]; ok {
		return v, nil
	}
	return []float32{0, 0}, nil
}

func (g *stubGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := g.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (g *stubGateway) ExpandQuery(_ context.Context, _ string, _ int) ([]gateway.Expansion, error) {
	return g.expansions, nil
}

func (g *stubGateway) Rerank(_ context.Context, query string, docs []string) ([]gateway.RerankResult, error) {
	if g.rerank != nil {
		return g.rerank(query, docs)
	}
	out := make([]gateway.RerankResult, len(docs))
	for i := range docs {
		out[i] = gateway.RerankResult{Index: i, Score: float64(len(docs) - i)}
	}
	return out, nil
}

func (g *stubGateway) Generate(_ context.Context, _ string) (string, error) {
	return g.generated, nil
}

func (g *stubGateway) ModelInfo() gateway.ModelInfo {
	return gateway.ModelInfo{Backend: "stub", EmbedModel: "stub-embed", Dimensions: 2}
}

var _ gateway.Gateway = (*stubGateway)(nil)

// stubDocs is a fixed DocumentSource double keyed by content hash.
type stubDocs map[string]DocumentMeta

func (s stubDocs) LookupMetaByHash(hash string) (DocumentMeta, bool, error) {
	m, ok := s[hash]
	return m, ok, nil
}

func openTestLex(t *testing.T) *ftsindex.Index {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idx, err := ftsindex.Open(db)
	require.NoError(t, err)
	return idx
}

func TestRerankReordersByGatewayScoreAndRescalesByRank(t *testing.T) {
	ctx := context.Background()
	fused := []FusedHit{{Hash: "a"}, {Hash: "b"}, {Hash: "c"}}
	docs := stubDocs{
		"a": {Body: "alpha body"},
		"b": {Body: "beta body"},
		"c": {Body: "gamma body"},
	}
	gw := &stubGateway{
		rerank: func(_ string, _ []string) ([]gateway.RerankResult, error) {
			return []gateway.RerankResult{
				{Index: 2, Score: 3},
				{Index: 0, Score: 2},
				{Index: 1, Score: 1},
			}, nil
		},
	}
	p := &Pipeline{GW: gw, Docs: docs}

	out, err := p.rerank(ctx, "query text", fused)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "c", out[0].Hash)
	assert.InDelta(t, 1.0, out[0].RRFScore, 1e-9)
	assert.Equal(t, "a", out[1].Hash)
	assert.InDelta(t, 2.0/3.0, out[1].RRFScore, 1e-9)
	assert.Equal(t, "b", out[2].Hash)
	assert.InDelta(t, 1.0/3.0, out[2].RRFScore, 1e-9)
}

func TestRerankTruncatesBodyBeforeSendingToGateway(t *testing.T) {
	ctx := context.Background()
	longBody := strings.Repeat("word ", 400)
	fused := []FusedHit{{Hash: "only"}}
	docs := stubDocs{"only": {Body: longBody}}

	var seenDocs []string
	gw := &stubGateway{
		rerank: func(_ string, docs []string) ([]gateway.RerankResult, error) {
			seenDocs = docs
			return []gateway.RerankResult{{Index: 0, Score: 1}}, nil
		},
	}
	p := &Pipeline{GW: gw, Docs: docs}

	_, err := p.rerank(ctx, "q", fused)
	require.NoError(t, err)
	require.Len(t, seenDocs, 1)
	assert.LessOrEqual(t, len([]rune(seenDocs[0])), rerankBodyCap)
}

// TestDeepBypassesRerankWhenOnlyOneStrongResult grounds the single-result
// strong-signal bypass: one matching document normalizes its own score to
// 1.0 and trivially clears both thresholds, so Deep must return it without
// ever calling the reranker.
func TestDeepBypassesRerankWhenOnlyOneStrongResult(t *testing.T) {
	ctx := context.Background()
	idx := openTestLex(t)
	require.NoError(t, idx.Upsert(ctx, "only", "Title", "golang channels are great for concurrency"))
	docs := stubDocs{"only": {DocID: "only", Title: "Title", Body: "golang channels are great for concurrency"}}

	gw := &stubGateway{
		rerank: func(_ string, _ []string) ([]gateway.RerankResult, error) {
			t.Fatal("rerank should not be called when the strong-signal bypass triggers")
			return nil, nil
		},
	}

	p := &Pipeline{Lex: idx, GW: gw, Docs: docs}
	results, err := p.Deep(ctx, Request{Query: "golang channels", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "only", results[0].DocID)
}

// TestDeepFallsThroughToRerankWhenGapBelowThreshold grounds the
// fall-through side of the boundary: three documents with identical
// content tie in the lexical channel, so their RRF scores differ only by
// rank and the gap to the runner-up is far below 0.15, forcing Deep to
// rerank instead of bypassing.
func TestDeepFallsThroughToRerankWhenGapBelowThreshold(t *testing.T) {
	ctx := context.Background()
	idx := openTestLex(t)
	body := "golang channels concurrency notes"
	require.NoError(t, idx.Upsert(ctx, "d1", "One", body))
	require.NoError(t, idx.Upsert(ctx, "d2", "Two", body))
	require.NoError(t, idx.Upsert(ctx, "d3", "Three", body))

	docs := stubDocs{
		"d1": {DocID: "d1", Title: "One", Body: body},
		"d2": {DocID: "d2", Title: "Two", Body: body},
		"d3": {DocID: "d3", Title: "Three", Body: body},
	}

	var rerankCalled bool
	gw := &stubGateway{
		rerank: func(_ string, docs []string) ([]gateway.RerankResult, error) {
			rerankCalled = true
			out := make([]gateway.RerankResult, len(docs))
			for i := range docs {
				out[i] = gateway.RerankResult{Index: i, Score: float64(len(docs) - i)}
			}
			return out, nil
		},
	}

	p := &Pipeline{Lex: idx, GW: gw, Docs: docs}
	results, err := p.Deep(ctx, Request{Query: "golang channels", Limit: 10})
	require.NoError(t, err)
	assert.True(t, rerankCalled, "near-tied identical documents should fall through to rerank rather than bypass")
	assert.Len(t, results, 3)
}

// TestRunChannelsHandlesMoreThanTwoExpansionLists grounds multi-expansion
// fusion: the original lexical query plus three typed expansions (vec,
// hyde, lex) produce four independent ranked lists that all fuse without
// losing either candidate document.
func TestRunChannelsHandlesMoreThanTwoExpansionLists(t *testing.T) {
	ctx := context.Background()
	idx := openTestLex(t)
	require.NoError(t, idx.Upsert(ctx, "docA", "Golang Channels", "golang channels are a concurrency primitive"))
	require.NoError(t, idx.Upsert(ctx, "docB", "Bread Recipe", "sourdough bread needs a levain starter"))

	vec := vector.New(vector.DefaultConfig())
	require.NoError(t, vec.Upsert(ctx, vector.Key{Hash: "docA", Seq: 0}, 0, "stub", []float32{1, 0}))
	require.NoError(t, vec.Upsert(ctx, vector.Key{Hash: "docB", Seq: 0}, 0, "stub", []float32{0, 1}))

	gw := &stubGateway{
		embeddings: map[string][]float32{
			"vecq":         {1, 0},
			"hyde-passage": {0, 1},
		},
		generated: "hyde-passage",
		expansions: []gateway.Expansion{
			{Kind: gateway.ExpansionVec, Text: "vecq"},
			{Kind: gateway.ExpansionHyde, Text: "hydeq"},
			{Kind: gateway.ExpansionLex, Text: "bread"},
		},
	}

	p := &Pipeline{Lex: idx, Vec: vec, GW: gw}

	subs, err := p.expand(ctx, "golang channels")
	require.NoError(t, err)
	require.Len(t, subs, 4, "original query plus three typed expansions")

	lists, err := p.runChannels(ctx, subs, Request{Limit: 10})
	require.NoError(t, err)
	require.Len(t, lists, 4)

	fused := Fuse(lists, DefaultRRFK)
	seen := make(map[string]bool, len(fused))
	for _, fh := range fused {
		seen[fh.Hash] = true
	}
	assert.True(t, seen["docA"], "lexical and vec/hyde channels should all surface docA")
	assert.True(t, seen["docB"], "the bread expansion channel should surface docB despite no lexical match on the original query")
}
