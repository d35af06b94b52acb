package retrieval

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/qmd-dev/qmd/internal/chunk"
	"github.com/qmd-dev/qmd/internal/ftsindex"
	"github.com/qmd-dev/qmd/internal/gateway"
	"github.com/qmd-dev/qmd/internal/query"
	"github.com/qmd-dev/qmd/internal/vector"
)

// DefaultVectorOverfetch is the multiplier applied to the requested
// limit when asking the vector index for candidates, to give fusion and
// per-document chunk-best-selection enough raw material (spec.md §4.6.2).
const DefaultVectorOverfetch = 4

// DefaultRerankTopN bounds how many fused results are sent to the
// reranker (spec.md §4.6.3 step 6 keeps body truncation and candidate
// count small for latency).
const DefaultRerankTopN = 20

// SnippetMaxLen is the maxLen passed to ExtractSnippet for enriched results.
const SnippetMaxLen = 500

// rerankBodyCap is the per-document body length sent to the reranker.
const rerankBodyCap = 500

// Pipeline wires the FTS index, vector index, and Gateway into the three
// search modes of spec.md §4.6.
type Pipeline struct {
	Lex   *ftsindex.Index
	Vec   *vector.Store
	GW    gateway.Gateway
	Docs  DocumentSource
	Scope func(hash string) (collection string, ok bool) // vector.CollectionLookup adapter
}

// Keyword runs lexical-only search (spec.md §4.6.1).
func (p *Pipeline) Keyword(ctx context.Context, req Request) ([]SearchResult, error) {
	compiled, err := query.CompileLex(req.Query)
	if err != nil {
		return nil, err
	}
	if compiled == "" {
		return nil, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	hits, err := p.Lex.Search(ctx, compiled, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		sr, ok, err := p.enrich(h.DocID, h.NormScore, "fts", req)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, sr)
		}
	}
	return filterResults(results, req), nil
}

// Semantic runs vector-only search, grouping by document hash and
// keeping the best-scoring chunk per document (spec.md §4.6.2).
func (p *Pipeline) Semantic(ctx context.Context, req Request) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	embedding, err := p.GW.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := p.Vec.Search(ctx, embedding, limit*DefaultVectorOverfetch, req.Collections, p.Scope)
	if err != nil {
		return nil, err
	}

	best := p.bestChunkPerDocument(hits, req)
	results := make([]SearchResult, 0, len(best))
	for hash, h := range best {
		sr, ok, err := p.enrich(hash, float64(h.Score), "vec", req)
		if err != nil {
			return nil, err
		}
		if ok {
			sr.ChunkPos = h.Pos
			results = append(results, sr)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return filterResults(results, req), nil
}

type chunkHit struct {
	Score float32
	Pos   int
}

// bestChunkPerDocument groups hits by document hash and keeps one
// candidate chunk per document. With no intent to bias toward, the
// highest raw cosine score wins (the common case, and the only one
// exercised when req.Intent is empty). With an intent set and more than
// one candidate chunk for a document, candidates are re-scored against
// the document's reconstructed chunk text via ScoreChunk (spec.md §4.6.4,
// §8 invariant 6) instead of relying on cosine similarity alone.
func (p *Pipeline) bestChunkPerDocument(hits []vector.Result, req Request) map[string]chunkHit {
	byHash := make(map[string][]vector.Result)
	order := make([]string, 0)
	for _, h := range hits {
		if _, ok := byHash[h.Key.Hash]; !ok {
			order = append(order, h.Key.Hash)
		}
		byHash[h.Key.Hash] = append(byHash[h.Key.Hash], h)
	}

	queryTerms := ExtractTerms(req.Query)
	intentTerms := ExtractIntentTerms(req.Intent)

	best := make(map[string]chunkHit, len(order))
	for _, hash := range order {
		candidates := byHash[hash]
		best[hash] = bestByScore(candidates)

		if req.Intent == "" || len(candidates) < 2 || p.Docs == nil {
			continue
		}
		if rescored, ok := p.rescoreByIntent(hash, candidates, queryTerms, intentTerms); ok {
			best[hash] = rescored
		}
	}
	return best
}

func bestByScore(candidates []vector.Result) chunkHit {
	var best chunkHit
	for i, h := range candidates {
		if i == 0 || h.Score > best.Score {
			best = chunkHit{Score: h.Score, Pos: h.Key.Seq}
		}
	}
	return best
}

// rescoreByIntent re-derives each candidate chunk's text from the
// document body and picks the one ScoreChunk ranks highest, falling back
// to false (caller keeps the cosine-best choice) when the body can't be
// read or re-chunked to the candidate's sequence number.
func (p *Pipeline) rescoreByIntent(hash string, candidates []vector.Result, queryTerms, intentTerms []string) (chunkHit, bool) {
	meta, ok, err := p.Docs.LookupMetaByHash(hash)
	if err != nil || !ok {
		return chunkHit{}, false
	}
	chunks := chunk.Split(meta.Body, chunk.DefaultOptions())
	bySeq := make(map[int]string, len(chunks))
	for _, c := range chunks {
		bySeq[c.Seq] = c.Text
	}

	var (
		best      chunkHit
		bestScore float64
		found     bool
	)
	for _, cand := range candidates {
		text, ok := bySeq[cand.Key.Seq]
		if !ok {
			continue
		}
		score := ScoreChunk(text, queryTerms, intentTerms)
		if !found || score > bestScore {
			best = chunkHit{Score: cand.Score, Pos: cand.Key.Seq}
			bestScore = score
			found = true
		}
	}
	return best, found
}

// Deep runs the hybrid pipeline (spec.md §4.6.3): expand the query into
// typed sub-queries, search each on its channel concurrently, fuse by
// RRF, then either take the strong-signal bypass or rerank.
func (p *Pipeline) Deep(ctx context.Context, req Request) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	subQueries, err := p.expand(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	lists, err := p.runChannels(ctx, subQueries, req)
	if err != nil {
		return nil, err
	}

	fused := Fuse(lists, DefaultRRFK)
	if len(fused) == 0 {
		return nil, nil
	}

	if StrongSignalBypass(fused, req.Intent) {
		return p.enrichFused(fused, req, limit)
	}

	topN := DefaultRerankTopN
	if len(fused) < topN {
		topN = len(fused)
	}
	if p.GW != nil && topN > 2 {
		reranked, rerr := p.rerank(ctx, req.Query, fused[:topN])
		if rerr != nil {
			// Degrade gracefully: keep the pre-rerank fused order (spec.md §7
			// propagation policy for expansion/rerank subcall failures).
			fused = fused[:topN]
		} else {
			fused = reranked
		}
	}

	return p.enrichFused(fused, req, limit)
}

type weightedSubQuery struct {
	kind   query.Kind
	body   string
	weight float64
}

// expand calls Gateway.ExpandQuery and folds the user's original query in
// as a lex: sub-query with weight 2.0, guaranteeing a lexical channel
// (spec.md §4.6.3 step 1).
func (p *Pipeline) expand(ctx context.Context, q string) ([]weightedSubQuery, error) {
	subs := []weightedSubQuery{{kind: query.KindLex, body: q, weight: 2.0}}

	if p.GW == nil {
		return subs, nil
	}
	expansions, err := p.GW.ExpandQuery(ctx, q, 3)
	if err != nil {
		return subs, nil // degrade gracefully, original query still searches
	}
	for _, e := range expansions {
		if strings.TrimSpace(e.Text) == "" || e.Text == q {
			continue
		}
		subs = append(subs, weightedSubQuery{kind: expansionToQueryKind(e.Kind), body: e.Text, weight: 1.0})
	}
	return subs, nil
}

// expansionToQueryKind maps the Gateway's expansion tag onto the
// retrieval channel it should run on, defaulting unrecognized kinds to
// the semantic channel.
func expansionToQueryKind(k gateway.ExpansionKind) query.Kind {
	switch k {
	case gateway.ExpansionLex:
		return query.KindLex
	case gateway.ExpansionHyde:
		return query.KindHyde
	default:
		return query.KindVec
	}
}

func (p *Pipeline) runChannels(ctx context.Context, subs []weightedSubQuery, req Request) ([]RankedList, error) {
	lists := make([]RankedList, len(subs))
	g, gctx := errgroup.WithContext(ctx)

	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			hits, source, err := p.searchChannel(gctx, sub, req)
			if err != nil {
				return err
			}
			lists[i] = RankedList{Source: source, Weight: sub.weight, Hits: hits}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

func (p *Pipeline) searchChannel(ctx context.Context, sub weightedSubQuery, req Request) ([]Hit, string, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	switch sub.kind {
	case query.KindLex:
		compiled, err := query.CompileLex(sub.body)
		if err != nil || compiled == "" {
			return nil, "fts", nil
		}
		fhits, err := p.Lex.Search(ctx, compiled, limit*DefaultVectorOverfetch)
		if err != nil {
			return nil, "fts", err
		}
		hits := make([]Hit, len(fhits))
		for i, h := range fhits {
			hits[i] = Hit{Hash: h.DocID, Score: h.NormScore}
		}
		return hits, "fts", nil

	case query.KindHyde:
		passage, err := p.GW.Generate(ctx, sub.body)
		if err != nil {
			return nil, "hyde", nil
		}
		return p.semanticHits(ctx, passage, req, limit)

	default: // KindVec
		return p.semanticHits(ctx, sub.body, req, limit)
	}
}

func (p *Pipeline) semanticHits(ctx context.Context, text string, req Request, limit int) ([]Hit, string, error) {
	embedding, err := p.GW.Embed(ctx, text)
	if err != nil {
		return nil, "vec", err
	}
	vhits, err := p.Vec.Search(ctx, embedding, limit*DefaultVectorOverfetch, req.Collections, p.Scope)
	if err != nil {
		return nil, "vec", err
	}
	best := p.bestChunkPerDocument(vhits, req)
	hits := make([]Hit, 0, len(best))
	for hash, h := range best {
		hits = append(hits, Hit{Hash: hash, Score: float64(h.Score)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, "vec", nil
}

// rerank sends up to topN fused hits' truncated bodies to the Gateway
// reranker and reassigns scores as 1 - rank/N (spec.md §4.6.3 step 6).
func (p *Pipeline) rerank(ctx context.Context, queryText string, fused []FusedHit) ([]FusedHit, error) {
	docs := make([]string, len(fused))
	for i, fh := range fused {
		meta, ok, err := p.Docs.LookupMetaByHash(fh.Hash)
		if err != nil {
			return nil, err
		}
		if ok {
			docs[i] = truncateForRerank(meta.Body)
		}
	}

	reranked, err := p.GW.Rerank(ctx, queryText, docs)
	if err != nil {
		return nil, err
	}
	sort.Slice(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })

	n := len(reranked)
	out := make([]FusedHit, n)
	for rank, r := range reranked {
		fh := fused[r.Index]
		fh.RRFScore = 1 - float64(rank)/float64(n)
		out[rank] = fh
	}
	return out, nil
}

func truncateForRerank(body string) string {
	collapsed := strings.Join(strings.Fields(strings.ReplaceAll(body, "\n", " ")), " ")
	runes := []rune(collapsed)
	if len(runes) > rerankBodyCap {
		runes = runes[:rerankBodyCap]
	}
	return string(runes)
}

func (p *Pipeline) enrichFused(fused []FusedHit, req Request, limit int) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(fused))
	for _, fh := range fused {
		sr, ok, err := p.enrich(fh.Hash, fh.RRFScore, "deep", req)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, sr)
		}
	}
	results = filterResults(results, req)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (p *Pipeline) enrich(hash string, score float64, source string, req Request) (SearchResult, bool, error) {
	meta, ok, err := p.Docs.LookupMetaByHash(hash)
	if err != nil || !ok {
		return SearchResult{}, false, err
	}

	snippet, line := ExtractSnippet(meta.Body, req.Query, req.Intent, SnippetMaxLen)
	return SearchResult{
		DocID:       meta.DocID,
		Title:       meta.Title,
		DisplayPath: meta.DisplayPath,
		Collection:  meta.Collection,
		ModifiedAt:  meta.ModifiedAt,
		Score:       score,
		Source:      source,
		Snippet:     snippet,
		SnippetLine: line,
	}, true, nil
}

func filterResults(results []SearchResult, req Request) []SearchResult {
	if req.MinScore <= 0 && len(req.Collections) == 0 {
		return results
	}
	filter := make(map[string]bool, len(req.Collections))
	for _, c := range req.Collections {
		filter[c] = true
	}
	out := results[:0]
	for _, r := range results {
		if len(filter) > 0 && !filter[r.Collection] {
			continue
		}
		if r.Score < req.MinScore {
			continue
		}
		out = append(out, r)
	}
	return out
}
