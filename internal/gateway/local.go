package gateway

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// LocalDimensions matches common remote embedding dimensions so that an
// index built locally can later be compared (dimension-wise, not
// semantically) against a dimension-compatible remote model.
const LocalDimensions = 768

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true,
	"is": true, "are": true, "and": true, "or": true, "for": true, "on": true,
	"with": true, "that": true, "this": true, "it": true, "as": true, "at": true,
	"by": true, "be": true, "was": true, "were": true, "from": true,
}

// Local is a deterministic, dependency-free Gateway implementation: hash
// projected embeddings, cosine-similarity reranking, and trivial
// expansion/generation. It exists so QMD is fully usable offline without
// any remote provider, and so index scope has a well-defined local
// identity (spec.md §8 scenario E).
type Local struct {
	mu     sync.RWMutex
	closed bool
}

var _ Gateway = (*Local)(nil)

// NewLocal constructs the local deterministic gateway.
func NewLocal() *Local {
	return &Local{}
}

// Embed generates a hash-projected embedding for text.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, LocalDimensions), nil
	}
	return normalize(project(trimmed)), nil
}

// EmbedBatch embeds each text independently; the local provider has no
// batching advantage, so this is a simple loop.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// expansionKindCycle is the order Local tags successive variants in:
// one vec channel, one hyde channel, then lex, repeating if n exceeds
// three (spec.md §4.4 "each tagged lex|vec|hyde").
var expansionKindCycle = []ExpansionKind{ExpansionVec, ExpansionHyde, ExpansionLex}

// ExpandQuery deterministically derives up to n reformulations of query
// from its non-stop-word tokens (all but the first, all but the last, and
// all in sorted order, skipping duplicates), giving
// the hybrid pipeline additional lexical/semantic/HyDE channels to fuse
// (spec.md §4.4) without requiring a remote LLM.
func (l *Local) ExpandQuery(_ context.Context, query string, n int) ([]Expansion, error) {
	if n <= 0 {
		return nil, nil
	}
	tokens := significantTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	variants := make([]string, 0, n)
	seen := map[string]bool{strings.Join(tokens, " "): true}

	if len(tokens) > 1 {
		dropFirst := strings.Join(tokens[1:], " ")
		if !seen[dropFirst] {
			variants = append(variants, dropFirst)
			seen[dropFirst] = true
		}
	}
	if len(tokens) > 1 && len(variants) < n {
		dropLast := strings.Join(tokens[:len(tokens)-1], " ")
		if !seen[dropLast] {
			variants = append(variants, dropLast)
			seen[dropLast] = true
		}
	}
	if len(variants) < n {
		sorted := append([]string(nil), tokens...)
		sort.Strings(sorted)
		reordered := strings.Join(sorted, " ")
		if !seen[reordered] {
			variants = append(variants, reordered)
			seen[reordered] = true
		}
	}
	if len(variants) > n {
		variants = variants[:n]
	}

	out := make([]Expansion, len(variants))
	for i, v := range variants {
		out[i] = Expansion{Kind: expansionKindCycle[i%len(expansionKindCycle)], Text: v}
	}
	return out, nil
}

// Rerank scores each doc by cosine similarity between its embedding and
// the query's, giving a deterministic substitute for a remote
// cross-encoder reranker.
func (l *Local) Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error) {
	qvec, err := l.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results := make([]RerankResult, len(docs))
	for i, d := range docs {
		dvec, err := l.Embed(ctx, d)
		if err != nil {
			return nil, err
		}
		results[i] = RerankResult{Index: i, Score: cosine(qvec, dvec)}
	}
	return results, nil
}

// Generate returns prompt with surrounding whitespace trimmed, standing
// in for HyDE-style hypothetical document generation without a
// remote chat model.
func (l *Local) Generate(_ context.Context, prompt string) (string, error) {
	return strings.TrimSpace(prompt), nil
}

// ModelInfo reports the local backend's fixed identity.
func (l *Local) ModelInfo() ModelInfo {
	return ModelInfo{
		Backend:    "local",
		EmbedModel: "qmd-local-hash-768",
		Dimensions: LocalDimensions,
	}
}

func significantTokens(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(w)
		if lw != "" && !stopWords[lw] {
			out = append(out, lw)
		}
	}
	return out
}

func project(text string) []float32 {
	vector := make([]float32, LocalDimensions)

	tokens := significantTokens(text)
	for _, token := range tokens {
		idx := hashToIndex(token, LocalDimensions)
		vector[idx] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		idx := hashToIndex(ngram, LocalDimensions)
		vector[idx] += ngramWeight
	}

	return vector
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
