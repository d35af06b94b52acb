package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings held in memory.
const DefaultCacheSize = 1000

// Cached wraps a Gateway with LRU caching of Embed/EmbedBatch results,
// keyed by text+model so a backend or model switch can't return a stale
// vector from a previous scope.
type Cached struct {
	inner Gateway
	cache *lru.Cache[string, []float32]
}

var _ Gateway = (*Cached)(nil)

// NewCached wraps inner with an LRU embedding cache of the given size
// (DefaultCacheSize if size <= 0).
func NewCached(inner Gateway, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelInfo().EmbedModel))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text if present, else delegates and caches.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if v, ok := c.cache.Get(k); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, v)
	return v, nil
}

// EmbedBatch embeds only cache-miss texts, preserving input order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := c.cache.Get(c.key(t)); ok {
			results[i] = v
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(c.key(texts[idx]), fresh[j])
	}
	return results, nil
}

// ExpandQuery, Rerank, Generate, and ModelInfo pass straight through:
// only embeddings are cacheable, since expansion/rerank/generation are
// contextual to the whole candidate set, not a single text.
func (c *Cached) ExpandQuery(ctx context.Context, query string, n int) ([]Expansion, error) {
	return c.inner.ExpandQuery(ctx, query, n)
}

func (c *Cached) Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error) {
	return c.inner.Rerank(ctx, query, docs)
}

func (c *Cached) Generate(ctx context.Context, prompt string) (string, error) {
	return c.inner.Generate(ctx, prompt)
}

func (c *Cached) ModelInfo() ModelInfo {
	return c.inner.ModelInfo()
}
