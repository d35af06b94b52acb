// Package gateway defines the Embedding/Rerank/Chat Gateway capability
// interface (spec.md §5): embed, embed_batch, expand_query, rerank,
// generate, and model_info. Remote OpenAI/Cohere/Voyage adapters are out
// of scope; this package provides the contract plus an in-process
// deterministic provider, an LRU-caching wrapper, and a retry wrapper.
package gateway

import "context"

// ModelInfo describes the embedding model currently in effect, which
// anchors the index's scope (spec.md §8 scenario E).
type ModelInfo struct {
	Backend    string
	BaseURL    string
	EmbedModel string
	Dimensions int
}

// RerankResult is one scored candidate from Rerank, indexed into the
// input slice passed to it.
type RerankResult struct {
	Index int
	Score float64
}

// ExpansionKind tags an Expansion with the channel it should search on
// (spec.md §4.4: "each tagged lex|vec|hyde").
type ExpansionKind string

const (
	ExpansionLex  ExpansionKind = "lex"
	ExpansionVec  ExpansionKind = "vec"
	ExpansionHyde ExpansionKind = "hyde"
)

// Expansion is one typed sub-query produced by ExpandQuery.
type Expansion struct {
	Kind ExpansionKind
	Text string
}

// Gateway is the capability surface every embedding/rerank/chat provider
// implements, whether local or remote.
type Gateway interface {
	// Embed generates a single embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ExpandQuery produces up to n typed sub-queries for hybrid/deep
	// search's expansion channels (spec.md §4.4: expand_query(q,
	// {include_lexical}) → [Queryable], each tagged lex|vec|hyde).
	ExpandQuery(ctx context.Context, query string, n int) ([]Expansion, error)

	// Rerank scores docs against query, returned in arbitrary order;
	// callers sort by Score descending.
	Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error)

	// Generate produces free-form text from a prompt, used for HyDE-style
	// hypothetical document generation.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelInfo reports the active backend/model/dimensions.
	ModelInfo() ModelInfo
}
