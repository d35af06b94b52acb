// Package retrieval implements the Retrieval Pipeline (spec.md §4.6):
// keyword search, semantic search, and hybrid "deep" search with
// expansion, Reciprocal Rank Fusion, strong-signal bypass, and reranking.
package retrieval

import "time"

// Hit is one ranked entry in a single channel's result list, keyed by
// content hash — the identifier shared by the FTS index, the vector
// index, and the content store, so cross-channel fusion needs no id
// translation layer.
type Hit struct {
	Hash  string
	Score float64
}

// RankedList is one channel's ranked output going into fusion: a
// lexical search, a semantic search on the literal query, or a semantic
// search on a HyDE passage. Weight follows spec.md §4.6.3: the user's
// original query list carries weight 2.0, expansion lists carry 1.0.
type RankedList struct {
	Source string // "fts" for lexical lists, "vec" for semantic and HyDE lists
	Weight float64
	Hits   []Hit
}

// DocumentMeta is the catalog/content enrichment joined onto a hit
// before it's returned to the caller.
type DocumentMeta struct {
	Hash        string
	DocID       string
	Title       string
	DisplayPath string
	Collection  string
	ModifiedAt  time.Time
	Body        string
}

// DocumentSource resolves a content hash to its catalog metadata and
// body, decoupling retrieval from the concrete content store.
type DocumentSource interface {
	LookupMetaByHash(hash string) (DocumentMeta, bool, error)
}

// SearchResult is one enriched, ranked hit returned by the pipeline.
type SearchResult struct {
	DocID       string
	Title       string
	DisplayPath string
	Collection  string
	ModifiedAt  time.Time
	Score       float64
	Source      string
	Snippet     string
	SnippetLine int
	ChunkPos    int
}

// Request parameterizes a single search call across all three modes.
// Collections is a set of collection names (spec.md §4.3 collection_filter);
// empty means unrestricted, and a hit matching any named collection passes.
type Request struct {
	Query       string
	Intent      string
	Collections []string
	Limit       int
	MinScore    float64
}
