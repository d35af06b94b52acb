package qmd

import (
	"context"
	"fmt"
	"time"

	"github.com/qmd-dev/qmd/internal/chunk"
	"github.com/qmd-dev/qmd/internal/config"
	"github.com/qmd-dev/qmd/internal/content"
	"github.com/qmd-dev/qmd/internal/ftsindex"
	"github.com/qmd-dev/qmd/internal/gateway"
	"github.com/qmd-dev/qmd/internal/qmderrors"
	"github.com/qmd-dev/qmd/internal/retrieval"
	"github.com/qmd-dev/qmd/internal/scope"
	"github.com/qmd-dev/qmd/internal/vector"
)

// Mode selects which of the three retrieval flavors Search runs.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeDeep     Mode = "deep"
)

// Options configures Open.
type Options struct {
	// Dir is the index directory: it holds the SQLite database (catalog,
	// FTS index, and persisted chunk vectors) and the advisory
	// single-writer lock file.
	Dir string

	// Gateway overrides the constructed Gateway chain. Tests and callers
	// wanting a remote provider pass one in; when nil, Open builds the
	// deterministic local provider wrapped in caching and retry, per
	// spec.md §4.4.
	Gateway gateway.Gateway

	// Config overrides the environment-derived configuration. When nil,
	// Open calls config.Load().
	Config *config.Config
}

// SearchRequest parameterizes Search.
type SearchRequest struct {
	Mode        Mode
	Query       string
	Intent      string
	Collections []string
	Limit       int
	MinScore    float64
}

// Engine is the public facade over the indexing and retrieval core.
type Engine struct {
	store *content.Store
	vec   *vector.Store
	fts   *ftsindex.Index
	gw    gateway.Gateway
	pipe  *retrieval.Pipeline
	cfg   config.Config
}

// Open creates or opens the index at opts.Dir, running schema migrations
// on every component and wiring the retrieval pipeline.
func Open(opts Options) (*Engine, error) {
	if opts.Dir == "" {
		return nil, qmderrors.InvalidQuery("Options.Dir must be set", 0)
	}

	store, err := content.Open(opts.Dir)
	if err != nil {
		return nil, err
	}

	fts, err := ftsindex.Open(store.DB())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	vec, err := vector.Open(context.Background(), store.DB(), vector.DefaultConfig())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	gw := opts.Gateway
	if gw == nil {
		gw = gateway.NewRetried(gateway.NewCached(gateway.NewLocal(), gateway.DefaultCacheSize), gateway.DefaultRetryConfig())
	}

	cfg := config.Load()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	docs := &storeDocumentSource{store: store}

	scopeLookup := func(hash string) (string, bool) {
		doc, err := store.LookupActiveByHash(context.Background(), hash)
		if err != nil {
			return "", false
		}
		return doc.Collection, true
	}

	e := &Engine{
		store: store,
		vec:   vec,
		fts:   fts,
		gw:    gw,
		cfg:   cfg,
		pipe: &retrieval.Pipeline{
			Lex:   fts,
			Vec:   vec,
			GW:    gw,
			Docs:  docs,
			Scope: scopeLookup,
		},
	}
	return e, nil
}

// Close releases the underlying database handle and writer lock.
func (e *Engine) Close() error {
	return e.store.Close()
}

// UpsertResult reports how UpsertDocument changed the catalog and how many
// chunks were (re-)embedded.
type UpsertResult struct {
	content.UpsertResult
	ChunksEmbedded int
}

// UpsertDocument stores body's content, flips the active (collection,
// path) slot, refreshes the FTS entry, and re-chunks + re-embeds the body
// into the vector store when the content actually changed (spec.md §4.1,
// §4.3). Unchanged content is a no-op past the catalog upsert.
func (e *Engine) UpsertDocument(ctx context.Context, collection, path, title, body string, modifiedAt time.Time) (*UpsertResult, error) {
	if err := e.guardScope(ctx); err != nil {
		return nil, err
	}

	res, err := e.store.Upsert(ctx, collection, path, title, body, modifiedAt)
	if err != nil {
		return nil, err
	}

	if res.Status == content.StatusUnchanged {
		return &UpsertResult{UpsertResult: *res}, nil
	}

	if err := e.fts.Upsert(ctx, res.Hash, title, body); err != nil {
		return nil, err
	}

	embedded := 0
	if len(body) <= e.cfg.MaxEmbedFileBytes {
		model := e.gw.ModelInfo().EmbedModel
		chunks := chunk.Split(body, chunk.DefaultOptions())
		for _, c := range chunks {
			vecValue, err := e.gw.Embed(ctx, c.Text)
			if err != nil {
				return nil, err
			}
			if err := e.vec.Upsert(ctx, vector.Key{Hash: res.Hash, Seq: c.Seq}, c.Pos, model, vecValue); err != nil {
				return nil, err
			}
			embedded++
		}
	}
	// Oversized documents stay keyword-searchable via FTS above but are
	// excluded from chunking/embedding (spec.md §4.3, QMD_MAX_EMBED_FILE_BYTES).

	if err := e.recordScopeIfRemote(ctx); err != nil {
		return nil, err
	}

	return &UpsertResult{UpsertResult: *res, ChunksEmbedded: embedded}, nil
}

// RemoveDocument deactivates the (collection, path) slot, removes its FTS
// entry, and drops its chunk vectors. Content rows survive until GC.
func (e *Engine) RemoveDocument(ctx context.Context, collection, path string) error {
	doc, err := e.store.LookupByPath(ctx, collection, path)
	if err != nil {
		return err
	}
	if err := e.store.Deactivate(ctx, collection, path); err != nil {
		return err
	}
	if err := e.fts.Remove(ctx, doc.Hash); err != nil {
		return err
	}
	return e.vec.DeleteByHash(ctx, doc.Hash)
}

// Search runs req.Mode against the retrieval pipeline.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]retrieval.SearchResult, error) {
	if req.Mode != ModeKeyword {
		if err := e.guardScope(ctx); err != nil {
			return nil, err
		}
	}

	pipelineReq := retrieval.Request{
		Query:       req.Query,
		Intent:      req.Intent,
		Collections: req.Collections,
		Limit:       req.Limit,
		MinScore:    req.MinScore,
	}

	var (
		results []retrieval.SearchResult
		err     error
	)
	switch req.Mode {
	case ModeKeyword:
		results, err = e.pipe.Keyword(ctx, pipelineReq)
	case ModeSemantic:
		results, err = e.pipe.Semantic(ctx, pipelineReq)
	case ModeDeep, "":
		results, err = e.pipe.Deep(ctx, pipelineReq)
	default:
		return nil, qmderrors.InvalidQuery(fmt.Sprintf("unknown search mode %q", req.Mode), 0)
	}
	if err != nil {
		return nil, err
	}

	_ = e.store.RecordSearch(ctx, string(req.Mode), req.Query, len(results), "")
	return results, nil
}

func (e *Engine) guardScope(ctx context.Context) error {
	current := scope.Scope{BaseURL: e.cfg.EmbedScope.BaseURL, Model: e.cfg.EmbedScope.Model}
	return scope.Guard(ctx, e.cfg.LLMBackend, current, e.store, vectorCounter{e.vec})
}

func (e *Engine) recordScopeIfRemote(ctx context.Context) error {
	if e.cfg.LLMBackend != config.BackendAPI {
		return nil
	}
	current := scope.Scope{BaseURL: e.cfg.EmbedScope.BaseURL, Model: e.cfg.EmbedScope.Model}
	_, ok, err := scope.Load(ctx, e.store)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return scope.Record(ctx, e.store, current)
}

type vectorCounter struct {
	v *vector.Store
}

func (c vectorCounter) Count() int { return c.v.Count() }
