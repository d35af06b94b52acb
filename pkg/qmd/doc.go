// Package qmd is the public facade over the indexing and retrieval core
// (spec.md §2): a single [Engine] wires together the Content Store +
// Document Catalog (internal/content), the FTS index (internal/ftsindex),
// the chunker and vector store (internal/chunk, internal/vector), the
// Embedding/Rerank/Chat Gateway (internal/gateway), the Query Compiler
// (internal/query), the Retrieval Pipeline (internal/retrieval), and the
// Scope Guard (internal/scope) behind Open, UpsertDocument, RemoveDocument,
// Search, and Close, plus EnsureCollection and Collections.
//
// # Usage
//
//	engine, err := qmd.Open(qmd.Options{Dir: "/home/me/.qmd"})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	_, err = engine.UpsertDocument(ctx, "notes", "today.md", "Today", body, time.Now())
//	results, err := engine.Search(ctx, qmd.SearchRequest{Mode: qmd.ModeDeep, Query: "..."})
//
// # Thread safety
//
// Engine is safe for concurrent use by multiple goroutines within one
// process; the underlying SQLite connection is serialized to a single
// writer (spec.md §5), and the vector store guards its graph with its own
// mutex.
package qmd
