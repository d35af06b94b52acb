// Package ftsindex implements the FTS Index (spec.md §4.2): a BM25 index
// over (title, body) of active documents, built on SQLite's FTS5 virtual
// table and sharing the content store's connection.
package ftsindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// Result is one BM25 hit, normalized to a 0..1 score.
type Result struct {
	DocID     string
	RawScore  float64 // FTS5 bm25(): negative, lower is a better match
	NormScore float64 // RawScore normalized 0..1 against the top hit
}

// Index maintains the fts_content virtual table. The indexed unit is the
// whole document: on upsert the document is re-indexed in full, on
// deactivate it is removed.
type Index struct {
	db *sql.DB
}

// Open attaches an FTS index to an existing database connection, creating
// the fts_content virtual table if it does not already exist. Callers
// share the *sql.DB returned by content.Store.DB so the catalog and the
// search index live in the same SQLite file.
func Open(db *sql.DB) (*Index, error) {
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		return nil, qmderrors.IOFailure("failed to initialize fts index", err)
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	_, err := idx.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
			doc_id UNINDEXED,
			title,
			body,
			tokenize = 'unicode61'
		);
	`)
	return err
}

// Upsert re-indexes a document's title and body in full. FTS5 virtual
// tables do not support UPDATE/REPLACE of existing rows cleanly, so the
// prior row is deleted before the new one is inserted.
func (idx *Index) Upsert(ctx context.Context, docID, title, body string) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return qmderrors.IOFailure("failed to begin fts transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`, docID); err != nil {
		return qmderrors.IOFailure("failed to clear previous fts row", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fts_content(doc_id, title, body) VALUES (?, ?, ?)`, docID, title, body); err != nil {
		return qmderrors.IOFailure("failed to index document", err)
	}
	return tx.Commit()
}

// Remove deletes a document from the index, for use on deactivation.
func (idx *Index) Remove(ctx context.Context, docID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`, docID)
	if err != nil {
		return qmderrors.IOFailure("failed to remove document from fts index", err)
	}
	return nil
}

// Search runs an FTS5 MATCH query and returns up to limit results ordered
// by BM25 relevance, with scores normalized to 0..1 against the top hit
// (spec.md §4.2) ahead of fusion.
func (idx *Index) Search(ctx context.Context, matchQuery string, limit int) ([]Result, error) {
	if strings.TrimSpace(matchQuery) == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_content, 0.0, 2.0, 1.0) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score
		LIMIT ?
	`, matchQuery, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, qmderrors.InvalidQuery(fmt.Sprintf("invalid FTS5 query: %v", err), 0)
		}
		return nil, qmderrors.IOFailure("fts search failed", err)
	}
	defer rows.Close()

	var raw []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.DocID, &r.RawScore); err != nil {
			return nil, qmderrors.IOFailure("failed to scan fts result", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, qmderrors.IOFailure("fts result iteration failed", err)
	}

	normalize(raw)
	return raw, nil
}

// normalize divides every raw score by the magnitude of the top hit's raw
// score so the best match scores 1.0. FTS5's bm25() is negative (lower is
// better), so we work in absolute value.
func normalize(results []Result) {
	if len(results) == 0 {
		return
	}
	top := results[0].RawScore
	if top < 0 {
		top = -top
	}
	if top == 0 {
		for i := range results {
			results[i].NormScore = 1.0
		}
		return
	}
	for i := range results {
		v := results[i].RawScore
		if v < 0 {
			v = -v
		}
		results[i].NormScore = v / top
	}
}
