// Package content implements the Content Store and Document Catalog
// (spec.md §4.1): a durable SQLite-backed mapping from content hash to
// document bytes, and from (collection, path) to document metadata with
// soft-delete via an active flag. Both live in the same SQLite file as the
// FTS index, vector metadata, and scope meta (spec.md §6), so Store exposes
// its *sql.DB for sibling packages (internal/ftsindex, internal/vector,
// internal/scope) to share.
package content

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// Store is the durable Content Store + Document Catalog, guarded by an
// advisory file lock on the index directory (spec.md §5: writers mutually
// exclusive at the index level).
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// UpsertStatus reports how an upsert changed the catalog.
type UpsertStatus string

const (
	StatusInserted UpsertStatus = "inserted"
	StatusUnchanged UpsertStatus = "unchanged"
	StatusReplaced  UpsertStatus = "replaced"
)

// UpsertResult is returned by Upsert.
type UpsertResult struct {
	Hash   string
	Status UpsertStatus
}

// Collection is a named corpus root (spec.md §3).
type Collection struct {
	ID        int64
	Name      string
	Root      string
	Pattern   string
	Context   string
	CreatedAt time.Time
}

// Document is a (collection, path) slot's current metadata (spec.md §3).
type Document struct {
	ID          int64
	Collection  string
	Path        string
	Title       string
	Hash        string
	DisplayPath string
	Active      bool
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// DocID returns the 6-hex-char short identifier for a document (spec.md §4.1).
func (d *Document) DocID() string {
	if len(d.Hash) < 6 {
		return d.Hash
	}
	return d.Hash[:6]
}

// GCStats reports the result of a garbage-collection pass.
type GCStats struct {
	ContentRowsRemoved int
	BytesReclaimed     int64
}

// SearchHistoryEntry is one row of the append-only search_history table.
type SearchHistoryEntry struct {
	ID          int64
	Timestamp   time.Time
	CommandKind string
	Query       string
	ResultCount int
	IndexName   string
}

// Open creates (if absent) and opens the SQLite-backed store at dir,
// acquiring a single-writer advisory lock for the process lifetime.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, qmderrors.IOFailure("failed to create index directory", err)
	}

	lockPath := filepath.Join(dir, ".qmd.lock")
	lk := flock.New(lockPath)
	locked, err := lk.TryLock()
	if err != nil {
		return nil, qmderrors.IOFailure("failed to acquire index lock", err)
	}
	if !locked {
		return nil, qmderrors.IOFailure("index is locked by another process", nil).
			WithSuggestion("ensure no other qmd process is writing to this index")
	}

	dbPath := filepath.Join(dir, "qmd.db")
	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lk.Unlock()
		return nil, qmderrors.IOFailure("failed to open index database", err)
	}
	// SQLite permits exactly one writer; serialize through a single connection
	// the way the teacher's SQLiteBM25Index does (internal/store/sqlite_bm25.go).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, lock: lk, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = lk.Unlock()
		return nil, err
	}
	return s, nil
}

// DB returns the shared *sql.DB for sibling packages that own their own
// tables in the same file (ftsindex, vector, scope).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle and the writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content (
			hash TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS collections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			root TEXT NOT NULL,
			pattern TEXT NOT NULL,
			context TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			path TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			hash TEXT NOT NULL REFERENCES content(hash),
			display_path TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			modified_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_active_slot
			ON documents(collection, path) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_path
			ON documents(collection, path)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(hash)`,
		`CREATE TABLE IF NOT EXISTS content_vectors (
			hash TEXT NOT NULL,
			seq INTEGER NOT NULL,
			pos INTEGER NOT NULL,
			model TEXT NOT NULL,
			embedded_at DATETIME NOT NULL,
			PRIMARY KEY (hash, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS vectors_vec (
			hash_seq TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS path_contexts (
			collection TEXT NOT NULL,
			prefix TEXT NOT NULL,
			context_text TEXT NOT NULL,
			PRIMARY KEY (collection, prefix)
		)`,
		`CREATE TABLE IF NOT EXISTS api_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS search_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			command_kind TEXT NOT NULL,
			query TEXT NOT NULL,
			result_count INTEGER NOT NULL,
			index_name TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return qmderrors.IOFailure("failed to migrate index schema", err)
		}
	}
	return nil
}

// ContentHash computes the deterministic content digest of body (spec.md
// §3 invariant: hash = deterministic content digest of body).
func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Upsert computes the content hash, inserts Content if absent, flips any
// previous active Document at (collection, path) to inactive, and inserts
// a new active Document row — all within one transaction (spec.md §4.1,
// §5 "Upserts to the same (collection, path) are linearizable").
func (s *Store) Upsert(ctx context.Context, collection, path, title, body string, modifiedAt time.Time) (*UpsertResult, error) {
	hash := ContentHash(body)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, qmderrors.IOFailure("failed to begin upsert transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO content (hash, doc, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`, hash, body, now); err != nil {
		return nil, qmderrors.IOFailure("failed to insert content", err)
	}

	var prevHash string
	var prevID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, hash FROM documents WHERE collection = ? AND path = ? AND active = 1`,
		collection, path).Scan(&prevID, &prevHash)

	status := StatusInserted
	switch {
	case err == sql.ErrNoRows:
		status = StatusInserted
	case err != nil:
		return nil, qmderrors.IOFailure("failed to look up active document", err)
	case prevHash == hash:
		status = StatusUnchanged
	default:
		status = StatusReplaced
	}

	if err != sql.ErrNoRows && err == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET active = 0 WHERE id = ?`, prevID); err != nil {
			return nil, qmderrors.IOFailure("failed to deactivate previous document", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (collection, path, title, hash, display_path, active, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		collection, path, title, hash, nil, now, modifiedAt); err != nil {
		return nil, qmderrors.IOFailure("failed to insert document", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, qmderrors.IOFailure("failed to commit upsert", err)
	}

	return &UpsertResult{Hash: hash, Status: status}, nil
}

// SetDisplayPath sets the user-facing display path for the active document
// at (collection, path), decoupling renames from reindexing (GLOSSARY).
func (s *Store) SetDisplayPath(ctx context.Context, collection, path, displayPath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET display_path = ? WHERE collection = ? AND path = ? AND active = 1`,
		displayPath, collection, path)
	if err != nil {
		return qmderrors.IOFailure("failed to set display path", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return qmderrors.NotFound("document", fmt.Sprintf("%s:%s", collection, path))
	}
	return nil
}

// Deactivate sets active=0 on the (collection, path) slot. Content rows
// remain until GC.
func (s *Store) Deactivate(ctx context.Context, collection, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET active = 0 WHERE collection = ? AND path = ? AND active = 1`,
		collection, path)
	if err != nil {
		return qmderrors.IOFailure("failed to deactivate document", err)
	}
	return nil
}

// GC deletes Content rows not referenced by any active Document and not
// referenced by any chunk vector (content_vectors, written by internal/vector but
// stored in this same database file and created by migrate above).
func (s *Store) GC(ctx context.Context) (*GCStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, qmderrors.IOFailure("failed to begin gc transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT hash, LENGTH(doc) FROM content
		WHERE hash NOT IN (SELECT hash FROM documents WHERE active = 1)
		  AND hash NOT IN (SELECT DISTINCT hash FROM content_vectors)
	`)
	if err != nil {
		return nil, qmderrors.IOFailure("failed to query gc candidates", err)
	}
	defer rows.Close()

	var hashes []string
	var bytes int64
	for rows.Next() {
		var h string
		var n int64
		if err := rows.Scan(&h, &n); err != nil {
			return nil, qmderrors.IOFailure("failed to scan gc candidate", err)
		}
		hashes = append(hashes, h)
		bytes += n
	}
	if err := rows.Err(); err != nil {
		return nil, qmderrors.IOFailure("failed to iterate gc candidates", err)
	}

	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM content WHERE hash = ?`, h); err != nil {
			return nil, qmderrors.IOFailure("failed to delete gc'd content", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, qmderrors.IOFailure("failed to commit gc", err)
	}

	return &GCStats{ContentRowsRemoved: len(hashes), BytesReclaimed: bytes}, nil
}

// LookupByPath returns the active document at (collection, path).
func (s *Store) LookupByPath(ctx context.Context, collection, path string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection, path, title, hash, COALESCE(display_path, ''), active, created_at, modified_at
		FROM documents WHERE collection = ? AND path = ? AND active = 1`, collection, path)
	return scanDocument(row, fmt.Sprintf("%s:%s", collection, path))
}

// LookupByHash returns the Content row for hash.
func (s *Store) LookupByHash(ctx context.Context, hash string) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM content WHERE hash = ?`, hash).Scan(&doc)
	if err == sql.ErrNoRows {
		return "", qmderrors.NotFound("content", hash)
	}
	if err != nil {
		return "", qmderrors.IOFailure("failed to look up content", err)
	}
	return doc, nil
}

// LookupByDocID resolves a 6-hex-char docid to an active document. Ties are
// broken by latest modified_at; a remaining tie is reported as ambiguous.
func (s *Store) LookupByDocID(ctx context.Context, docID string) (*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, path, title, hash, COALESCE(display_path, ''), active, created_at, modified_at
		FROM documents WHERE active = 1 AND substr(hash, 1, ?) = ?`, len(docID), docID)
	if err != nil {
		return nil, qmderrors.IOFailure("failed to look up docid", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, qmderrors.IOFailure("failed to iterate docid matches", err)
	}

	if len(docs) == 0 {
		return nil, qmderrors.NotFound("document", docID)
	}
	if len(docs) == 1 {
		return docs[0], nil
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ModifiedAt.After(docs[j].ModifiedAt) })
	if docs[0].ModifiedAt.Equal(docs[1].ModifiedAt) {
		return nil, qmderrors.New(qmderrors.CodeNotFound,
			fmt.Sprintf("docid %q is ambiguous: %d documents share this prefix with identical modified_at", docID, len(docs)), nil)
	}
	return docs[0], nil
}

// LookupActiveByHash returns an active Document row referencing hash, used
// to enrich a retrieval hit (keyed by content hash) back to catalog
// metadata. A hash may back more than one active (collection, path) slot
// when identical content lives in multiple places; the lowest document id
// is returned for a stable, deterministic choice.
func (s *Store) LookupActiveByHash(ctx context.Context, hash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection, path, title, hash, COALESCE(display_path, ''), active, created_at, modified_at
		FROM documents WHERE hash = ? AND active = 1 ORDER BY id ASC LIMIT 1`, hash)
	return scanDocument(row, hash)
}

func scanDocument(row *sql.Row, key string) (*Document, error) {
	d := &Document{}
	var active int
	err := row.Scan(&d.ID, &d.Collection, &d.Path, &d.Title, &d.Hash, &d.DisplayPath, &active, &d.CreatedAt, &d.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, qmderrors.NotFound("document", key)
	}
	if err != nil {
		return nil, qmderrors.IOFailure("failed to scan document", err)
	}
	d.Active = active == 1
	return d, nil
}

func scanDocumentRows(rows *sql.Rows) (*Document, error) {
	d := &Document{}
	var active int
	if err := rows.Scan(&d.ID, &d.Collection, &d.Path, &d.Title, &d.Hash, &d.DisplayPath, &active, &d.CreatedAt, &d.ModifiedAt); err != nil {
		return nil, qmderrors.IOFailure("failed to scan document", err)
	}
	d.Active = active == 1
	return d, nil
}

// CreateCollection registers a new named collection. Name must be unique.
func (s *Store) CreateCollection(ctx context.Context, name, root, pattern, ctxText string) (*Collection, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, root, pattern, context, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, root, pattern, ctxText, now)
	if err != nil {
		return nil, qmderrors.IOFailure(fmt.Sprintf("failed to create collection %q (names must be unique)", name), err)
	}
	id, _ := res.LastInsertId()
	return &Collection{ID: id, Name: name, Root: root, Pattern: pattern, Context: ctxText, CreatedAt: now}, nil
}

// GetCollection looks up a collection by name.
func (s *Store) GetCollection(ctx context.Context, name string) (*Collection, error) {
	c := &Collection{}
	var ctxText sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, root, pattern, context, created_at FROM collections WHERE name = ?`, name).
		Scan(&c.ID, &c.Name, &c.Root, &c.Pattern, &ctxText, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, qmderrors.NotFound("collection", name)
	}
	if err != nil {
		return nil, qmderrors.IOFailure("failed to look up collection", err)
	}
	c.Context = ctxText.String
	return c, nil
}

// ListCollections returns all registered collections.
func (s *Store) ListCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, root, pattern, context, created_at FROM collections ORDER BY name`)
	if err != nil {
		return nil, qmderrors.IOFailure("failed to list collections", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c := &Collection{}
		var ctxText sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Root, &c.Pattern, &ctxText, &c.CreatedAt); err != nil {
			return nil, qmderrors.IOFailure("failed to scan collection", err)
		}
		c.Context = ctxText.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetPathContext records free text attached to (collection, path prefix).
func (s *Store) SetPathContext(ctx context.Context, collection, prefix, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO path_contexts (collection, prefix, context_text) VALUES (?, ?, ?)
		ON CONFLICT(collection, prefix) DO UPDATE SET context_text = excluded.context_text`,
		collection, prefix, text)
	if err != nil {
		return qmderrors.IOFailure("failed to set path context", err)
	}
	return nil
}

// ContextFor returns the longest-prefix-matching context text for path
// within collection, falling back to the global context (see
// SetGlobalContext).
func (s *Store) ContextFor(ctx context.Context, collection, path string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prefix, context_text FROM path_contexts WHERE collection = ?`, collection)
	if err != nil {
		return "", qmderrors.IOFailure("failed to load path contexts", err)
	}
	defer rows.Close()

	best := ""
	bestLen := -1
	for rows.Next() {
		var prefix, text string
		if err := rows.Scan(&prefix, &text); err != nil {
			return "", qmderrors.IOFailure("failed to scan path context", err)
		}
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix && len(prefix) > bestLen {
			best = text
			bestLen = len(prefix)
		}
	}
	if err := rows.Err(); err != nil {
		return "", qmderrors.IOFailure("failed to iterate path contexts", err)
	}
	if bestLen >= 0 {
		return best, nil
	}
	return s.GlobalContext(ctx)
}

// SetGlobalContext stores the single global context string.
func (s *Store) SetGlobalContext(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_meta (key, value) VALUES ('global_context', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, text)
	if err != nil {
		return qmderrors.IOFailure("failed to set global context", err)
	}
	return nil
}

// GlobalContext returns the global context string, or "" if unset.
func (s *Store) GlobalContext(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM api_meta WHERE key = 'global_context'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", qmderrors.IOFailure("failed to read global context", err)
	}
	return v, nil
}

// SetMeta stores an arbitrary key/value pair in api_meta, shared by
// sibling packages (internal/scope) that persist small scalars alongside
// the catalog rather than owning their own table.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return qmderrors.IOFailure(fmt.Sprintf("failed to set meta key %q", key), err)
	}
	return nil
}

// GetMeta reads a key from api_meta, returning ok=false if absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM api_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, qmderrors.IOFailure(fmt.Sprintf("failed to read meta key %q", key), err)
	}
	return v, true, nil
}

// DeleteMeta removes a key from api_meta, if present.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_meta WHERE key = ?`, key)
	if err != nil {
		return qmderrors.IOFailure(fmt.Sprintf("failed to delete meta key %q", key), err)
	}
	return nil
}

// RecordSearch appends a row to the append-only search_history table.
func (s *Store) RecordSearch(ctx context.Context, commandKind, query string, resultCount int, indexName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (timestamp, command_kind, query, result_count, index_name)
		VALUES (?, ?, ?, ?, ?)`, time.Now(), commandKind, query, resultCount, indexName)
	if err != nil {
		return qmderrors.IOFailure("failed to record search history", err)
	}
	return nil
}

// RecentSearches returns up to limit most recent search_history entries,
// newest first.
func (s *Store) RecentSearches(ctx context.Context, limit int) ([]*SearchHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, command_kind, query, result_count, index_name
		FROM search_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, qmderrors.IOFailure("failed to read search history", err)
	}
	defer rows.Close()

	var out []*SearchHistoryEntry
	for rows.Next() {
		e := &SearchHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.CommandKind, &e.Query, &e.ResultCount, &e.IndexName); err != nil {
			return nil, qmderrors.IOFailure("failed to scan search history row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
