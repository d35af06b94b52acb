// Package vector implements the Chunk Vector Index (spec.md §4.3): an
// approximate nearest-neighbor index over chunk embeddings keyed by
// (content hash, chunk sequence), backed by a pure-Go HNSW graph and
// persisted to the shared SQLite file as content_vectors/vectors_vec
// (spec.md §6) so the graph survives a process restart.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// Key identifies one embedded chunk by its content hash and sequence
// number within that content.
type Key struct {
	Hash string
	Seq  int
}

// id is the key's string form, matching the "{hash}_{seq}" convention
// spec.md §6 uses for vectors_vec.hash_seq.
func (k Key) id() string {
	return fmt.Sprintf("%s_%d", k.Hash, k.Seq)
}

// Result is one nearest-neighbor hit.
type Result struct {
	Key      Key
	Score    float32 // normalized similarity, 0..1, higher is better
	Distance float32
}

// Config configures the vector store. Dimension is pinned on the first
// insert and every subsequent vector must match it (spec.md §4.3 / §9).
type Config struct {
	M        int
	EfSearch int
}

// DefaultConfig returns the HNSW parameters used when none are supplied.
func DefaultConfig() Config {
	return Config{M: 16, EfSearch: 64}
}

// CollectionLookup resolves the collection a content hash belongs to, so
// Store can filter cross-collection noise out of search results.
type CollectionLookup func(hash string) (collection string, ok bool)

// Store is a collection-aware approximate nearest-neighbor index over
// chunk vectors. It is safe for concurrent use. A Store built with New
// is purely in-memory (used in tests and wherever no database is
// available); one built with Open also mirrors every write to
// content_vectors/vectors_vec and reloads them on startup.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	graph     *hnsw.Graph[uint64]
	dimension int
	nextKey   uint64
	idToKey   map[string]uint64
	keyToID   map[uint64]Key
}

// New creates an empty, purely in-memory vector store. The embedding
// dimension is not fixed until the first Upsert call.
func New(cfg Config) *Store {
	if cfg.M == 0 {
		cfg.M = DefaultConfig().M
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = DefaultConfig().EfSearch
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Store{
		graph:   graph,
		idToKey: make(map[string]uint64),
		keyToID: make(map[uint64]Key),
	}
}

// Open attaches a vector store to an existing database connection,
// creating content_vectors/vectors_vec if absent, then replays every
// persisted chunk vector into the in-memory HNSW graph so search works
// immediately after a restart (spec.md §1, §6).
func Open(ctx context.Context, db *sql.DB, cfg Config) (*Store, error) {
	s := New(cfg)
	s.db = db
	if err := s.migrate(); err != nil {
		return nil, err
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
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
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return qmderrors.IOFailure("failed to migrate vector schema", err)
		}
	}
	return nil
}

// reload rebuilds the in-memory graph from persisted rows, in (hash, seq)
// order so nextKey assignment is deterministic across restarts.
func (s *Store) reload(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cv.hash, cv.seq, vv.embedding
		FROM content_vectors cv
		JOIN vectors_vec vv ON vv.hash_seq = cv.hash || '_' || cv.seq
		ORDER BY cv.hash, cv.seq
	`)
	if err != nil {
		return qmderrors.IOFailure("failed to load persisted vectors", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for rows.Next() {
		var hash string
		var seq int
		var blob []byte
		if err := rows.Scan(&hash, &seq, &blob); err != nil {
			return qmderrors.IOFailure("failed to scan persisted vector", err)
		}
		if err := s.upsertLocked(Key{Hash: hash, Seq: seq}, bytesToEmbedding(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Dimension reports the pinned embedding dimension, or 0 if nothing has
// been inserted yet.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Upsert inserts or replaces the vector for a (hash, seq) key, along with
// its chunk position and the model that produced it. The first call pins
// the store's dimension; later calls with a mismatched dimension fail
// with VectorDimensionMismatch. When the store is backed by a database,
// the write is mirrored to content_vectors/vectors_vec in one transaction
// before returning. That transaction covers only this (hash, seq) row:
// chunks of one content hash written by separate calls commit separately.
func (s *Store) Upsert(ctx context.Context, key Key, pos int, model string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.upsertLocked(key, embedding); err != nil {
		return err
	}

	if s.db == nil {
		return nil
	}
	return s.persist(ctx, key, pos, model, embedding)
}

func (s *Store) upsertLocked(key Key, embedding []float32) error {
	if s.dimension == 0 {
		s.dimension = len(embedding)
	} else if len(embedding) != s.dimension {
		return qmderrors.VectorDimensionMismatch(s.dimension, len(embedding))
	}

	id := key.id()
	if existing, ok := s.idToKey[id]; ok {
		// Lazy delete: coder/hnsw's graph deletion of the last remaining
		// node corrupts the structure, so we orphan the mapping instead
		// of calling graph.Delete.
		delete(s.keyToID, existing)
		delete(s.idToKey, id)
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	normalize(vec)

	k := s.nextKey
	s.nextKey++
	s.graph.Add(hnsw.MakeNode(k, vec))
	s.idToKey[id] = k
	s.keyToID[k] = key
	return nil
}

func (s *Store) persist(ctx context.Context, key Key, pos int, model string, embedding []float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qmderrors.IOFailure("failed to begin vector persist transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO content_vectors (hash, seq, pos, model, embedded_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash, seq) DO UPDATE SET
			pos = excluded.pos, model = excluded.model, embedded_at = excluded.embedded_at
	`, key.Hash, key.Seq, pos, model, time.Now()); err != nil {
		return qmderrors.IOFailure("failed to persist chunk vector metadata", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vectors_vec (hash_seq, embedding) VALUES (?, ?)
		ON CONFLICT(hash_seq) DO UPDATE SET embedding = excluded.embedding
	`, key.id(), embeddingToBytes(embedding)); err != nil {
		return qmderrors.IOFailure("failed to persist chunk embedding", err)
	}

	if err := tx.Commit(); err != nil {
		return qmderrors.IOFailure("failed to commit vector persist transaction", err)
	}
	return nil
}

// Delete removes a key from the store (and, if persisted, its rows). It
// is a no-op if the key is absent.
func (s *Store) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.id()
	if k, ok := s.idToKey[id]; ok {
		delete(s.keyToID, k)
		delete(s.idToKey, id)
	}

	if s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_vectors WHERE hash = ? AND seq = ?`, key.Hash, key.Seq); err != nil {
		return qmderrors.IOFailure("failed to delete persisted chunk vector metadata", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors_vec WHERE hash_seq = ?`, id); err != nil {
		return qmderrors.IOFailure("failed to delete persisted chunk embedding", err)
	}
	return nil
}

// DeleteByHash removes every chunk vector belonging to a content hash,
// for use when a document is deactivated or garbage collected.
func (s *Store) DeleteByHash(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, key := range s.keyToID {
		if key.Hash == hash {
			delete(s.keyToID, k)
			delete(s.idToKey, key.id())
		}
	}

	if s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_vectors WHERE hash = ?`, hash); err != nil {
		return qmderrors.IOFailure("failed to delete persisted chunk vector metadata", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors_vec WHERE hash_seq LIKE ?`, hash+"_%"); err != nil {
		return qmderrors.IOFailure("failed to delete persisted chunk embeddings", err)
	}
	return nil
}

// Count returns the number of live (non-orphaned) vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idToKey)
}

// maxOverfetchRounds bounds how many times Search will widen its
// candidate pool before giving up on satisfying a collection filter
// (spec.md §4.3 scenario C: a dominant collection must not starve a
// smaller one out of its own results).
const maxOverfetchRounds = 4

// Search returns up to k nearest neighbors to query. When collections is
// non-empty, results are filtered to chunks whose content hash resolves
// (via lookup) to one of the named collections; the graph is over-fetched
// and widened across rounds so that a large neighboring collection cannot
// crowd out a smaller target collection's genuine matches.
func (s *Store) Search(_ context.Context, query []float32, k int, collections []string, lookup CollectionLookup) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(query) != s.dimension {
		return nil, qmderrors.VectorDimensionMismatch(s.dimension, len(query))
	}
	if s.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	vec := make([]float32, len(query))
	copy(vec, query)
	normalize(vec)

	filter := toSet(collections)

	fetch := k
	if len(filter) > 0 {
		fetch = k * 4
	}

	var results []Result
	for round := 0; round < maxOverfetchRounds; round++ {
		if fetch > s.graph.Len() {
			fetch = s.graph.Len()
		}
		nodes := s.graph.Search(vec, fetch)
		results = results[:0]
		for _, node := range nodes {
			key, ok := s.keyToID[node.Key]
			if !ok {
				continue
			}
			if len(filter) > 0 && lookup != nil {
				if coll, ok := lookup(key.Hash); !ok || !filter[coll] {
					continue
				}
			}
			dist := s.graph.Distance(vec, node.Value)
			results = append(results, Result{
				Key:      key,
				Distance: dist,
				Score:    cosineDistanceToScore(dist),
			})
			if len(results) >= k {
				break
			}
		}

		if len(results) >= k || fetch >= s.graph.Len() || len(filter) == 0 {
			break
		}
		fetch *= 4
	}

	return results, nil
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = true
		}
	}
	return set
}

func cosineDistanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}

func normalize(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// embeddingToBytes packs a float32 vector into a little-endian byte blob
// for the vectors_vec.embedding column.
func embeddingToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToEmbedding is the inverse of embeddingToBytes.
func bytesToEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
