// Package cache implements the persistent model cache: a single "models"
// object store keyed by model id, backed here by modernc.org/sqlite (pure
// Go, no cgo) standing in for the browser's IndexedDB, with a bloom filter
// negative-membership fast path in front of it.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	_ "modernc.org/sqlite"

	"github.com/inferedge/browsercore/internal/errs"
	"github.com/inferedge/browsercore/internal/log"
)

const tempKeyPrefix = "__temp_"

// Entry is one cached model: its opaque metadata blob plus its data.
type Entry struct {
	ModelID   string
	Metadata  []byte // opaque, caller-defined JSON
	Data      []byte
	Timestamp time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS models (
	model_id  TEXT PRIMARY KEY,
	metadata  BLOB NOT NULL,
	data      BLOB NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_models_timestamp ON models(timestamp);
`

// bloomExpectedElements and bloomFalsePositiveRate size the negative-
// membership cache; tuned for a browser-scale model cache (tens of
// entries), not the mesh's message-dedup scale.
const (
	bloomExpectedElements  = 256
	bloomFalsePositiveRate = 0.01
)

// Store is the atomic transactional key-blob cache.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	seen *bloom.BloomFilter
}

// Open opens (creating if absent) a sqlite-backed store at path. Use
// ":memory:" for an ephemeral store. For a file-backed store every
// transaction takes an immediate write lock (DSN _txlock=immediate; the
// ":memory:" DSN is used unchanged) so a Put's BEGIN...COMMIT is atomic
// from the first statement rather than upgrading from a deferred read
// lock partway through.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.CacheWriteFailed, "open cache database", err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer, transactions serialize anyway

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.CacheWriteFailed, "create cache schema", err)
	}

	s := &Store{
		db:     db,
		logger: log.Named("cache"),
		seen:   bloom.NewWithEstimates(bloomExpectedElements, bloomFalsePositiveRate),
	}
	if err := s.warmBloom(context.Background()); err != nil {
		s.logger.Warn("bloom warm-up failed, falling back to always-query", log.Err(err))
	}
	return s, nil
}

func (s *Store) warmBloom(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT model_id FROM models`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.seen.Add([]byte(id))
	}
	return rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func isTempKey(modelID string) bool { return strings.HasPrefix(modelID, tempKeyPrefix) }

// TempKey builds the temp keyspace id for an in-progress download.
func TempKey(id string) string { return tempKeyPrefix + id }

// Put writes an entry atomically: the caller sees either the fully
// written entry or nothing, never a partial row.
func (s *Store) Put(ctx context.Context, e Entry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return errs.Wrap(errs.CacheWriteFailed, "begin put transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO models (model_id, metadata, data, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET metadata=excluded.metadata, data=excluded.data, timestamp=excluded.timestamp`,
		e.ModelID, e.Metadata, e.Data, e.Timestamp.UnixNano()); err != nil {
		return errs.Wrap(errs.CacheWriteFailed, "write cache entry", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.CacheWriteFailed, "commit put transaction", err)
	}

	s.seen.Add([]byte(e.ModelID))
	return nil
}

// Get retrieves an entry by model id. The bloom filter lets a definite
// miss skip the query entirely; a possible hit always falls through to the
// real lookup since bloom filters have no false negatives.
func (s *Store) Get(ctx context.Context, modelID string) (Entry, bool, error) {
	if !s.seen.Test([]byte(modelID)) {
		return Entry{}, false, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT model_id, metadata, data, timestamp FROM models WHERE model_id = ?`, modelID)
	var e Entry
	var ts int64
	if err := row.Scan(&e.ModelID, &e.Metadata, &e.Data, &ts); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, errs.Wrap(errs.CacheWriteFailed, "read cache entry", err)
	}
	e.Timestamp = time.Unix(0, ts)
	return e, true, nil
}

// Delete removes an entry, including temp-keyspace entries.
func (s *Store) Delete(ctx context.Context, modelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE model_id = ?`, modelID); err != nil {
		return errs.Wrap(errs.CacheWriteFailed, "delete cache entry", err)
	}
	return nil
}

// PurgeTemp deletes every entry in the temp keyspace. Callers purge this
// on both success and failure of a download so no partial blob lingers.
func (s *Store) PurgeTemp(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE model_id LIKE ?`, tempKeyPrefix+"%"); err != nil {
		return errs.Wrap(errs.CacheWriteFailed, "purge temp keyspace", err)
	}
	return nil
}

// List returns metadata for every non-temp entry, ordered by timestamp.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_id, metadata, timestamp FROM models WHERE model_id NOT LIKE ? ORDER BY timestamp`, tempKeyPrefix+"%")
	if err != nil {
		return nil, errs.Wrap(errs.CacheWriteFailed, "list cache entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ModelID, &e.Metadata, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear removes every entry, temp or not.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models`); err != nil {
		return errs.Wrap(errs.CacheWriteFailed, "clear cache", err)
	}
	s.seen = bloom.NewWithEstimates(bloomExpectedElements, bloomFalsePositiveRate)
	return nil
}

// TotalSize returns the sum of stored payload bytes across all entries.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(LENGTH(data)) FROM models`).Scan(&total); err != nil {
		return 0, errs.Wrap(errs.CacheWriteFailed, "compute cache size", err)
	}
	return total.Int64, nil
}

// EstimateQuota reports the fraction of maxBytes currently used, clamped
// to [0, 1].
func (s *Store) EstimateQuota(ctx context.Context, maxBytes int64) (float64, error) {
	if maxBytes <= 0 {
		return 0, fmt.Errorf("maxBytes must be positive")
	}
	used, err := s.TotalSize(ctx)
	if err != nil {
		return 0, err
	}
	frac := float64(used) / float64(maxBytes)
	if frac > 1 {
		frac = 1
	}
	return frac, nil
}
