package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Disk is the byte-bounded disk tier. Payloads live one file per key,
// sharded into subdirectories by key prefix; entry metadata lives in a
// SQLite index next to them. Storage failures degrade to miss/no-op and are
// never propagated to callers.
type Disk struct {
	dir      string
	maxBytes int64
	db       *sql.DB
	logger   *slog.Logger
	hits     atomic.Int64
	misses   atomic.Int64
}

const diskSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key           TEXT PRIMARY KEY,
	namespace     TEXT NOT NULL,
	size          INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER,
	last_accessed INTEGER NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entries_namespace ON entries(namespace);
CREATE INDEX IF NOT EXISTS idx_entries_last_accessed ON entries(last_accessed);
`

// NewDisk opens (or creates) a disk tier rooted at dir holding at most
// maxBytes of payload data.
func NewDisk(dir string, maxBytes int64, logger *slog.Logger) (*Disk, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	// The index is single-process; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(diskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache index: %w", err)
	}

	return &Disk{
		dir:      dir,
		maxBytes: maxBytes,
		db:       db,
		logger:   logger,
	}, nil
}

// Close releases the metadata index.
func (d *Disk) Close() error {
	return d.db.Close()
}

// Get returns the stored payload for key. Expired entries are deleted and
// reported as misses, as are entries whose payload file is unreadable.
func (d *Disk) Get(key string) ([]byte, bool) {
	var (
		size      int64
		expiresAt sql.NullInt64
	)
	err := d.db.QueryRow(
		`SELECT size, expires_at FROM entries WHERE key = ?`, key,
	).Scan(&size, &expiresAt)
	if err != nil {
		d.misses.Add(1)
		return nil, false
	}

	if expiresAt.Valid && time.Now().UnixMilli() >= expiresAt.Int64 {
		d.Delete(key)
		d.misses.Add(1)
		return nil, false
	}

	data, err := os.ReadFile(d.payloadPath(key))
	if err != nil {
		d.logger.Warn("cache payload unreadable, dropping entry", "key", key, "error", err)
		d.Delete(key)
		d.misses.Add(1)
		return nil, false
	}

	if _, err := d.db.Exec(
		`UPDATE entries SET last_accessed = ?, access_count = access_count + 1 WHERE key = ?`,
		time.Now().UnixMilli(), key,
	); err != nil {
		d.logger.Warn("failed to touch cache entry", "key", key, "error", err)
	}

	d.hits.Add(1)
	return data, true
}

// Put stores data under key with the given ttl (zero means no expiry). An
// entry larger than the tier capacity is rejected, never stored. Older
// least-recently-accessed entries are evicted until the new entry fits.
// Failures are logged and swallowed.
func (d *Disk) Put(key, namespace string, data []byte, ttl time.Duration) {
	size := int64(len(data))
	if size > d.maxBytes {
		d.logger.Warn("cache entry exceeds disk capacity, rejecting",
			"key", key, "size", size, "capacity", d.maxBytes)
		return
	}

	// Replacing an entry frees its old bytes first.
	d.Delete(key)

	if err := d.ensureSpace(size); err != nil {
		d.logger.Warn("failed to make room in disk cache", "error", err)
		return
	}

	path := d.payloadPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.logger.Warn("failed to create cache shard dir", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		d.logger.Warn("failed to write cache payload", "key", key, "error", err)
		return
	}

	now := time.Now().UnixMilli()
	var expiresAt any
	if ttl > 0 {
		expiresAt = now + ttl.Milliseconds()
	}
	if _, err := d.db.Exec(
		`INSERT OR REPLACE INTO entries (key, namespace, size, created_at, expires_at, last_accessed, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		key, namespace, size, now, expiresAt, now,
	); err != nil {
		d.logger.Warn("failed to index cache entry", "key", key, "error", err)
		os.Remove(path)
	}
}

// Delete removes key from the index and its payload file.
func (d *Disk) Delete(key string) {
	if _, err := d.db.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
		d.logger.Warn("failed to delete cache entry", "key", key, "error", err)
	}
	if err := os.Remove(d.payloadPath(key)); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove cache payload", "key", key, "error", err)
	}
}

// DeleteNamespace removes every entry stored under the given namespace and
// returns the number removed.
func (d *Disk) DeleteNamespace(namespace string) int {
	keys, err := d.keysWhere(`namespace = ?`, namespace)
	if err != nil {
		d.logger.Warn("failed to enumerate namespace", "namespace", namespace, "error", err)
		return 0
	}
	for _, k := range keys {
		d.Delete(k)
	}
	return len(keys)
}

// Sweep purges all expired entries on demand and returns the number removed.
func (d *Disk) Sweep() int {
	keys, err := d.keysWhere(`expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		d.logger.Warn("failed to enumerate expired entries", "error", err)
		return 0
	}
	for _, k := range keys {
		d.Delete(k)
	}
	return len(keys)
}

// Clear removes all entries.
func (d *Disk) Clear() {
	keys, err := d.keysWhere(`1 = 1`)
	if err != nil {
		d.logger.Warn("failed to enumerate cache entries", "error", err)
		return
	}
	for _, k := range keys {
		d.Delete(k)
	}
	d.hits.Store(0)
	d.misses.Store(0)
}

// Len returns the current entry count.
func (d *Disk) Len() int {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Stats returns a snapshot of tier counters.
func (d *Disk) Stats() TierStats {
	var entries int
	var bytes int64
	_ = d.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM entries`).Scan(&entries, &bytes)
	return TierStats{
		Entries:  entries,
		Capacity: d.maxBytes,
		Bytes:    bytes,
		Hits:     d.hits.Load(),
		Misses:   d.misses.Load(),
	}
}

// ensureSpace evicts least-recently-accessed entries until required bytes fit.
func (d *Disk) ensureSpace(required int64) error {
	for {
		var total int64
		if err := d.db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM entries`).Scan(&total); err != nil {
			return err
		}
		if total+required <= d.maxBytes {
			return nil
		}

		var victim string
		err := d.db.QueryRow(`SELECT key FROM entries ORDER BY last_accessed ASC LIMIT 1`).Scan(&victim)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		d.Delete(victim)
	}
}

// payloadPath shards payload files into subdirectories by key prefix so no
// single directory accumulates every entry.
func (d *Disk) payloadPath(key string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(d.dir, shard, key+".bin")
}

// keysWhere returns all keys matching the given WHERE clause.
func (d *Disk) keysWhere(where string, args ...any) ([]string, error) {
	rows, err := d.db.Query(`SELECT key FROM entries WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
