package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ScanCache is a non-authoritative sqlite cache of the last known state
// of every video seen by the integrity-scan task (spec §4.7): its mtime
// at scan time and the artifact stems already known to exist. The
// integrity-scan task writes an entry per scanned video; no scan or
// orphan check in the engine reads the entries back.
//
// Grounded on the teacher's schema-versioned sqlite store: same
// WAL-mode connection string and schema_version bookkeeping, repurposed
// from a table of transcode jobs to a table of scanned videos. Losing
// this cache (deleted file, fresh database) is always safe: the next
// scan simply treats every video as unseen and rebuilds it.
type ScanCache struct {
	db *sql.DB
	mu sync.Mutex
}

const scanCacheSchemaVersion = 1

const scanCacheSchema = `
CREATE TABLE IF NOT EXISTS scanned_videos (
	path TEXT PRIMARY KEY,
	mtime_unix INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	known_stems TEXT NOT NULL DEFAULT '',
	scanned_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`

// NewScanCache opens (creating if absent) the sqlite cache at dbPath,
// typically <state_dir>/.jobs/scancache.db.
func NewScanCache(dbPath string) (*ScanCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create scan cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open scan cache: %w", err)
	}
	if _, err := db.Exec(scanCacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create scan cache schema: %w", err)
	}
	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", scanCacheSchemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert scan cache schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check scan cache schema version: %w", err)
	}
	return &ScanCache{db: db}, nil
}

// ScannedEntry is the cached state of one video as of its last scan.
type ScannedEntry struct {
	Path       string
	MTimeUnix  int64
	SizeBytes  int64
	KnownStems string // comma-joined artifact stems known present at last scan
	ScannedAt  time.Time
}

// Lookup returns the cached entry for path, if any.
func (c *ScanCache) Lookup(path string) (ScannedEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var e ScannedEntry
	var scannedAt string
	err := c.db.QueryRow(
		"SELECT path, mtime_unix, size_bytes, known_stems, scanned_at FROM scanned_videos WHERE path = ?",
		path,
	).Scan(&e.Path, &e.MTimeUnix, &e.SizeBytes, &e.KnownStems, &scannedAt)
	if err == sql.ErrNoRows {
		return ScannedEntry{}, false, nil
	}
	if err != nil {
		return ScannedEntry{}, false, err
	}
	e.ScannedAt, _ = time.Parse(time.RFC3339, scannedAt)
	return e, true, nil
}

// Upsert records (or refreshes) the cached state of one video.
func (c *ScanCache) Upsert(e ScannedEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`
		INSERT INTO scanned_videos (path, mtime_unix, size_bytes, known_stems, scanned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime_unix = excluded.mtime_unix,
			size_bytes = excluded.size_bytes,
			known_stems = excluded.known_stems,
			scanned_at = excluded.scanned_at
	`, e.Path, e.MTimeUnix, e.SizeBytes, e.KnownStems, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Forget removes a path from the cache, used by cleanup-artifacts when
// it removes a video's artifacts.
func (c *ScanCache) Forget(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec("DELETE FROM scanned_videos WHERE path = ?", path)
	return err
}

// AllPaths returns every path currently cached. No scan in the engine
// calls it.
func (c *ScanCache) AllPaths() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := c.db.Query("SELECT path FROM scanned_videos")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (c *ScanCache) Close() error {
	return c.db.Close()
}
