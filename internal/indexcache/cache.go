// Package indexcache is a local, non-authoritative SQLite cache of
// collection directory listings. It exists purely to avoid decrypting
// every object-directory name in a collection on every list(); it is
// never consulted by read, createRevision, or the tamper-detection
// check, so a stale or corrupted cache file can never cause an
// incorrect answer, only a slower one (a cache miss simply falls back
// to walking the directory, as a Collection with no cache attached
// always does).
//
// The cache stores indexed field values and ids in plaintext — they
// are the one part of the Store's data that already lives unencrypted
// in a directory name. A lost or stolen cache file leaks only that,
// never object content.
package indexcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"clinistore/internal/indexcache/migrations"
)

// Row is one cached object-directory entry.
type Row struct {
	DirPath string
	ID      string
	Indexed map[string]string
}

// Cache wraps a SQLite connection holding the cached listings.
type Cache struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) the cache database
// at path. Pass ":memory:" for a process-local, unpersisted cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening index cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// DirMtime stats dir and returns its modification time in unix
// nanoseconds, the cheap signal used to invalidate a cached listing: any
// create, createRevision-triggered rename, or external interference
// changes the collection directory's mtime.
func DirMtime(dir string) (int64, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

// Lookup returns the cached rows for collectionDir if the cache's
// recorded mtime still matches currentMtime. ok is false on a cache
// miss (never seen, or stale) — the caller should fall back to a real
// directory read and then call Store to repopulate.
func (c *Cache) Lookup(collectionDir string, currentMtime int64) (rows []Row, ok bool, err error) {
	var cachedMtime int64
	err = c.db.QueryRow(
		"SELECT dir_mtime_unix FROM collection_mtimes WHERE collection_dir = ?",
		collectionDir,
	).Scan(&cachedMtime)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached collection mtime: %w", err)
	}
	if cachedMtime != currentMtime {
		return nil, false, nil
	}

	dbRows, err := c.db.Query(
		"SELECT dir_path, object_id, indexed_json FROM entries WHERE collection_dir = ?",
		collectionDir,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reading cached entries: %w", err)
	}
	defer dbRows.Close()

	for dbRows.Next() {
		var r Row
		var indexedJSON string
		if err := dbRows.Scan(&r.DirPath, &r.ID, &indexedJSON); err != nil {
			return nil, false, fmt.Errorf("scanning cached entry: %w", err)
		}
		if err := json.Unmarshal([]byte(indexedJSON), &r.Indexed); err != nil {
			return nil, false, fmt.Errorf("decoding cached indexed fields: %w", err)
		}
		rows = append(rows, r)
	}
	if err := dbRows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating cached entries: %w", err)
	}
	return rows, true, nil
}

// Store replaces the cached rows for collectionDir and records mtime
// as the signal under which they're valid.
func (c *Cache) Store(collectionDir string, mtime int64, rows []Row) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("starting cache transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entries WHERE collection_dir = ?", collectionDir); err != nil {
		return fmt.Errorf("clearing stale cache entries: %w", err)
	}

	for _, r := range rows {
		indexedJSON, err := json.Marshal(r.Indexed)
		if err != nil {
			return fmt.Errorf("encoding indexed fields: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO entries (dir_path, collection_dir, object_id, indexed_json, dir_mtime_unix) VALUES (?, ?, ?, ?, ?)",
			r.DirPath, collectionDir, r.ID, string(indexedJSON), mtime,
		); err != nil {
			return fmt.Errorf("inserting cache entry: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO collection_mtimes (collection_dir, dir_mtime_unix) VALUES (?, ?)
		 ON CONFLICT (collection_dir) DO UPDATE SET dir_mtime_unix = excluded.dir_mtime_unix`,
		collectionDir, mtime,
	); err != nil {
		return fmt.Errorf("recording collection mtime: %w", err)
	}

	return tx.Commit()
}
