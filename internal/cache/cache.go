// Package cache stores rendered analysis results keyed by a content hash of
// the snapshot plus the policy fingerprint. The analysis is deterministic
// and idempotent, so a hit can be replayed verbatim without re-running
// anything. Backed by sqlite so repeated CLI runs share one file.
package cache

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/calyx-lang/initcheck/internal/policy"
)

// Entry is one cached result.
type Entry struct {
	// Fingerprint is the deterministic report fingerprint; a mismatch on
	// replay would indicate a broken determinism contract.
	Fingerprint string
	// Rendered is the diagnostic output exactly as printed.
	Rendered string
	// Fatal records whether the run had compilation-blocking findings, for
	// the exit code.
	Fatal bool
}

// Cache is an open result store.
type Cache struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS results (
	key         TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	rendered    TEXT NOT NULL,
	fatal       INTEGER NOT NULL
);`

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening result cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing result cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key combines the snapshot content hash with the policy fingerprint. Any
// change to either invalidates the entry.
func Key(snapshotHash string, pol policy.Policy) string {
	return snapshotHash + "\x00" + pol.Fingerprint()
}

// Lookup returns the cached entry for key, if present.
func (c *Cache) Lookup(key string) (Entry, bool, error) {
	var e Entry
	var fatal int
	row := c.db.QueryRow(`SELECT fingerprint, rendered, fatal FROM results WHERE key = ?`, key)
	if err := row.Scan(&e.Fingerprint, &e.Rendered, &fatal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("reading result cache: %w", err)
	}
	e.Fatal = fatal != 0
	return e, true, nil
}

// Store inserts or replaces the entry for key.
func (c *Cache) Store(key string, e Entry) error {
	fatal := 0
	if e.Fatal {
		fatal = 1
	}
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO results (key, fingerprint, rendered, fatal) VALUES (?, ?, ?, ?)`,
		key, e.Fingerprint, e.Rendered, fatal,
	)
	if err != nil {
		return fmt.Errorf("writing result cache: %w", err)
	}
	return nil
}
