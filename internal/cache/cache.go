// Package cache provides a disk-backed key/value store with per-operation
// validity windows. It exists to keep paid lookups from being repeated
// within their freshness window, including across process restarts.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// TTLClass selects a pre-configured validity window by operation type.
type TTLClass string

const (
	// ClassSearch covers text-search result sets, which drift as listings
	// appear and disappear.
	ClassSearch TTLClass = "search"
	// ClassDetails covers per-place detail lookups, which change rarely.
	ClassDetails TTLClass = "details"
)

// DefaultWindows returns the default validity window per TTL class.
func DefaultWindows() map[TTLClass]time.Duration {
	return map[TTLClass]time.Duration{
		ClassSearch:  7 * 24 * time.Hour,
		ClassDetails: 30 * 24 * time.Hour,
	}
}

// Cache is a SQLite-backed cache. Concurrent readers and writers are safe;
// writes to the same key serialize through the database and last writer wins.
type Cache struct {
	db      *sql.DB
	windows map[TTLClass]time.Duration
	now     func() time.Time
}

// Option configures the cache.
type Option func(*Cache)

// WithClock overrides the time source. Tests use this to cross validity
// window boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New opens (or creates) the cache database at dsn. A nil windows map uses
// DefaultWindows.
func New(dsn string, windows map[TTLClass]time.Duration, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS entries (
	op_type    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (op_type, key)
)`); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: migrate")
	}

	if windows == nil {
		windows = DefaultWindows()
	}
	c := &Cache{db: db, windows: windows, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// window returns the validity window for a class, zero if unconfigured.
// A zero window means every lookup misses, which fails safe toward paying
// again rather than serving stale data forever.
func (c *Cache) window(class TTLClass) time.Duration {
	return c.windows[class]
}

// Get loads the entry for (class, key) into dest. Returns false on a miss.
// An expired entry is a miss: the validity check happens on read, so
// correctness never depends on PurgeExpired running. Reads do not refresh
// the window.
func (c *Cache) Get(ctx context.Context, class TTLClass, key string, dest any) (bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT value, created_at FROM entries WHERE op_type = ? AND key = ?`,
		string(class), key,
	)

	var value string
	var createdUnix int64
	err := row.Scan(&value, &createdUnix)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "cache: get")
	}

	age := c.now().Sub(time.Unix(createdUnix, 0))
	if age >= c.window(class) {
		return false, nil
	}

	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, eris.Wrap(err, "cache: unmarshal value")
	}
	return true, nil
}

// Put stores value for (class, key), overwriting any existing entry and
// resetting its creation time.
func (c *Cache) Put(ctx context.Context, class TTLClass, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "cache: marshal value")
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO entries (op_type, key, value, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(op_type, key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
		string(class), key, string(raw), c.now().Unix(),
	)
	return eris.Wrap(err, "cache: put")
}

// PurgeExpired deletes entries past their validity window and returns the
// number removed. Maintenance only; Get checks validity independently.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	total := 0
	for class, window := range c.windows {
		cutoff := c.now().Add(-window).Unix()
		res, err := c.db.ExecContext(ctx,
			`DELETE FROM entries WHERE op_type = ? AND created_at <= ?`,
			string(class), cutoff,
		)
		if err != nil {
			return total, eris.Wrapf(err, "cache: purge %s", class)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "cache: rows affected")
		}
		total += int(n)
	}
	return total, nil
}
