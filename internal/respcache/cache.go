package respcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tablewise/syncengine/internal/syncerr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS responses (
    generation  TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    status      INTEGER NOT NULL,
    headers     TEXT NOT NULL,
    body        BLOB NOT NULL,
    stored_at   INTEGER NOT NULL,
    PRIMARY KEY (generation, fingerprint)
);
`

// Entry is a captured response snapshot. Header holds the replayed subset,
// not the full original header set.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// replayedHeaders is the subset of response headers worth replaying from
// cache. Hop-by-hop and connection-level headers are dropped.
var replayedHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// Cache is a durable response cache. Every entry belongs to the generation
// the cache was opened with; entries from other generations are invisible to
// Get and removed by Activate.
type Cache struct {
	db         *sql.DB
	generation string
}

// Open creates or opens a response cache at the given path, scoped to one
// generation identifier. Open is idempotent and safe to call concurrently.
func Open(path, generation string) (*Cache, error) {
	if generation == "" {
		return nil, fmt.Errorf("cache generation must not be empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, syncerr.StorageUnavailable("open response cache", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncerr.StorageUnavailable("connect to response cache", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, syncerr.StorageUnavailable("apply pragmas", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, syncerr.StorageUnavailable("apply response cache schema", err)
	}

	return &Cache{db: db, generation: generation}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Generation returns the active generation identifier.
func (c *Cache) Generation() string {
	return c.generation
}

// Get returns the cached entry for a fingerprint in the active generation.
func (c *Cache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT status, headers, body, stored_at FROM responses
		 WHERE generation = ? AND fingerprint = ?`,
		c.generation, fingerprint)

	var (
		entry       Entry
		headersJSON string
		storedAt    int64
	)
	if err := row.Scan(&entry.Status, &headersJSON, &entry.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, syncerr.StorageUnavailable("get cached response", err)
	}

	if err := json.Unmarshal([]byte(headersJSON), &entry.Header); err != nil {
		return Entry{}, false, fmt.Errorf("cached response headers for %q: %w", fingerprint, err)
	}
	entry.StoredAt = time.Unix(0, storedAt).UTC()
	return entry, true, nil
}

// Put stores or overwrites an entry under the active generation. Only the
// replayed header subset is persisted.
func (c *Cache) Put(ctx context.Context, fingerprint string, entry Entry) error {
	kept := http.Header{}
	for _, name := range replayedHeaders {
		if v := entry.Header.Get(name); v != "" {
			kept.Set(name, v)
		}
	}
	headersJSON, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode response headers: %w", err)
	}

	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO responses (generation, fingerprint, status, headers, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation, fingerprint) DO UPDATE SET
		   status = excluded.status,
		   headers = excluded.headers,
		   body = excluded.body,
		   stored_at = excluded.stored_at`,
		c.generation, fingerprint, entry.Status, string(headersJSON), entry.Body, storedAt.UnixNano())
	if err != nil {
		return syncerr.StorageUnavailable("store cached response", err)
	}
	return nil
}

// Activate purges every entry belonging to a generation other than the
// active one. Deployers bump the generation and call Activate once the new
// version is live; old assets disappear in one pass.
func (c *Cache) Activate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM responses WHERE generation != ?`, c.generation)
	if err != nil {
		return syncerr.StorageUnavailable("purge prior cache generations", err)
	}
	return nil
}

// Count returns the number of entries in the active generation.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM responses WHERE generation = ?`, c.generation).Scan(&n)
	if err != nil {
		return 0, syncerr.StorageUnavailable("count cached responses", err)
	}
	return n, nil
}
