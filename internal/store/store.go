// Package store provides the durable local store: the entities and reviews
// collections plus the pending-write outbox, backed by SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/syncerr"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (entities, reviews, outbox)
//
// Adding a collection is a compatible upgrade handled here; removing or
// renaming one is incompatible and requires an explicit migration or wipe.
const currentSchemaVersion = 1

// Store is the durable local store. All operations are durable before they
// return; there is no write buffering beyond SQLite's WAL.
//
// Failure mode: when the underlying database cannot be opened or used, every
// operation fails with a STORAGE_UNAVAILABLE error and callers degrade to
// network-only operation.
type Store struct {
	db        *sql.DB
	validator *record.Validator
}

// collectionTables whitelists the document collections. The outbox is not a
// document collection; it has its own structured operations.
var collectionTables = map[string]string{
	record.CollectionEntities: "entities",
	record.CollectionReviews:  "reviews",
}

// Open creates or opens the local store at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Open is idempotent and safe to call concurrently; schema creation uses
// IF NOT EXISTS guards so concurrent openers do not race on creation.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, syncerr.StorageUnavailable("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncerr.StorageUnavailable("connect to database", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, syncerr.StorageUnavailable("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, syncerr.StorageUnavailable("apply schema", err)
	}

	validator, err := record.DefaultValidator()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("record validator: %w", err)
	}

	return &Store{db: db, validator: validator}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// tableFor resolves a collection name to its table, rejecting unknown names
// before they reach SQL.
func tableFor(collection string) (string, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return "", fmt.Errorf("unknown collection %q", collection)
	}
	return table, nil
}

// storageErr wraps a database failure into the shared taxonomy.
func storageErr(op string, err error) error {
	return syncerr.StorageUnavailable(op, err)
}

// execContext is a small helper so collection and outbox operations share the
// error mapping.
func (s *Store) execContext(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr(op, err)
	}
	return nil
}
