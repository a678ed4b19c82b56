package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tablewise/syncengine/internal/record"
)

// GetAll returns every record in a collection, ordered by key for
// deterministic iteration. Returns an empty slice (not nil) when the
// collection is empty.
func (s *Store) GetAll(ctx context.Context, collection string) ([]record.Record, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT doc FROM %s ORDER BY id COLLATE BINARY ASC
	`, table))
	if err != nil {
		return nil, storageErr("query "+collection, err)
	}
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, storageErr("scan "+collection, err)
		}
		var rec record.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate "+collection, err)
	}

	return records, nil
}

// Get returns a single record by its canonical key. The second return value
// reports presence; absence is not an error at this layer.
func (s *Store) Get(ctx context.Context, collection, id string) (record.Record, bool, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, false, err
	}

	var doc string
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT doc FROM %s WHERE id = ?
	`, table), id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, storageErr("get "+collection, err)
	}

	var rec record.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, false, fmt.Errorf("decode %s document: %w", collection, err)
	}
	return rec, true, nil
}

// Put upserts a record by its id. The document is validated against the
// collection schema first; malformed upserts are rejected rather than
// silently stored.
//
// Concurrent upserts to the same key resolve last-write-wins in call order.
func (s *Store) Put(ctx context.Context, collection string, rec record.Record) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	if err := s.validator.Validate(collection, rec); err != nil {
		return err
	}

	key, err := rec.Key()
	if err != nil {
		return err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", collection, err)
	}

	return s.execContext(ctx, "put "+collection, fmt.Sprintf(`
		INSERT INTO %s (id, doc) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc
	`, table), key, string(doc))
}

// Delete removes a record by key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	return s.execContext(ctx, "delete from "+collection,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
}

// ReplaceAll overwrites the whole collection with a fresh authoritative set
// in a single transaction. An empty set is authoritative too: it clears the
// collection rather than being treated as a merge no-op.
func (s *Store) ReplaceAll(ctx context.Context, collection string, records []record.Record) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	// Validate before touching the table so a malformed batch cannot leave
	// the collection half-replaced.
	type row struct{ key, doc string }
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		if err := s.validator.Validate(collection, rec); err != nil {
			return err
		}
		key, err := rec.Key()
		if err != nil {
			return err
		}
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s document: %w", collection, err)
		}
		rows = append(rows, row{key: key, doc: string(doc)})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("replace "+collection+": begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return storageErr("replace "+collection+": clear", err)
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, doc) VALUES (?, ?)
		`, table), r.key, r.doc); err != nil {
			return storageErr("replace "+collection+": insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("replace "+collection+": commit", err)
	}
	return nil
}
