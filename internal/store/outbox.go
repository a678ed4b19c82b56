package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tablewise/syncengine/internal/record"
)

// EnqueuePending persists a pending write durably in the outbox.
// Uses ON CONFLICT(local_id) DO NOTHING for idempotency: re-enqueueing the
// same local id after a crash between apply and enqueue is silently ignored.
func (s *Store) EnqueuePending(ctx context.Context, pw record.PendingWrite) error {
	if pw.LocalID == "" {
		return fmt.Errorf("pending write has no local id")
	}
	if !pw.Kind.Valid() {
		return fmt.Errorf("pending write has invalid kind %q", pw.Kind)
	}

	payload, err := json.Marshal(pw.Payload)
	if err != nil {
		return fmt.Errorf("encode pending payload: %w", err)
	}

	return s.execContext(ctx, "enqueue pending write", `
		INSERT INTO outbox
		(local_id, kind, collection, payload, idempotency_key, created_at, attempt_count, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO NOTHING
	`,
		pw.LocalID,
		string(pw.Kind),
		pw.Collection,
		string(payload),
		pw.IdempotencyKey,
		pw.CreatedAt.UnixNano(),
		pw.AttemptCount,
		lastAttemptNanos(pw.LastAttemptAt),
	)
}

// ListPending returns all outstanding pending writes, oldest first.
// Ties on created_at break by local_id for deterministic replay order.
func (s *Store) ListPending(ctx context.Context) ([]record.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, kind, collection, payload, idempotency_key, created_at, attempt_count, last_attempt_at
		FROM outbox
		ORDER BY created_at ASC, local_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, storageErr("list pending writes", err)
	}
	defer rows.Close()

	pending := []record.PendingWrite{}
	for rows.Next() {
		pw, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, pw)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending writes", err)
	}

	return pending, nil
}

// GetPending returns a single pending write by local id.
func (s *Store) GetPending(ctx context.Context, localID string) (record.PendingWrite, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, kind, collection, payload, idempotency_key, created_at, attempt_count, last_attempt_at
		FROM outbox WHERE local_id = ?
	`, localID)

	pw, err := scanPendingRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.PendingWrite{}, false, nil
		}
		return record.PendingWrite{}, false, err
	}
	return pw, true, nil
}

// MarkAttempt records a failed replay attempt: attempt_count increments and
// last_attempt_at moves forward, returning the entry to the queue for the
// next pass.
func (s *Store) MarkAttempt(ctx context.Context, localID string, at time.Time) error {
	return s.execContext(ctx, "mark replay attempt", `
		UPDATE outbox
		SET attempt_count = attempt_count + 1, last_attempt_at = ?
		WHERE local_id = ?
	`, at.UnixNano(), localID)
}

// DeletePending removes a confirmed (or permanently failed) pending write.
// Deleting an absent entry is a no-op, so a crash between remote confirmation
// and deletion only costs one redundant replay, never a lost acknowledgment.
func (s *Store) DeletePending(ctx context.Context, localID string) error {
	return s.execContext(ctx, "delete pending write",
		`DELETE FROM outbox WHERE local_id = ?`, localID)
}

// CountPending returns the number of outstanding pending writes.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, storageErr("count pending writes", err)
	}
	return n, nil
}

type pendingScanner interface {
	Scan(dest ...any) error
}

func scanPendingFrom(sc pendingScanner) (record.PendingWrite, error) {
	var (
		pw          record.PendingWrite
		kind        string
		payload     string
		createdAt   int64
		lastAttempt int64
	)
	if err := sc.Scan(
		&pw.LocalID, &kind, &pw.Collection, &payload,
		&pw.IdempotencyKey, &createdAt, &pw.AttemptCount, &lastAttempt,
	); err != nil {
		return record.PendingWrite{}, err
	}

	pw.Kind = record.Kind(kind)
	pw.CreatedAt = time.Unix(0, createdAt)
	if lastAttempt > 0 {
		pw.LastAttemptAt = time.Unix(0, lastAttempt)
	}
	if err := json.Unmarshal([]byte(payload), &pw.Payload); err != nil {
		return record.PendingWrite{}, fmt.Errorf("decode pending payload: %w", err)
	}
	return pw, nil
}

func scanPending(rows *sql.Rows) (record.PendingWrite, error) {
	pw, err := scanPendingFrom(rows)
	if err != nil {
		return record.PendingWrite{}, storageErr("scan pending write", err)
	}
	return pw, nil
}

func scanPendingRow(row *sql.Row) (record.PendingWrite, error) {
	pw, err := scanPendingFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.PendingWrite{}, err
		}
		return record.PendingWrite{}, storageErr("scan pending write", err)
	}
	return pw, nil
}

func lastAttemptNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
