package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/syncerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	defer s1.Close()

	// A second open against the same file must not race on schema creation.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()
}

func TestOpen_Pragmas(t *testing.T) {
	s := openTestStore(t)

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestOpen_SchemaVersion(t *testing.T) {
	s := openTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	s.Close()

	// Destructive downgrades are an incompatible upgrade path.
	if _, err := Open(path); err == nil {
		t.Fatal("Open() should reject a store from a newer schema version")
	}
}

func TestOpen_Unavailable(t *testing.T) {
	// A directory path cannot be opened as a database file.
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("Open() should fail for an unusable path")
	}
	if !syncerr.IsStorageUnavailable(err) {
		t.Errorf("error = %v, want STORAGE_UNAVAILABLE", err)
	}
}

func TestPutGetAll_UpsertByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []record.Record{
		{"id": float64(1), "name": "A"},
		{"id": float64(2), "name": "B"},
		{"id": float64(1), "name": "A2"}, // same id, most recent wins
	}
	for _, r := range recs {
		if err := s.Put(ctx, record.CollectionEntities, r); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	got, err := s.GetAll(ctx, record.CollectionEntities)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetAll() returned %d records, want 2", len(got))
	}

	byKey := map[string]record.Record{}
	for _, r := range got {
		key, err := r.Key()
		if err != nil {
			t.Fatalf("stored record has bad key: %v", err)
		}
		byKey[key] = r
	}
	if name := byKey["1"].String("name"); name != "A2" {
		t.Errorf("record 1 name = %q, want %q (last put wins)", name, "A2")
	}
}

func TestPut_RejectsMalformed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, record.CollectionEntities, record.Record{"name": "no id"}); err == nil {
		t.Fatal("Put() should reject a record without an id")
	}
	if err := s.Put(ctx, record.CollectionReviews, record.Record{"id": "r1", "rating": 5}); err == nil {
		t.Fatal("Put() should reject a review without restaurant_id")
	}

	got, err := s.GetAll(ctx, record.CollectionEntities)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("rejected upsert was stored: %v", got)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, record.CollectionEntities, record.Record{"id": "5", "name": "E"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Delete(ctx, record.CollectionEntities, "5"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	// Deleting an absent key is a no-op.
	if err := s.Delete(ctx, record.CollectionEntities, "5"); err != nil {
		t.Fatalf("second Delete() failed: %v", err)
	}

	_, ok, err := s.Get(ctx, record.CollectionEntities, "5")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ok {
		t.Error("record still present after delete")
	}
}

func TestReplaceAll_WholeCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		rec := record.Record{"id": float64(i), "restaurant_id": float64(1), "rating": float64(4)}
		if err := s.Put(ctx, record.CollectionReviews, rec); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	fresh := []record.Record{
		{"id": float64(100), "restaurant_id": float64(2), "rating": float64(5)},
	}
	if err := s.ReplaceAll(ctx, record.CollectionReviews, fresh); err != nil {
		t.Fatalf("ReplaceAll() failed: %v", err)
	}

	got, err := s.GetAll(ctx, record.CollectionReviews)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetAll() returned %d records after replace, want 1", len(got))
	}
}

func TestReplaceAll_AuthoritativeEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		rec := record.Record{"id": float64(i), "restaurant_id": float64(1), "rating": float64(3)}
		if err := s.Put(ctx, record.CollectionReviews, rec); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	// An authoritative empty result overwrites a stale non-empty cache.
	if err := s.ReplaceAll(ctx, record.CollectionReviews, nil); err != nil {
		t.Fatalf("ReplaceAll(empty) failed: %v", err)
	}

	got, err := s.GetAll(ctx, record.CollectionReviews)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("collection has %d records after empty replace, want 0", len(got))
	}
}

func TestReplaceAll_MalformedBatchLeavesCollectionIntact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, record.CollectionEntities, record.Record{"id": "1", "name": "keep"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	bad := []record.Record{
		{"id": "2", "name": "ok"},
		{"name": "missing id"},
	}
	if err := s.ReplaceAll(ctx, record.CollectionEntities, bad); err == nil {
		t.Fatal("ReplaceAll() should reject a batch with a malformed record")
	}

	got, err := s.GetAll(ctx, record.CollectionEntities)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("collection half-replaced: %d records, want 1", len(got))
	}
}

func TestUnknownCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAll(ctx, "nope"); err == nil {
		t.Error("GetAll() should reject an unknown collection")
	}
	if err := s.Put(ctx, "nope", record.Record{"id": "1"}); err == nil {
		t.Error("Put() should reject an unknown collection")
	}
}
