package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablewise/syncengine/internal/connectivity"
	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/remote"
	"github.com/tablewise/syncengine/internal/store"
	"github.com/tablewise/syncengine/internal/syncerr"
)

func openEngineStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFetch_OfflineServesLocalStore(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	st := openEngineStore(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, st.Put(ctx, record.CollectionEntities, record.Record{"id": float64(i), "name": "E"}))
	}

	oracle := connectivity.NewSwitch(false)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, nil, nil)

	got, err := reader.Fetch(ctx, record.CollectionEntities)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Zero(t, hits.Load(), "offline read must not touch the network")
}

func TestFetch_OfflineEmptyIsNotAnError(t *testing.T) {
	st := openEngineStore(t)
	oracle := connectivity.NewSwitch(false)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: "http://127.0.0.1:0"}), oracle, nil, nil)

	got, err := reader.Fetch(context.Background(), record.CollectionEntities)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetch_OnlineRefreshesLocalStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"name":"A"}]`))
	}))
	defer srv.Close()

	st := openEngineStore(t)
	oracle := connectivity.NewSwitch(true)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, nil, nil)

	ctx := context.Background()
	got, err := reader.Fetch(ctx, record.CollectionEntities)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].String("name"))

	// The fresh record landed in the local store under its canonical key.
	stored, ok, err := st.Get(ctx, record.CollectionEntities, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", stored.String("name"))
}

func TestFetch_AuthoritativeEmptyReplacesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	st := openEngineStore(t)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		rec := record.Record{"id": float64(i), "restaurant_id": float64(1), "rating": float64(4)}
		require.NoError(t, st.Put(ctx, record.CollectionReviews, rec))
	}

	oracle := connectivity.NewSwitch(true)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, nil, nil)

	got, err := reader.Fetch(ctx, record.CollectionReviews)
	require.NoError(t, err)
	assert.Empty(t, got, "authoritative empty result wins")

	stored, err := st.GetAll(ctx, record.CollectionReviews)
	require.NoError(t, err)
	assert.Empty(t, stored, "replace, not merge")
}

func TestFetch_NetworkFailureFallsBackToCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // oracle will be wrong

	st := openEngineStore(t)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, record.CollectionEntities, record.Record{"id": "1", "name": "cached"}))

	oracle := connectivity.NewSwitch(true)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, nil, nil)

	got, err := reader.Fetch(ctx, record.CollectionEntities)
	require.NoError(t, err, "fallback is silent when cache is non-empty")
	require.Len(t, got, 1)
	assert.Equal(t, "cached", got[0].String("name"))
}

func TestFetch_NetworkFailureEmptyCacheSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	st := openEngineStore(t)
	oracle := connectivity.NewSwitch(true)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, nil, nil)

	_, err := reader.Fetch(context.Background(), record.CollectionEntities)
	require.Error(t, err)
	assert.True(t, syncerr.IsNetworkUnreachable(err))
}

func TestFetch_RemoteRejectedTreatedAsNoFreshData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	st := openEngineStore(t)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, record.CollectionEntities, record.Record{"id": "1", "name": "cached"}))

	oracle := connectivity.NewSwitch(true)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, nil, nil)

	got, err := reader.Fetch(ctx, record.CollectionEntities)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cached", got[0].String("name"))
}

func TestFetch_FailedReplaceIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"missing id"}]`))
	}))
	defer srv.Close()

	st := openEngineStore(t)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, record.CollectionEntities, record.Record{"id": "1", "name": "kept"}))

	var mu sync.Mutex
	var logs []string
	logf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		logs = append(logs, fmt.Sprintf(format, args...))
	}

	oracle := connectivity.NewSwitch(true)
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, nil, logf)

	// The fresh batch is still the best answer, but the failed replace must
	// reach the operator channel and leave the local collection intact.
	got, err := reader.Fetch(ctx, record.CollectionEntities)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], record.CollectionEntities)

	stored, err := st.GetAll(ctx, record.CollectionEntities)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "kept", stored[0].String("name"))
}

func TestFetch_CollectionQueryForwarded(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	st := openEngineStore(t)
	oracle := connectivity.NewSwitch(true)
	queries := map[string]url.Values{
		record.CollectionReviews: {"limit": []string{"-1"}},
	}
	reader := NewReader(st, remote.New(remote.Options{BaseURL: srv.URL}), oracle, queries, nil)

	_, err := reader.Fetch(context.Background(), record.CollectionReviews)
	require.NoError(t, err)
	assert.Equal(t, "-1", gotLimit)
}

func offlineReaderWith(t *testing.T, collection string, records ...record.Record) *Reader {
	t.Helper()
	st := openEngineStore(t)
	ctx := context.Background()
	for _, rec := range records {
		require.NoError(t, st.Put(ctx, collection, rec))
	}
	oracle := connectivity.NewSwitch(false)
	return NewReader(st, remote.New(remote.Options{BaseURL: "http://127.0.0.1:0"}), oracle, nil, nil)
}

func TestFetchByID(t *testing.T) {
	reader := offlineReaderWith(t, record.CollectionEntities,
		record.Record{"id": float64(1), "name": "A"},
		record.Record{"id": float64(2), "name": "B"},
	)
	ctx := context.Background()

	rec, err := reader.FetchByID(ctx, record.CollectionEntities, 2)
	require.NoError(t, err)
	assert.Equal(t, "B", rec.String("name"))

	// Integer and string ids are interchangeable at the lookup boundary.
	rec, err = reader.FetchByID(ctx, record.CollectionEntities, "2")
	require.NoError(t, err)
	assert.Equal(t, "B", rec.String("name"))

	_, err = reader.FetchByID(ctx, record.CollectionEntities, 99)
	require.Error(t, err)
	assert.True(t, syncerr.IsNotFound(err))
}

func TestFetchWhere_NumericFieldMatchesString(t *testing.T) {
	reader := offlineReaderWith(t, record.CollectionReviews,
		record.Record{"id": "r1", "restaurant_id": float64(3), "rating": float64(5)},
		record.Record{"id": "r2", "restaurant_id": float64(4), "rating": float64(2)},
	)

	got, err := reader.FetchWhere(context.Background(), record.CollectionReviews, "restaurant_id", "3")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].String("id"))
}

func TestFetchFiltered_AllWildcard(t *testing.T) {
	reader := offlineReaderWith(t, record.CollectionEntities,
		record.Record{"id": "1", "cuisine_type": "Asian", "neighborhood": "Queens"},
		record.Record{"id": "2", "cuisine_type": "Asian", "neighborhood": "Manhattan"},
		record.Record{"id": "3", "cuisine_type": "Pizza", "neighborhood": "Queens"},
	)
	ctx := context.Background()

	got, err := reader.FetchFiltered(ctx, record.CollectionEntities, map[string]string{
		"cuisine_type": "Asian",
		"neighborhood": "all",
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = reader.FetchFiltered(ctx, record.CollectionEntities, map[string]string{
		"cuisine_type": "Asian",
		"neighborhood": "Queens",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].String("id"))
}

func TestDistinct(t *testing.T) {
	reader := offlineReaderWith(t, record.CollectionEntities,
		record.Record{"id": "1", "neighborhood": "Queens"},
		record.Record{"id": "2", "neighborhood": "Manhattan"},
		record.Record{"id": "3", "neighborhood": "Queens"},
		record.Record{"id": "4"}, // no neighborhood, skipped
	)

	got, err := reader.Distinct(context.Background(), record.CollectionEntities, "neighborhood")
	require.NoError(t, err)
	assert.Equal(t, []string{"Queens", "Manhattan"}, got, "first-appearance order, no duplicates")
}
