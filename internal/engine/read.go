package engine

import (
	"context"
	"log"
	"net/url"

	"github.com/tablewise/syncengine/internal/connectivity"
	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/remote"
	"github.com/tablewise/syncengine/internal/store"
	"github.com/tablewise/syncengine/internal/syncerr"
)

// Reader decides, per read, whether to serve from the local store or the
// network, and refreshes the store from authoritative network results.
type Reader struct {
	store  *store.Store
	remote *remote.Client
	oracle connectivity.Oracle

	// queries holds optional per-collection fetch parameters, e.g. the
	// backend's reviews endpoint wants limit=-1 for a full dump.
	queries map[string]url.Values

	logf Logf
}

// NewReader wires a read coordinator. A nil logf defaults to log.Printf.
func NewReader(st *store.Store, rc *remote.Client, oracle connectivity.Oracle, queries map[string]url.Values, logf Logf) *Reader {
	if logf == nil {
		logf = log.Printf
	}
	return &Reader{store: st, remote: rc, oracle: oracle, queries: queries, logf: logf}
}

// Fetch returns the records of a collection.
//
//  1. Offline: serve the local store as-is. An empty result is not an
//     error; the caller decides whether "no data" is acceptable.
//  2. Online: fetch from the network; on success replace the whole local
//     collection with the fresh set (even when it is legitimately empty)
//     and return it.
//  3. Network failure despite "online": fall back to the local store
//     silently; only when the store is also empty does the network error
//     surface.
func (r *Reader) Fetch(ctx context.Context, collection string) ([]record.Record, error) {
	if !r.oracle.Online() {
		return r.store.GetAll(ctx, collection)
	}

	fresh, netErr := r.remote.FetchCollection(ctx, collection, r.queries[collection])
	if netErr == nil {
		// Authoritative result: whole-collection replace, never a merge.
		// A failing replace degrades to network-only reads; the fresh data
		// is still the best answer available, but the degradation must be
		// visible to an operator.
		if err := r.store.ReplaceAll(ctx, collection, fresh); err != nil {
			r.logf("reader: replace %s after fetch: %v", collection, err)
		}
		return fresh, nil
	}

	// The oracle was wrong or the connection dropped mid-request. A server
	// rejection means "no fresh data" here, same as unreachable.
	cached, storeErr := r.store.GetAll(ctx, collection)
	if storeErr != nil {
		return nil, netErr
	}
	if len(cached) == 0 {
		return nil, netErr
	}
	return cached, nil
}

// FetchByID returns a single record. A miss in both cache and fresh data is
// a NOT_FOUND error. Decorates one Fetch; no independent network operation.
func (r *Reader) FetchByID(ctx context.Context, collection string, id any) (record.Record, error) {
	key, err := record.KeyOf(id)
	if err != nil {
		return nil, err
	}

	records, err := r.Fetch(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		recKey, err := rec.Key()
		if err != nil {
			continue
		}
		if recKey == key {
			return rec, nil
		}
	}
	return nil, syncerr.NotFound(collection, key)
}

// FetchWhere returns the records whose field equals value. Field values are
// compared through their canonical string form so numeric ids and JSON
// numbers match their string spellings.
func (r *Reader) FetchWhere(ctx context.Context, collection, field, value string) ([]record.Record, error) {
	return r.FetchFiltered(ctx, collection, map[string]string{field: value})
}

// FetchFiltered applies several equality filters to one Fetch. The wildcard
// value "all" matches everything, mirroring the presentation layer's filter
// dropdowns.
func (r *Reader) FetchFiltered(ctx context.Context, collection string, filters map[string]string) ([]record.Record, error) {
	records, err := r.Fetch(ctx, collection)
	if err != nil {
		return nil, err
	}

	results := []record.Record{}
	for _, rec := range records {
		if matchesFilters(rec, filters) {
			results = append(results, rec)
		}
	}
	return results, nil
}

// Distinct returns the sorted-by-first-appearance distinct values of a field
// across a collection. Records lacking the field are skipped.
func (r *Reader) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	records, err := r.Fetch(ctx, collection)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	values := []string{}
	for _, rec := range records {
		v, ok := fieldString(rec, field)
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	return values, nil
}

func matchesFilters(rec record.Record, filters map[string]string) bool {
	for field, want := range filters {
		if want == "all" {
			continue
		}
		got, ok := fieldString(rec, field)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// fieldString canonicalizes a field value for comparison. Numbers use the
// same canonical form as record keys so `restaurant_id: 3` matches "3".
func fieldString(rec record.Record, field string) (string, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	if key, err := record.KeyOf(v); err == nil {
		return key, true
	}
	if b, isBool := v.(bool); isBool {
		if b {
			return "true", true
		}
		return "false", true
	}
	return "", false
}
