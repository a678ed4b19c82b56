// Package syncengine is an offline-first synchronization engine. It keeps a
// durable local copy of remote collections, accepts writes while
// disconnected, and replays them once connectivity returns.
//
// Reads are served from the local store when offline and refreshed from the
// network when online; a network failure silently falls back to the local
// copy. Writes apply locally at once, queue durably in an outbox, and replay
// to the backend with a stable idempotency key until confirmed. A separate
// response cache replays document and asset requests cache-first, versioned
// by an explicit cache generation.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tablewise/syncengine/internal/config"
	"github.com/tablewise/syncengine/internal/connectivity"
	"github.com/tablewise/syncengine/internal/engine"
	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/remote"
	"github.com/tablewise/syncengine/internal/respcache"
	"github.com/tablewise/syncengine/internal/store"
)

// Config re-exports the configuration type; see LoadConfig.
type Config = config.Config

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Record is an opaque JSON-like document with a required unique id.
type Record = record.Record

// Kind classifies a mutation.
type Kind = record.Kind

const (
	KindCreate = record.KindCreate
	KindUpdate = record.KindUpdate
	KindDelete = record.KindDelete
)

// The built-in collections. Unknown collection names are rejected by the
// local store.
const (
	CollectionEntities = record.CollectionEntities
	CollectionReviews  = record.CollectionReviews
)

// Engine wires the local store, outbox, read coordinator, connectivity
// oracle, and response cache behind one handle. Open one per process and
// Close it at shutdown.
type Engine struct {
	cfg config.Config

	store       *store.Store
	cache       *respcache.Cache
	interceptor *respcache.Interceptor
	remote      *remote.Client
	oracle      *connectivity.Switch
	prober      *connectivity.Prober
	reader      *engine.Reader
	outbox      *engine.Outbox

	cancel context.CancelFunc
}

// collectionQueries carries per-collection fetch parameters. The backend's
// reviews endpoint pages by default; limit=-1 asks for the full dump.
var collectionQueries = map[string]url.Values{
	record.CollectionReviews: {"limit": []string{"-1"}},
}

// Open builds an engine from configuration. The local store is opened (and
// migrated) before Open returns; replay triggers and the connectivity probe
// start immediately.
func Open(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, store: st}

	if cfg.CachePath != "" {
		cache, err := respcache.Open(cfg.CachePath, cfg.CacheGeneration)
		if err != nil {
			st.Close()
			return nil, err
		}
		e.cache = cache
		e.interceptor = respcache.NewInterceptor(cache, originHost(cfg.RemoteBaseURL), nil)
	}

	e.remote = remote.New(remote.Options{
		BaseURL: cfg.RemoteBaseURL,
		Timeout: cfg.RequestTimeout.Std(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if cfg.ProbeURL != "" {
		e.prober = connectivity.NewProber(cfg.ProbeURL, cfg.ProbeInterval.Std(), nil)
		e.oracle = e.prober.Switch
		go e.prober.Run(ctx)
	} else {
		// No probe: trust the host to flip SetOnline. Start optimistic;
		// every request path tolerates a wrong "online" reading.
		e.oracle = connectivity.NewSwitch(true)
	}

	e.reader = engine.NewReader(st, e.remote, e.oracle, collectionQueries, nil)
	e.outbox = engine.NewOutbox(engine.OutboxOptions{
		Store:          st,
		Remote:         e.remote,
		Oracle:         e.oracle,
		BackoffBase:    cfg.BackoffBase.Std(),
		BackoffMax:     cfg.BackoffMax.Std(),
		Concurrency:    cfg.ReplayConcurrency,
		MaxRejects:     cfg.MaxRejects,
		ReplayInterval: cfg.ReplayInterval.Std(),
	})
	e.outbox.Start()

	return e, nil
}

// Close stops replay and probing, waits for in-flight work, and releases the
// store and cache. Pending writes stay durable and replay on the next Open.
func (e *Engine) Close() error {
	e.cancel()
	e.outbox.Close()

	errs := []error{e.store.Close()}
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	return errors.Join(errs...)
}

// Fetch returns the records of a collection, from the network when online
// and the local store otherwise.
func (e *Engine) Fetch(ctx context.Context, collection string) ([]Record, error) {
	return e.reader.Fetch(ctx, collection)
}

// FetchByID returns a single record by id, which may be a string or integer.
func (e *Engine) FetchByID(ctx context.Context, collection string, id any) (Record, error) {
	return e.reader.FetchByID(ctx, collection, id)
}

// FetchWhere returns the records whose field equals value.
func (e *Engine) FetchWhere(ctx context.Context, collection, field, value string) ([]Record, error) {
	return e.reader.FetchWhere(ctx, collection, field, value)
}

// FetchFiltered applies equality filters to one fetch; the value "all"
// matches everything.
func (e *Engine) FetchFiltered(ctx context.Context, collection string, filters map[string]string) ([]Record, error) {
	return e.reader.FetchFiltered(ctx, collection, filters)
}

// Distinct returns the distinct values of a field across a collection, in
// first-appearance order.
func (e *Engine) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	return e.reader.Distinct(ctx, collection, field)
}

// Submit accepts a mutation. It applies locally and enqueues durably before
// returning; the server round-trip happens asynchronously. The returned
// local id identifies the pending write.
func (e *Engine) Submit(ctx context.Context, kind Kind, collection string, payload Record) (string, error) {
	return e.outbox.Submit(ctx, kind, collection, payload)
}

// Create submits a create mutation.
func (e *Engine) Create(ctx context.Context, collection string, payload Record) (string, error) {
	return e.outbox.Submit(ctx, record.KindCreate, collection, payload)
}

// Update submits an update mutation; the payload must carry the record id.
func (e *Engine) Update(ctx context.Context, collection string, payload Record) (string, error) {
	return e.outbox.Submit(ctx, record.KindUpdate, collection, payload)
}

// Delete submits a delete mutation for the given id.
func (e *Engine) Delete(ctx context.Context, collection string, id any) (string, error) {
	key, err := record.KeyOf(id)
	if err != nil {
		return "", err
	}
	return e.outbox.Submit(ctx, record.KindDelete, collection, Record{"id": key})
}

// ReplayAll runs one replay pass over the outstanding pending writes.
func (e *Engine) ReplayAll(ctx context.Context) {
	e.outbox.ReplayAll(ctx)
}

// Flush waits for asynchronous replay attempts to settle. Useful in tests
// and at controlled shutdown points.
func (e *Engine) Flush() {
	e.outbox.Flush()
}

// PendingWrites returns the number of unconfirmed mutations in the outbox.
func (e *Engine) PendingWrites(ctx context.Context) (int, error) {
	return e.store.CountPending(ctx)
}

// Online reports the connectivity oracle's current advisory state.
func (e *Engine) Online() bool {
	return e.oracle.Online()
}

// SetOnline feeds the host platform's connectivity signal to the oracle.
// With a probe configured the next probe may override it.
func (e *Engine) SetOnline(online bool) {
	e.oracle.SetOnline(online)
}

// AssetClient returns an HTTP client that serves document and asset requests
// cache-first from the response cache. Without a configured cache it returns
// a plain client.
func (e *Engine) AssetClient() *http.Client {
	if e.interceptor == nil {
		return &http.Client{Timeout: e.cfg.RequestTimeout.Std()}
	}
	return e.interceptor.Client(e.cfg.RequestTimeout.Std())
}

// Precache fetches the configured precache URLs into the response cache.
func (e *Engine) Precache(ctx context.Context) error {
	if e.interceptor == nil {
		return fmt.Errorf("no response cache configured")
	}
	return e.interceptor.Precache(ctx, e.cfg.PrecacheURLs)
}

// ActivateCache purges response cache entries from prior generations. Call
// it after Precache has populated the active generation.
func (e *Engine) ActivateCache(ctx context.Context) error {
	if e.cache == nil {
		return fmt.Errorf("no response cache configured")
	}
	return e.cache.Activate(ctx)
}

func originHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}
