package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablewise/syncengine/internal/connectivity"
	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/remote"
	"github.com/tablewise/syncengine/internal/store"
	"github.com/tablewise/syncengine/internal/syncerr"
)

// Logf is the operator-visible channel for permanent replay failures.
type Logf func(format string, args ...any)

// OutboxOptions configures a write coordinator. Zero values fall back to
// defaults.
type OutboxOptions struct {
	Store  *store.Store
	Remote *remote.Client
	Oracle connectivity.Oracle
	Clock  Clock

	// BackoffBase and BackoffMax bound the exponential retry delay for
	// network-level failures. Defaults: 1s base, 5m max.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Concurrency caps concurrent replays across distinct pending writes.
	// Replays for the same local id never overlap regardless. Default 4.
	Concurrency int

	// MaxRejects bounds attempts for writes the server explicitly declines.
	// After this many rejections the write is dropped and reported. Default 3.
	MaxRejects int

	// ReplayInterval adds a fixed-interval replay pass on top of the
	// online-transition trigger. Zero disables the ticker.
	ReplayInterval time.Duration

	// Log receives operator-visible failure reports. Defaults to log.Printf.
	Log Logf
}

// Outbox accepts writes, applies them locally, and replays them to the
// remote service until acknowledged.
//
// State machine per pending write:
//
//	Created -> Replaying -> Confirmed (deleted)
//	                     -> Failed (back to Created for the next pass)
type Outbox struct {
	store  *store.Store
	remote *remote.Client
	oracle connectivity.Oracle
	clock  Clock

	backoffBase    time.Duration
	backoffMax     time.Duration
	maxRejects     int
	replayInterval time.Duration
	logf           Logf

	sem      chan struct{}
	mu       sync.Mutex
	inflight map[string]bool

	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks replay attempts; loopWG tracks the periodic replay loop.
	// Flush waits only on wg, so a configured ticker never blocks it.
	wg        sync.WaitGroup
	loopWG    sync.WaitGroup
	cancelSub func()
	startOnce sync.Once
}

// NewOutbox wires a write coordinator. Call Start to enable the automatic
// replay triggers; Submit and ReplayAll work without it.
func NewOutbox(opts OutboxOptions) *Outbox {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	backoffMax := opts.BackoffMax
	if backoffMax <= 0 {
		backoffMax = 5 * time.Minute
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	maxRejects := opts.MaxRejects
	if maxRejects <= 0 {
		maxRejects = 3
	}
	logf := opts.Log
	if logf == nil {
		logf = log.Printf
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		store:          opts.Store,
		remote:         opts.Remote,
		oracle:         opts.Oracle,
		clock:          clock,
		backoffBase:    backoffBase,
		backoffMax:     backoffMax,
		maxRejects:     maxRejects,
		replayInterval: opts.ReplayInterval,
		logf:           logf,
		sem:            make(chan struct{}, concurrency),
		inflight:       map[string]bool{},
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start wires the replay triggers: every offline-to-online transition runs a
// replay pass, plus an optional fixed-interval ticker.
func (o *Outbox) Start() {
	o.startOnce.Do(func() {
		o.cancelSub = o.oracle.Subscribe(func(online bool) {
			if !online {
				return
			}
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.ReplayAll(o.ctx)
			}()
		})

		if o.replayInterval > 0 {
			o.loopWG.Add(1)
			go func() {
				defer o.loopWG.Done()
				ticker := time.NewTicker(o.replayInterval)
				defer ticker.Stop()
				for {
					select {
					case <-o.ctx.Done():
						return
					case <-ticker.C:
						if o.oracle.Online() {
							o.ReplayAll(o.ctx)
						}
					}
				}
			}()
		}
	})
}

// Close stops the replay triggers and waits for in-flight replays. Pending
// writes stay durable in the outbox and replay on the next start.
func (o *Outbox) Close() {
	if o.cancelSub != nil {
		o.cancelSub()
	}
	o.cancel()
	o.loopWG.Wait()
	o.wg.Wait()
}

// Flush waits for asynchronous replay attempts started by Submit or the
// online-transition trigger to settle. It does not wait for the periodic
// replay loop, which runs until Close.
func (o *Outbox) Flush() {
	o.wg.Wait()
}

// Submit accepts a mutation. It applies the write to the local store and
// persists a pending outbox entry durably before returning; it never blocks
// on the network. The returned local id identifies the pending write.
//
// Acceptance is not a server confirmation: replay happens asynchronously,
// immediately when the oracle reports online and otherwise on the next
// online transition. Abandoning the caller's context after Submit returns
// does not roll the write back.
func (o *Outbox) Submit(ctx context.Context, kind record.Kind, collection string, payload record.Record) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("invalid mutation kind %q", kind)
	}
	if payload == nil {
		return "", fmt.Errorf("mutation payload is nil")
	}

	localID := uuid.NewString()
	pw := record.PendingWrite{
		LocalID:        localID,
		Kind:           kind,
		Collection:     collection,
		Payload:        payload.Clone(),
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      o.clock.Now(),
	}

	// Optimistic local apply so subsequent reads reflect the mutation
	// before any server round-trip.
	if err := o.applyLocal(ctx, pw); err != nil {
		return "", err
	}

	if err := o.store.EnqueuePending(ctx, pw); err != nil {
		return "", err
	}

	// Immediate replay attempt, fire-and-forget from the caller's
	// perspective. Skipped offline; the online transition will trigger it.
	if o.oracle.Online() {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.replayOne(o.ctx, localID)
		}()
	}

	return localID, nil
}

// applyLocal reflects the mutation in the local store. Creates without a
// server-assigned id are keyed by the local id until a fresh authoritative
// fetch replaces the collection.
func (o *Outbox) applyLocal(ctx context.Context, pw record.PendingWrite) error {
	switch pw.Kind {
	case record.KindCreate, record.KindUpdate:
		applied := pw.Payload.Clone()
		if _, ok := applied["id"]; !ok && pw.Kind == record.KindCreate {
			applied["id"] = pw.LocalID
		}
		return o.store.Put(ctx, pw.Collection, applied)
	case record.KindDelete:
		key, err := pw.Payload.Key()
		if err != nil {
			return fmt.Errorf("delete payload: %w", err)
		}
		return o.store.Delete(ctx, pw.Collection, key)
	default:
		return fmt.Errorf("invalid mutation kind %q", pw.Kind)
	}
}

// ReplayAll runs one replay pass: every outstanding pending write that is
// due under backoff is attempted, oldest first. Distinct writes replay
// concurrently up to the configured limit; the pass returns when every
// attempt has settled.
func (o *Outbox) ReplayAll(ctx context.Context) {
	pending, err := o.store.ListPending(ctx)
	if err != nil {
		o.logf("outbox: list pending writes: %v", err)
		return
	}

	// Workers pull from the channel so attempts start oldest-first even
	// when several run concurrently.
	items := make(chan string)
	var pass sync.WaitGroup
	for i := 0; i < cap(o.sem); i++ {
		pass.Add(1)
		go func() {
			defer pass.Done()
			for localID := range items {
				o.replayOne(ctx, localID)
			}
		}()
	}
	for _, pw := range pending {
		if ctx.Err() != nil {
			break
		}
		items <- pw.LocalID
	}
	close(items)
	pass.Wait()
}

// replayOne attempts a single pending write. No two replays for the same
// local id run simultaneously; a write already in flight is skipped, not
// queued behind itself.
func (o *Outbox) replayOne(ctx context.Context, localID string) {
	o.mu.Lock()
	if o.inflight[localID] {
		o.mu.Unlock()
		return
	}
	o.inflight[localID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, localID)
		o.mu.Unlock()
	}()

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return
	}

	// Re-read under the in-flight guard: the write may have been confirmed
	// by a replay that raced this one.
	pw, ok, err := o.store.GetPending(ctx, localID)
	if err != nil || !ok {
		return
	}

	// Backoff gate. A write that has never been attempted is always due.
	if delay := backoff(pw.AttemptCount, o.backoffBase, o.backoffMax); delay > 0 {
		if pw.LastAttemptAt.Add(delay).After(o.clock.Now()) {
			return
		}
	}

	sendErr := o.send(ctx, pw)
	if sendErr == nil {
		// Confirmed. A crash before this delete costs one redundant replay;
		// the idempotency key keeps the server from duplicating it.
		if err := o.store.DeletePending(ctx, localID); err != nil {
			o.logf("outbox: delete confirmed write %s: %v", localID, err)
		}
		return
	}

	if err := o.store.MarkAttempt(ctx, localID, o.clock.Now()); err != nil {
		o.logf("outbox: mark attempt for %s: %v", localID, err)
		return
	}

	// Network-level failures retry indefinitely under backoff. Server
	// rejections are permanent once it is clear retrying cannot help: a
	// 4xx (the mutation itself is unacceptable) immediately, anything else
	// after a bounded attempt count.
	if syncerr.IsRemoteRejected(sendErr) {
		status := syncerr.RejectedStatus(sendErr)
		attempts := pw.AttemptCount + 1
		if (status >= 400 && status < 500) || attempts >= o.maxRejects {
			o.logf("outbox: dropping %s %s write %s after %d attempt(s), server rejected with status %d: %v",
				pw.Collection, pw.Kind, localID, attempts, status, sendErr)
			if err := o.store.DeletePending(ctx, localID); err != nil {
				o.logf("outbox: delete rejected write %s: %v", localID, err)
			}
		}
	}
}

// send shapes the payload and performs one remote attempt for a pending
// write. Purely local bookkeeping never reaches the server; the idempotency
// key is reused verbatim on every attempt.
func (o *Outbox) send(ctx context.Context, pw record.PendingWrite) error {
	shaped := shapeForReplay(pw)

	switch pw.Kind {
	case record.KindCreate:
		_, err := o.remote.Send(ctx, remote.Request{
			Method:         http.MethodPost,
			Path:           "/" + pw.Collection,
			Payload:        shaped,
			IdempotencyKey: pw.IdempotencyKey,
		})
		return err
	case record.KindUpdate:
		key, err := pw.Payload.Key()
		if err != nil {
			return err
		}
		query := url.Values{}
		for field := range shaped {
			if field == "id" {
				continue
			}
			if v, ok := fieldString(shaped, field); ok {
				query.Set(field, v)
			}
		}
		_, err = o.remote.Send(ctx, remote.Request{
			Method:         http.MethodPut,
			Path:           fmt.Sprintf("/%s/%s/", pw.Collection, key),
			Query:          query,
			IdempotencyKey: pw.IdempotencyKey,
		})
		return err
	case record.KindDelete:
		key, err := pw.Payload.Key()
		if err != nil {
			return err
		}
		_, err = o.remote.Send(ctx, remote.Request{
			Method:         http.MethodDelete,
			Path:           fmt.Sprintf("/%s/%s", pw.Collection, key),
			IdempotencyKey: pw.IdempotencyKey,
		})
		return err
	default:
		return fmt.Errorf("invalid mutation kind %q", pw.Kind)
	}
}

// shapeForReplay strips purely local bookkeeping from the payload. Creates
// also drop the locally assigned id: the server mints the authoritative one
// and the idempotency key deduplicates retries.
func shapeForReplay(pw record.PendingWrite) record.Record {
	shaped := pw.Payload.Clone()
	delete(shaped, "local_id")
	if pw.Kind == record.KindCreate {
		delete(shaped, "id")
	}
	return shaped
}
