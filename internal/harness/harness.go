package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/tablewise/syncengine/internal/connectivity"
	"github.com/tablewise/syncengine/internal/engine"
	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/remote"
	"github.com/tablewise/syncengine/internal/store"
	"github.com/tablewise/syncengine/internal/testutil"
)

// RequestEvent is one request the fake backend received, in arrival order.
type RequestEvent struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Result holds the outcome of a scenario run.
type Result struct {
	Passed   bool
	Failures []error

	// Requests is the backend request trace.
	Requests []RequestEvent

	// LastFetch is the result of the most recent fetch step.
	LastFetch []record.Record

	// Logs collects operator-channel output from the outbox.
	Logs []string
}

// Run executes a scenario. Each scenario runs against a fresh in-memory
// store, a fake backend, and a deterministic clock; replay concurrency is 1
// so the request trace is reproducible.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	result := &Result{}

	var mu sync.Mutex
	writeStatus := scenario.ServerStatus
	if writeStatus == 0 {
		writeStatus = http.StatusCreated
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		result.Requests = append(result.Requests, RequestEvent{Method: r.Method, Path: r.URL.Path})
		mu.Unlock()

		if r.Method == http.MethodGet {
			collection := strings.Trim(r.URL.Path, "/")
			rows := scenario.Remote[collection]
			if rows == nil {
				rows = []map[string]any{}
			}
			json.NewEncoder(w).Encode(rows)
			return
		}
		w.WriteHeader(writeStatus)
	}))
	defer srv.Close()

	ctx := context.Background()
	for collection, rows := range scenario.Seed {
		for _, row := range rows {
			if err := st.Put(ctx, collection, record.Record(row)); err != nil {
				return nil, fmt.Errorf("seed %s: %w", collection, err)
			}
		}
	}

	oracle := connectivity.NewSwitch(scenario.Online)
	clock := testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	client := remote.New(remote.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})

	logf := func(format string, args ...any) {
		mu.Lock()
		result.Logs = append(result.Logs, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	reader := engine.NewReader(st, client, oracle, nil, logf)
	outbox := engine.NewOutbox(engine.OutboxOptions{
		Store:       st,
		Remote:      client,
		Oracle:      oracle,
		Clock:       clock,
		Concurrency: 1,
		Log:         logf,
	})
	defer outbox.Close()

	for i, step := range scenario.Steps {
		if err := runStep(ctx, step, st, reader, outbox, oracle, clock, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	for _, assertion := range scenario.Assertions {
		if err := evaluate(ctx, assertion, st, result); err != nil {
			result.Failures = append(result.Failures, err)
		}
	}
	result.Passed = len(result.Failures) == 0
	return result, nil
}

func runStep(ctx context.Context, step Step, st *store.Store, reader *engine.Reader,
	outbox *engine.Outbox, oracle *connectivity.Switch, clock *testutil.FakeClock, result *Result) error {
	switch {
	case step.Submit != nil:
		_, err := outbox.Submit(ctx, record.Kind(step.Submit.Kind), step.Submit.Collection,
			record.Record(step.Submit.Payload))
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		// Let any immediate replay settle so the trace is deterministic.
		outbox.Flush()
		return nil

	case step.SetOnline != nil:
		oracle.SetOnline(*step.SetOnline)
		return nil

	case step.Replay:
		// Backoff would defer writes that already failed once; jump past it.
		clock.Advance(time.Hour)
		outbox.ReplayAll(ctx)
		return nil

	case step.Fetch != nil:
		records, err := reader.Fetch(ctx, step.Fetch.Collection)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", step.Fetch.Collection, err)
		}
		result.LastFetch = records
		return nil

	default:
		return fmt.Errorf("empty step")
	}
}
