package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitch_Online(t *testing.T) {
	s := NewSwitch(true)
	assert.True(t, s.Online())

	s.SetOnline(false)
	assert.False(t, s.Online())
}

func TestSwitch_AtMostOncePerTransition(t *testing.T) {
	s := NewSwitch(false)

	var calls []bool
	s.Subscribe(func(online bool) { calls = append(calls, online) })

	s.SetOnline(false) // no transition
	s.SetOnline(true)
	s.SetOnline(true) // no transition
	s.SetOnline(false)

	assert.Equal(t, []bool{true, false}, calls)
}

func TestSwitch_ListenersInSubscriptionOrder(t *testing.T) {
	s := NewSwitch(false)

	var order []string
	s.Subscribe(func(bool) { order = append(order, "first") })
	s.Subscribe(func(bool) { order = append(order, "second") })

	s.SetOnline(true)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSwitch_Cancel(t *testing.T) {
	s := NewSwitch(false)

	calls := 0
	cancel := s.Subscribe(func(bool) { calls++ })

	s.SetOnline(true)
	cancel()
	s.SetOnline(false)

	assert.Equal(t, 1, calls)
}

func TestSwitch_ConcurrentTransitionsOrdered(t *testing.T) {
	s := NewSwitch(false)

	var mu sync.Mutex
	var calls []bool
	s.Subscribe(func(online bool) {
		mu.Lock()
		calls = append(calls, online)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); s.SetOnline(true) }()
		go func() { defer wg.Done(); s.SetOnline(false) }()
	}
	wg.Wait()

	// Transitions must alternate: each notification reverses the previous.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(calls); i++ {
		require.NotEqual(t, calls[i-1], calls[i], "transition %d repeated state %v", i, calls[i])
	}
}

func TestProber_FlipsOnProbeResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	p := NewProber(srv.URL, time.Hour, srv.Client())
	assert.False(t, p.Online(), "prober starts pessimistic")

	p.probe(context.Background())
	assert.True(t, p.Online())

	srv.Close()
	p.probe(context.Background())
	assert.False(t, p.Online())
}

func TestProber_ErrorStatusStillOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProber(srv.URL, time.Hour, srv.Client())
	p.probe(context.Background())
	assert.True(t, p.Online(), "reachability, not health")
}
