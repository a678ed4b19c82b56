package connectivity

import (
	"context"
	"net/http"
	"time"
)

// Prober is a polling fallback for platforms without a push connectivity
// signal. It probes a URL on an interval and flips an embedded Switch.
//
// Any HTTP response counts as online, including error statuses: the probe
// measures reachability, not server health. Only a transport-level failure
// flips the oracle offline.
type Prober struct {
	*Switch

	probeURL string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a prober. It starts pessimistic (offline) until the
// first successful probe.
func NewProber(probeURL string, interval time.Duration, client *http.Client) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Prober{
		Switch:   NewSwitch(false),
		probeURL: probeURL,
		interval: interval,
		client:   client,
	}
}

// Run polls until the context is cancelled. It probes once immediately so
// startup does not wait a full interval for the first reading.
func (p *Prober) Run(ctx context.Context) {
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		p.SetOnline(false)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.SetOnline(false)
		return
	}
	resp.Body.Close()
	p.SetOnline(true)
}
