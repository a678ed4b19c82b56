package respcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Interceptor is an http.RoundTripper that serves document and asset
// requests cache-first from a Cache.
//
// A hit returns the stored snapshot immediately with no network attempt and
// no freshness check: cached resources are versioned by the cache generation,
// not by revalidation. A miss goes to the network; a same-origin 200 response
// is stored before it is returned, anything else passes through untouched.
type Interceptor struct {
	cache *Cache
	next  http.RoundTripper

	// origin restricts what gets cached, e.g. "example.com". Responses from
	// other hosts pass through uncached. Empty means cache any host.
	origin string
}

// NewInterceptor wraps a transport with cache-first interception. A nil next
// falls back to http.DefaultTransport.
func NewInterceptor(cache *Cache, origin string, next http.RoundTripper) *Interceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Interceptor{cache: cache, next: next, origin: origin}
}

// Client returns an *http.Client whose requests flow through the interceptor.
func (i *Interceptor) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: i, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	// Only replayable reads are intercepted; mutations always hit the network.
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return i.next.RoundTrip(req)
	}

	fp := Fingerprint(req.Method, req.URL)

	entry, ok, err := i.cache.Get(req.Context(), fp)
	if err == nil && ok {
		return synthesize(req, entry), nil
	}
	// A broken cache degrades to network-only; the request still proceeds.

	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || !i.sameOrigin(req) {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body for caching: %w", err)
	}

	_ = i.cache.Put(req.Context(), fp, Entry{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	})

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// Precache fetches each URL through the interceptor so misses land in the
// cache. Run it when a new generation is installed, before Activate purges
// the old one. The first failure aborts the pass.
func (i *Interceptor) Precache(ctx context.Context, urls []string) error {
	client := &http.Client{Transport: i}
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", u, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", u, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("precache %s: unexpected status %d", u, resp.StatusCode)
		}
	}
	return nil
}

func (i *Interceptor) sameOrigin(req *http.Request) bool {
	return i.origin == "" || req.URL.Host == i.origin
}

// synthesize builds an http.Response from a cached entry, shaped closely
// enough that callers cannot tell it from a live response.
func synthesize(req *http.Request, entry Entry) *http.Response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(entry.Body)))

	body := entry.Body
	if req.Method == http.MethodHead {
		body = nil
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.Status, http.StatusText(entry.Status)),
		StatusCode:    entry.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}
