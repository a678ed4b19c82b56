// Package remote implements the HTTP client for the backend service.
//
// The client performs single attempts with a bounded timeout. Retry policy
// belongs to its callers: the read coordinator falls back to the local store,
// the outbox replays under backoff.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/syncerr"
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	// BaseURL is the backend root, e.g. "http://localhost:1337".
	BaseURL string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client

	// Timeout bounds every call. Defaults to 10s.
	Timeout time.Duration

	// UserAgent is sent when non-empty.
	UserAgent string
}

// Client performs network requests against the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// Request describes a single send. Query and IdempotencyKey are optional.
type Request struct {
	Method         string
	Path           string
	Query          url.Values
	Payload        any
	IdempotencyKey string
}

// Result is a successful (2xx) response.
type Result struct {
	Status int
	Body   []byte
}

// New creates a client for the given backend.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}
}

// FetchCollection performs a bulk GET of a collection and decodes the JSON
// array. An optional query carries server-side filters; client-side filtering
// remains a valid fallback when the server ignores them.
func (c *Client) FetchCollection(ctx context.Context, name string, query url.Values) ([]record.Record, error) {
	res, err := c.Send(ctx, Request{Method: http.MethodGet, Path: "/" + name, Query: query})
	if err != nil {
		return nil, err
	}

	var records []record.Record
	if err := json.Unmarshal(res.Body, &records); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", name, err)
	}
	if records == nil {
		records = []record.Record{}
	}
	return records, nil
}

// UpdateField performs the backend's partial update: a PUT with the changed
// field carried as a query parameter, no body.
func (c *Client) UpdateField(ctx context.Context, collection, id, field, value string) (*Result, error) {
	return c.Send(ctx, Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/%s/%s/", collection, id),
		Query:  url.Values{field: []string{value}},
	})
}

// Send performs one request attempt. There is no retry here.
//
// Transport-level failures surface as NETWORK_UNREACHABLE; non-2xx responses
// surface as REMOTE_REJECTED with the status, so callers can distinguish
// "server said no" from "network unreachable".
func (c *Client) Send(ctx context.Context, r Request) (*Result, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("remote client has no base URL")
	}

	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Payload != nil {
		encoded, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.Payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, syncerr.NetworkUnreachable(fmt.Sprintf("%s %s", r.Method, r.Path), err)
	}

	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, syncerr.NetworkUnreachable(fmt.Sprintf("read %s %s response", r.Method, r.Path), readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = fmt.Sprintf("%s %s declined", r.Method, r.Path)
		}
		return nil, syncerr.RemoteRejected(resp.StatusCode, msg)
	}

	return &Result{Status: resp.StatusCode, Body: respBody}, nil
}
