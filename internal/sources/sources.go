// Package sources fetches raw payloads from the upstream threat feeds.
//
// Fetchers do I/O only. They return entries as raw JSON so the normalize
// package owns all field mapping.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentinel/internal/normalize"
	"sentinel/internal/threat"
)

const (
	DefaultTimeout = 15 * time.Second

	// BrowserUserAgent is sent to upstreams that reject obvious bots.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	// DefaultUserAgent identifies the bot to API upstreams.
	DefaultUserAgent = "sentinel/1.0 (+threat digest bot)"

	maxBodyBytes = 32 << 20
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// ErrNotList is returned when an upstream body does not hold the expected list.
var ErrNotList = errors.New("sources: payload is not a list")

// Fetcher is one upstream feed.
type Fetcher interface {
	Source() threat.SourceID
	Fetch(ctx context.Context) (normalize.Payload, error)
}

// httpOptions are shared by the JSON fetchers.
type httpOptions struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
	Header    http.Header
}

func (o httpOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o httpOptions) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// getBody performs a bounded GET and returns the body of a 2xx response.
func getBody(ctx context.Context, o httpOptions, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	ua := o.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")
	for k, vs := range o.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := o.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// listField extracts body[key] as a list of raw entries. An empty key means
// the body itself must be a list.
func listField(body []byte, key string) (normalize.Payload, error) {
	body = bytes.TrimSpace(body)
	if key == "" {
		if len(body) == 0 || body[0] != '[' {
			return nil, ErrNotList
		}
		var out normalize.Payload
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	raw, ok := obj[key]
	if !ok {
		return normalize.Payload{}, nil
	}
	return listField(raw, "")
}
