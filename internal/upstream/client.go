// Package upstream forwards proxied requests to the FHIR backend.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/fhirgate/internal/metrics"
)

// hopByHopHeaders are connection-scoped headers that must not be forwarded,
// in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// IsHopByHop reports whether a header is connection-scoped. Callers relaying
// backend responses use it to keep hop-by-hop headers off the client wire.
func IsHopByHop(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for _, hop := range hopByHopHeaders {
		if canonical == hop {
			return true
		}
	}
	return false
}

// Response captures what the backend returned.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ContentType returns the response's Content-Type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Client forwards requests to one configured backend base URL.
type Client struct {
	base         *url.URL
	client       *http.Client
	forwardAuth  bool
	maxBodyBytes int64
	logger       *slog.Logger
	metrics      *metrics.Recorder
}

// Options configures the upstream client.
type Options struct {
	BaseURL      string
	ForwardAuth  bool
	Timeout      time.Duration
	MaxBodyBytes int64
}

// New validates the base URL and builds the forwarding client.
func New(opts Options, logger *slog.Logger, recorder *metrics.Recorder) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream: base url %q must be absolute", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:         base,
		client:       &http.Client{Timeout: timeout},
		forwardAuth:  opts.ForwardAuth,
		maxBodyBytes: maxBody,
		logger:       logger,
		metrics:      recorder,
	}, nil
}

// Forward sends one request to the backend, propagating method, path, query,
// headers, and body. The raw query string is relayed verbatim so parameter
// order survives. Hop-by-hop headers are stripped; Authorization is dropped
// unless the client was configured to forward it.
func (c *Client) Forward(ctx context.Context, method, path, rawQuery string, header http.Header, body []byte) (*Response, error) {
	target := *c.base
	target.Path = strings.TrimSuffix(target.Path, "/") + path
	target.RawQuery = rawQuery

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	if len(body) > 0 {
		snap := body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(snap)), nil
		}
	}

	req.Header = forwardableHeaders(header, c.forwardAuth)

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(method, 0)
		return nil, fmt.Errorf("upstream: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		c.metrics.ObserveUpstream(method, resp.StatusCode)
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}

	c.metrics.ObserveUpstream(method, resp.StatusCode)
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   payload,
	}, nil
}

// forwardableHeaders copies the inbound headers minus hop-by-hop entries,
// Host, and (unless trusted) Authorization.
func forwardableHeaders(header http.Header, forwardAuth bool) http.Header {
	out := header.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	out.Del("Host")
	if !forwardAuth {
		out.Del("Authorization")
	}
	return out
}
