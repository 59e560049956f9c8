// SPDX-License-Identifier: MPL-2.0

// Package registry fetches, caches, and queries module registry indexes.
// Two index wire formats are in circulation; both normalize to ModuleInfo at
// parse time so the rest of the pipeline never sees wire shapes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"cogmod-cli/pkg/fault"
	"cogmod-cli/pkg/integrity"
)

const (
	// DefaultTimeout bounds a single index or tarball request end to end.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxIndexBytes caps how much index JSON will be read.
	DefaultMaxIndexBytes = 10 * 1024 * 1024

	// DefaultCacheTTL is how long a cached index is served without refetch.
	DefaultCacheTTL = 15 * time.Minute

	defaultUserAgent = "cogmod-registry-client"
)

// Client talks to a module registry over HTTP with a read-through disk
// cache. The zero value is not usable; construct with NewClient.
type Client struct {
	httpClient *http.Client
	cacheDir   string
	cacheTTL   time.Duration
	timeout    time.Duration
	maxBytes   int64
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithCacheDir enables the disk cache rooted at dir. An empty dir disables
// caching.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) { c.cacheDir = dir }
}

// WithCacheTTL sets the freshness window for cached indexes.
func WithCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.cacheTTL = ttl }
}

// WithTimeout bounds each request. Zero disables the client-side deadline
// and defers to the caller's context.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithMaxIndexBytes caps the accepted index size.
func WithMaxIndexBytes(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header for all requests.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a registry client with the given options applied.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		cacheTTL:   DefaultCacheTTL,
		timeout:    DefaultTimeout,
		maxBytes:   DefaultMaxIndexBytes,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchIndex returns the parsed index at rawURL. A cache entry younger than
// the TTL is served without touching the network; otherwise the index is
// fetched, parsed, and written back to the cache. A stale cache entry is
// never used to mask a fetch failure.
func (c *Client) FetchIndex(ctx context.Context, rawURL string) (*Index, error) {
	if data, ok := c.readCache(rawURL); ok {
		if idx, err := ParseIndex(data); err == nil {
			return idx, nil
		}
		// A corrupt cache file falls through to a refetch.
	}

	data, err := c.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	idx, err := ParseIndex(data)
	if err != nil {
		return nil, err
	}
	c.writeCache(rawURL, data)
	return idx, nil
}

// Download streams the payload at rawURL into dst, bounding the copy at
// maxBytes and verifying expected when it is set. It returns the bytes
// written. A 404 means the distribution does not exist.
func (c *Client) Download(ctx context.Context, rawURL string, dst io.Writer, expected integrity.Checksum, maxBytes int64) (int64, error) {
	const op = "download"

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return 0, c.transportError(op, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, &fault.Error{Kind: fault.ErrModuleNotFound, Op: op, Path: redactURL(rawURL)}
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("download %s: unexpected status %d", redactURL(rawURL), resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return 0, &fault.Error{
			Kind:   fault.ErrPayloadTooLarge,
			Op:     op,
			Path:   redactURL(rawURL),
			Detail: fmt.Sprintf("declared size %d exceeds limit %d", resp.ContentLength, maxBytes),
		}
	}

	n, err := integrity.Copy(dst, resp.Body, redactURL(rawURL), expected, maxBytes)
	if err != nil {
		if isTimeout(err) {
			return n, &fault.Error{Kind: fault.ErrTimeout, Op: op, Path: redactURL(rawURL), Err: err}
		}
		return n, err
	}
	return n, nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	const op = "fetch index"

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, c.transportError(op, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch index %s: unexpected status %d", redactURL(rawURL), resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, &fault.Error{
			Kind:   fault.ErrPayloadTooLarge,
			Op:     op,
			Path:   redactURL(rawURL),
			Detail: fmt.Sprintf("declared size %d exceeds limit %d", resp.ContentLength, c.maxBytes),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, c.transportError(op, rawURL, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, &fault.Error{
			Kind:   fault.ErrPayloadTooLarge,
			Op:     op,
			Path:   redactURL(rawURL),
			Detail: fmt.Sprintf("response exceeds limit %d", c.maxBytes),
		}
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return c.httpClient.Do(req)
}

// transportError classifies a failed request. Deadline and I/O timeouts get
// the timeout category; everything else stays a wrapped transport error.
func (c *Client) transportError(op, rawURL string, err error) error {
	if isTimeout(err) {
		return &fault.Error{Kind: fault.ErrTimeout, Op: op, Path: redactURL(rawURL), Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, redactURL(rawURL), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// cachePath keys cache files by a digest of the index URL so distinct
// registries never collide.
func (c *Client) cachePath(rawURL string) string {
	return filepath.Join(c.cacheDir, digest.FromString(rawURL).Encoded()+".json")
}

func (c *Client) readCache(rawURL string) ([]byte, bool) {
	if c.cacheDir == "" || c.cacheTTL <= 0 {
		return nil, false
	}
	path := c.cachePath(rawURL)
	st, err := os.Stat(path)
	if err != nil || time.Since(st.ModTime()) > c.cacheTTL {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// writeCache stores index bytes via temp file and rename so readers never
// observe a partial write. Cache failures are silent; the fetched index is
// already in hand.
func (c *Client) writeCache(rawURL string, data []byte) {
	if c.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return
	}
	tmp, err := os.CreateTemp(c.cacheDir, "index-*.tmp")
	if err != nil {
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), c.cachePath(rawURL)); err != nil {
		_ = os.Remove(tmp.Name())
	}
}

// LoadIndexFile parses an index document from disk, for local verification
// and tooling that bypasses HTTP.
func LoadIndexFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	return ParseIndex(data)
}

// ResolveTarballURL resolves a possibly relative distribution tarball
// reference against the index URL it was published in.
func ResolveTarballURL(indexURL, tarball string) (string, error) {
	ref, err := url.Parse(tarball)
	if err != nil {
		return "", &fault.Error{Kind: fault.ErrMalformedIndex, Op: "resolve tarball", Path: tarball, Err: err}
	}
	if ref.IsAbs() {
		return tarball, nil
	}
	base, err := url.Parse(indexURL)
	if err != nil {
		return "", &fault.Error{Kind: fault.ErrInvalidReference, Op: "resolve tarball", Path: indexURL, Err: err}
	}
	if !base.IsAbs() {
		return "", &fault.Error{
			Kind:   fault.ErrInvalidReference,
			Op:     "resolve tarball",
			Path:   indexURL,
			Detail: "index URL is not absolute",
		}
	}
	return base.ResolveReference(ref).String(), nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
