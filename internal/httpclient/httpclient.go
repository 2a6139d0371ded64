// Package httpclient adapts the teacher's retryablehttp-backed
// APIClient into the narrow download contract the core needs: fetch a
// URL with an optional auth header and ETag, getting back either the
// body bytes, a 304 Not Modified, or a 404 Not Found.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// ResponseKind discriminates the three outcomes DownloadWithRetries
// can return, mirroring NpmCacheHttpClientResponse.
type ResponseKind int

const (
	KindBytes ResponseKind = iota
	KindNotModified
	KindNotFound
)

// Response is the result of one download.
type Response struct {
	Kind  ResponseKind
	Bytes []byte
	ETag  string
}

// Client is the narrow download contract backing both remote module
// fetch and npm/jsr registry fetch (spec §6).
type Client interface {
	DownloadWithRetries(ctx context.Context, url string, authHeader string, etag string) (Response, error)
	// MarkForceReload flips the client's force-reload flag, causing
	// subsequent downloads to bypass ETag revalidation and re-fetch
	// unconditionally. It reports whether it actually raised the flag
	// (false if already raised).
	MarkForceReload() bool
}

// HTTPClient is the default Client, backed by retryablehttp for
// transport-level retries (connection resets, 5xx, 429) and
// cenkalti/backoff for the distinct application-level "force reload
// and retry" path exercised when a caller decides a cached response is
// stale in a way ETags didn't catch.
type HTTPClient struct {
	inner           *retryablehttp.Client
	userAgent       string
	forceReloadFlag bool
}

// Opts configures a new HTTPClient.
type Opts struct {
	Timeout      time.Duration
	RetryMax     int
	UserAgent    string
	Logger       hclog.Logger
}

// New creates an HTTPClient following the teacher's retryablehttp
// configuration pattern (internal/client.NewClient).
func New(opts Opts) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "modcore"
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HTTPClient{
		inner: &retryablehttp.Client{
			HTTPClient: &http.Client{Timeout: opts.Timeout},
			RetryWaitMin: 1 * time.Second,
			RetryWaitMax: 10 * time.Second,
			RetryMax:     opts.RetryMax,
			Backoff:      retryablehttp.DefaultBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Logger:       logger,
		},
		userAgent: opts.UserAgent,
	}
}

// DownloadWithRetries fetches url, sending If-None-Match with etag
// unless a force reload has been marked, and authHeader as the
// Authorization header when non-empty.
func (c *HTTPClient) DownloadWithRetries(ctx context.Context, url string, authHeader string, etag string) (Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if etag != "" && !c.forceReloadFlag {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.inner.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return Response{Kind: KindNotModified, ETag: etag}, nil
	case http.StatusNotFound:
		return Response{Kind: KindNotFound}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("unexpected status %s fetching %s", resp.Status, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading body of %s: %w", url, err)
	}
	return Response{Kind: KindBytes, Bytes: body, ETag: resp.Header.Get("ETag")}, nil
}

// MarkForceReload flips the force-reload flag, mirroring
// RegistryInfoProviderInner::mark_force_reload's AtomicFlag::raise.
func (c *HTTPClient) MarkForceReload() bool {
	if c.forceReloadFlag {
		return false
	}
	c.forceReloadFlag = true
	return true
}

// RetryForceReload retries fn with exponential backoff, the
// application-level retry path distinct from the transport-level
// retries retryablehttp already performs inside DownloadWithRetries:
// used when a caller determines (from application logic, not just
// transport failure) that a force-reloaded fetch should be retried.
func RetryForceReload(ctx context.Context, maxElapsed time.Duration, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	return backoff.Retry(fn, backoff.WithContext(b, ctx))
}
