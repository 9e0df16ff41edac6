package httpcache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient is the subset of *http.Client used for upstream requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TTLFunc picks the cache lifetime for a request. Zero means the cache default.
type TTLFunc func(req *http.Request) time.Duration

// CachedHTTPClient wraps an HTTP client with response caching for GET requests.
type CachedHTTPClient struct {
	cache      *OtterCache
	httpClient HTTPClient
	logger     *slog.Logger
	ttl        TTLFunc
}

// NewCachedHTTPClient creates a cached HTTP client. cache may be nil, in which
// case every request goes straight to httpClient.
func NewCachedHTTPClient(cache *OtterCache, httpClient HTTPClient, ttl TTLFunc, logger *slog.Logger) *CachedHTTPClient {
	return &CachedHTTPClient{
		cache:      cache,
		httpClient: httpClient,
		logger:     logger,
		ttl:        ttl,
	}
}

// Do performs req, serving 200 GET responses from cache when possible.
// Cached responses carry an X-From-Cache header.
func (c *CachedHTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if c.cache == nil || req.Method != http.MethodGet {
		return c.httpClient.Do(req)
	}

	rawURL := req.URL.String()
	if data, etag, found := c.cache.Get(rawURL); found {
		resp := &http.Response{
			Status:        "200 OK",
			StatusCode:    http.StatusOK,
			Body:          io.NopCloser(bytes.NewReader(data)),
			ContentLength: int64(len(data)),
			Header:        make(http.Header),
			Request:       req,
		}
		resp.Header.Set("X-From-Cache", "true")
		if etag != "" {
			resp.Header.Set("ETag", etag)
		}
		return resp, nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.logger.Debug("failed to close response body", "error", closeErr)
	}
	if err != nil {
		return nil, err
	}

	var ttl time.Duration
	if c.ttl != nil {
		ttl = c.ttl(req)
	}
	if err := c.cache.SetWithTTL(rawURL, body, resp.Header.Get("ETag"), ttl); err != nil {
		c.logger.Debug("cache set failed", "url", RedactURL(rawURL), "error", err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
