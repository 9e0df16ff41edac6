// Package steam is a small client for the Steam Web API and storefront API.
package steam

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// DefaultWebAPIBase hosts the key-authenticated Web API.
	DefaultWebAPIBase = "https://api.steampowered.com"
	// DefaultStoreBase hosts the unauthenticated storefront API.
	DefaultStoreBase = "https://store.steampowered.com"

	// storeUserAgent is sent to the storefront, which rejects some non-browser agents.
	storeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// DoFunc performs an HTTP request. Callers close the response body.
type DoFunc func(context.Context, *http.Request) (*http.Response, error)

// Client talks to the Steam Web API and store.
type Client struct {
	logger     *slog.Logger
	do         DoFunc
	apiKey     string
	webAPIBase string
	storeBase  string
	country    string
	language   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURLs overrides the Web API and store hosts.
func WithBaseURLs(webAPI, store string) ClientOption {
	return func(c *Client) {
		if webAPI != "" {
			c.webAPIBase = strings.TrimRight(webAPI, "/")
		}
		if store != "" {
			c.storeBase = strings.TrimRight(store, "/")
		}
	}
}

// WithStoreLocale sets the store country code (cc) and language (l).
func WithStoreLocale(country, language string) ClientOption {
	return func(c *Client) {
		c.country = country
		c.language = language
	}
}

// NewClient creates a Steam client. do is usually a cached, retrying transport.
func NewClient(logger *slog.Logger, apiKey string, do DoFunc, opts ...ClientOption) *Client {
	c := &Client{
		logger:     logger,
		do:         do,
		apiKey:     strings.TrimSpace(apiKey),
		webAPIBase: DefaultWebAPIBase,
		storeBase:  DefaultStoreBase,
		country:    "us",
		language:   "english",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.do == nil {
		hc := defaultHTTPClient()
		c.do = func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return hc.Do(req.WithContext(ctx))
		}
	}
	return c
}

// HasAPIKey reports whether Web API calls can be made.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}
