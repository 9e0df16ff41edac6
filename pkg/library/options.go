package library

import (
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/gameshelf/pkg/steam"
)

// Option configures a Service.
type Option func(*OptionHolder)

// OptionHolder holds configuration options.
type OptionHolder struct {
	httpClient      *http.Client
	now             func() time.Time
	retryPolicy     steam.RetryPolicy
	apiKey          string
	defaultSteamID  string
	cacheDir        string
	webAPIBase      string
	storeBase       string
	storeCountry    string
	storeLanguage   string
	storeRPS        float64
	storeBurst      int
	concurrency     int
	maxEnriched     int
	noCache         bool
	memoryOnlyCache bool
}

// WithAPIKey sets the Steam Web API key.
func WithAPIKey(key string) Option {
	return func(o *OptionHolder) {
		o.apiKey = key
	}
}

// WithDefaultSteamID sets the account used when a request names none.
func WithDefaultSteamID(id string) Option {
	return func(o *OptionHolder) {
		o.defaultSteamID = id
	}
}

// WithStoreLocale sets the store country code and language used for metadata.
func WithStoreLocale(country, language string) Option {
	return func(o *OptionHolder) {
		o.storeCountry = country
		o.storeLanguage = language
	}
}

// WithConcurrency bounds how many games are enriched at once.
func WithConcurrency(n int) Option {
	return func(o *OptionHolder) {
		o.concurrency = n
	}
}

// WithStoreRate paces storefront requests to rps with the given burst.
func WithStoreRate(rps float64, burst int) Option {
	return func(o *OptionHolder) {
		o.storeRPS = rps
		o.storeBurst = burst
	}
}

// WithMaxEnriched limits store lookups to the n most played games.
// Zero enriches every game.
func WithMaxEnriched(n int) Option {
	return func(o *OptionHolder) {
		o.maxEnriched = n
	}
}

// WithCacheDir sets the directory for the disk-backed HTTP cache.
func WithCacheDir(dir string) Option {
	return func(o *OptionHolder) {
		o.cacheDir = dir
	}
}

// WithNoCache disables HTTP caching entirely.
func WithNoCache() Option {
	return func(o *OptionHolder) {
		o.noCache = true
	}
}

// WithMemoryOnlyCache keeps the HTTP cache in memory (for the web server).
func WithMemoryOnlyCache() Option {
	return func(o *OptionHolder) {
		o.memoryOnlyCache = true
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OptionHolder) {
		o.httpClient = c
	}
}

// WithRetryPolicy overrides how upstream requests are retried.
func WithRetryPolicy(p steam.RetryPolicy) Option {
	return func(o *OptionHolder) {
		o.retryPolicy = p
	}
}

// WithBaseURLs points the service at alternate Steam hosts.
func WithBaseURLs(webAPI, store string) Option {
	return func(o *OptionHolder) {
		o.webAPIBase = webAPI
		o.storeBase = store
	}
}

// WithClock sets the time source used for time statistics.
func WithClock(now func() time.Time) Option {
	return func(o *OptionHolder) {
		o.now = now
	}
}
