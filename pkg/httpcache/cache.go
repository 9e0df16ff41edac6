// Package httpcache caches upstream HTTP responses in memory with otter,
// optionally snapshotting them to disk between runs.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

const snapshotFile = "otter-cache.gob"

// CacheEntry is a cached response body.
type CacheEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	ETag      string    `json:"etag,omitempty"`
	Data      []byte    `json:"data"`
}

// OtterCache is a size-bounded TTL cache. When created with a directory it
// persists itself to a gob snapshot every 15 minutes and on Close.
type OtterCache struct {
	cache      *otter.Cache[string, CacheEntry]
	logger     *slog.Logger
	saveCancel context.CancelFunc
	dir        string
	saveWg     sync.WaitGroup
	ttl        time.Duration
	mu         sync.Mutex
}

func newOtter(ttl time.Duration, logger *slog.Logger) *OtterCache {
	return &OtterCache{
		cache: otter.Must(&otter.Options[string, CacheEntry]{
			MaximumSize:      100_000,
			InitialCapacity:  1_000,
			ExpiryCalculator: otter.ExpiryWriting[string, CacheEntry](ttl),
		}),
		ttl:    ttl,
		logger: logger,
	}
}

// NewMemoryOnlyCache creates a cache that never touches disk.
func NewMemoryOnlyCache(ttl time.Duration, logger *slog.Logger) (*OtterCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid cache ttl: %v", ttl)
	}
	c := newOtter(ttl, logger)
	logger.Info("memory cache initialized", "ttl", ttl)
	return c, nil
}

// NewOtterCache creates a disk-backed cache rooted at dir.
func NewOtterCache(ctx context.Context, dir string, ttl time.Duration, logger *slog.Logger) (*OtterCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid cache ttl: %v", ttl)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := newOtter(ttl, logger)
	c.dir = dir

	if err := c.loadFromDisk(); err != nil {
		logger.Warn("failed to load cache from disk", "error", err)
	}
	logger.Info("cache initialized", "dir", dir, "entries_loaded", c.cache.EstimatedSize())

	c.startPeriodicSave(ctx)
	return c, nil
}

func hashKey(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *OtterCache) lookup(key, label string) (CacheEntry, bool) {
	entry, found := c.cache.GetIfPresent(key)
	if !found {
		c.logger.Debug("cache miss", "key", label, "reason", "not_found")
		return CacheEntry{}, false
	}
	// Entries may carry a TTL shorter than the cache-wide expiry.
	if time.Now().After(entry.ExpiresAt) {
		c.logger.Debug("cache miss", "key", label, "reason", "expired", "expired_at", entry.ExpiresAt)
		c.cache.Invalidate(key)
		return CacheEntry{}, false
	}
	return entry, true
}

// Get returns the cached body and ETag for a URL.
func (c *OtterCache) Get(rawURL string) ([]byte, string, bool) {
	entry, ok := c.lookup(hashKey([]byte(rawURL)), RedactURL(rawURL))
	if !ok {
		return nil, "", false
	}
	return entry.Data, entry.ETag, true
}

// Set stores a body for a URL using the cache-wide TTL.
func (c *OtterCache) Set(rawURL string, data []byte, etag string) error {
	return c.SetWithTTL(rawURL, data, etag, c.ttl)
}

// SetWithTTL stores a body for a URL. ttl is capped at the cache-wide TTL.
func (c *OtterCache) SetWithTTL(rawURL string, data []byte, etag string, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	entry := CacheEntry{
		Data:      data,
		ExpiresAt: time.Now().Add(ttl),
		ETag:      etag,
	}
	c.cache.Set(hashKey([]byte(rawURL)), entry)
	c.logger.Debug("cache set", "url", RedactURL(rawURL), "expires_at", entry.ExpiresAt, "size", len(data))
	return nil
}

// APICall returns a cached result keyed on an arbitrary key plus request payload.
func (c *OtterCache) APICall(key string, requestBody []byte) ([]byte, bool) {
	entry, ok := c.lookup(hashKey([]byte(key), requestBody), key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// SetAPICall stores a result for APICall.
func (c *OtterCache) SetAPICall(key string, requestBody []byte, data []byte) error {
	entry := CacheEntry{
		Data:      data,
		ExpiresAt: time.Now().Add(c.ttl),
	}
	c.cache.Set(hashKey([]byte(key), requestBody), entry)
	c.logger.Debug("API cache set", "key", key, "expires_at", entry.ExpiresAt, "size", len(data))
	return nil
}

func (c *OtterCache) loadFromDisk() error {
	cachePath := filepath.Join(c.dir, snapshotFile)

	file, err := os.Open(cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("no existing cache file found", "path", cachePath)
			return nil
		}
		return fmt.Errorf("opening cache file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			c.logger.Debug("failed to close cache file", "error", err)
		}
	}()

	var entries map[string]CacheEntry
	if err := gob.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("decoding cache file: %w", err)
	}

	now := time.Now()
	valid := 0
	for key, entry := range entries {
		if now.Before(entry.ExpiresAt) {
			c.cache.Set(key, entry)
			valid++
		}
	}

	c.logger.Info("loaded cache from disk",
		"path", cachePath,
		"total_entries", len(entries),
		"valid_entries", valid,
		"expired_entries", len(entries)-valid)
	return nil
}

func (c *OtterCache) saveToDisk() error {
	if c.dir == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cachePath := filepath.Join(c.dir, snapshotFile)
	tempPath := cachePath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			c.logger.Debug("failed to remove temp file", "error", err)
		}
	}()

	entries := make(map[string]CacheEntry)
	now := time.Now()
	for key, entry := range c.cache.All() {
		if now.Before(entry.ExpiresAt) {
			entries[key] = entry
		}
	}

	if err := gob.NewEncoder(file).Encode(entries); err != nil {
		_ = file.Close() //nolint:errcheck // already failing
		return fmt.Errorf("encoding cache to file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close() //nolint:errcheck // already failing
		return fmt.Errorf("syncing cache file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tempPath, cachePath); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}

	c.logger.Info("cache saved to disk", "entries", len(entries), "path", cachePath)
	return nil
}

func (c *OtterCache) startPeriodicSave(ctx context.Context) {
	saveCtx, cancel := context.WithCancel(ctx)
	c.saveCancel = cancel

	c.saveWg.Add(1)
	go func() {
		defer c.saveWg.Done()

		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-saveCtx.Done():
				return
			case <-ticker.C:
				if err := c.saveToDisk(); err != nil {
					c.logger.Error("periodic cache save failed", "error", err)
				}
			}
		}
	}()
}

// Close stops periodic saving and writes a final snapshot for disk-backed caches.
func (c *OtterCache) Close() error {
	if c.saveCancel != nil {
		c.saveCancel()
	}
	c.saveWg.Wait()

	if err := c.saveToDisk(); err != nil {
		c.logger.Error("final cache save failed", "error", err)
		return err
	}
	return nil
}

// Stats reports the approximate number of cached entries.
func (c *OtterCache) Stats() map[string]any {
	return map[string]any{
		"size":       c.cache.EstimatedSize(),
		"persistent": c.dir != "",
	}
}

// RedactURL hides the Steam Web API key in a URL so it can be logged.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
