package main

import (
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	diskCacheMaxAge  = 24 * time.Hour
	diskCacheCleanup = 7 * 24 * time.Hour
)

// diskCacheHandler keeps gzipped library JSON on disk, sharded by SteamID64 digits.
type diskCacheHandler struct {
	logger *slog.Logger
	dir    string
	maxAge time.Duration
}

func (d *diskCacheHandler) path(steamID string) string {
	// SteamID64s share their leading digits, so shard on the tail.
	dir1, dir2 := "_", "_"
	if n := len(steamID); n >= 4 {
		dir1 = steamID[n-2:]
		dir2 = steamID[n-4 : n-2]
	}
	return filepath.Join(d.dir, "v1", dir1, dir2, steamID+".json.gz")
}

func (d *diskCacheHandler) load(steamID string) []byte {
	path := d.path(steamID)
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > d.maxAge {
		return nil
	}

	compressedData, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	r, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil
	}
	defer func() {
		if err := r.Close(); err != nil {
			d.logger.Debug("failed to close gzip reader", "error", err)
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	return data
}

func (d *diskCacheHandler) save(steamID string, data []byte) {
	path := d.path(steamID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		d.logger.Debug("failed to create cache dir", "error", err)
		return
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		d.logger.Debug("failed to compress", "error", err)
		return
	}
	if err := gz.Close(); err != nil {
		d.logger.Debug("failed to close gzip", "error", err)
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		d.logger.Debug("failed to write cache", "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		d.logger.Debug("failed to rename cache file", "error", err)
	}
}

// cleanup removes files last written before the cleanup horizon.
func (d *diskCacheHandler) cleanup() int {
	count := 0
	cutoff := time.Now().Add(-diskCacheCleanup)

	if err := filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil //nolint:nilerr // file vanished mid-walk
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				d.logger.Debug("failed to remove old cache file", "path", path, "error", err)
			} else {
				count++
			}
		}
		return nil
	}); err != nil {
		d.logger.Error("cache cleanup walk failed", "error", err)
	}
	return count
}
