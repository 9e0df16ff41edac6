// Package config loads gameshelf settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gameshelf configuration. Secrets only come from the environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Steam     SteamConfig     `yaml:"steam"`
	Cache     CacheConfig     `yaml:"cache"`
	Recommend RecommendConfig `yaml:"recommend"`
	Gallery   GalleryConfig   `yaml:"gallery"`

	SteamAPIKey  string `yaml:"-"`
	GeminiAPIKey string `yaml:"-"`
}

// ServerConfig configures cmd/gameshelf-server.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	LibraryTimeout  time.Duration `yaml:"library_timeout"`
	LibraryCacheTTL time.Duration `yaml:"library_cache_ttl"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
}

// SteamConfig configures upstream access.
type SteamConfig struct {
	DefaultID   string  `yaml:"default_id"`
	Country     string  `yaml:"country"`
	Language    string  `yaml:"language"`
	StoreRPS    float64 `yaml:"store_rps"`
	StoreBurst  int     `yaml:"store_burst"`
	Concurrency int     `yaml:"concurrency"`
	// MaxEnriched caps store lookups to the most played games; 0 means all.
	MaxEnriched int     `yaml:"max_enriched"`
}

// CacheConfig configures the HTTP and response caches.
type CacheConfig struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

// RecommendConfig configures Gemini recommendations.
type RecommendConfig struct {
	Model      string `yaml:"model"`
	GCPProject string `yaml:"gcp_project"`
}

// GalleryConfig sets gallery defaults.
type GalleryConfig struct {
	Sort   string `yaml:"sort"`
	Locale string `yaml:"locale"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			LibraryTimeout:  60 * time.Second,
			LibraryCacheTTL: 10 * time.Minute,
			RateLimit:       1,
			RateBurst:       10,
		},
		Steam: SteamConfig{
			Country:     "us",
			Language:    "english",
			StoreRPS:    10,
			StoreBurst:  20,
			Concurrency: 8,
			MaxEnriched: 100,
		},
		Gallery: GalleryConfig{
			Sort:   "playtime",
			Locale: "en",
		},
	}
}

// Load returns the defaults overlaid with path (when non-empty) and then the
// environment read through getenv. A nil getenv uses os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings with any non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.SteamAPIKey, "STEAM_API_KEY")
	set(&c.Steam.DefaultID, "STEAM_ID")
	set(&c.GeminiAPIKey, "GEMINI_API_KEY")
	set(&c.Recommend.Model, "GEMINI_MODEL")
	set(&c.Recommend.GCPProject, "GCP_PROJECT")
	set(&c.Cache.Dir, "CACHE_DIR")
	set(&c.Server.Port, "PORT")
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.LibraryTimeout <= 0 {
		errs = append(errs, errors.New("server.library_timeout must be positive"))
	}
	if c.Server.LibraryCacheTTL <= 0 {
		errs = append(errs, errors.New("server.library_cache_ttl must be positive"))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must be positive"))
	}
	if c.Steam.StoreRPS <= 0 || c.Steam.StoreBurst <= 0 {
		errs = append(errs, errors.New("steam.store_rps and steam.store_burst must be positive"))
	}
	if c.Steam.Concurrency <= 0 {
		errs = append(errs, errors.New("steam.concurrency must be positive"))
	}
	if c.Steam.MaxEnriched < 0 {
		errs = append(errs, errors.New("steam.max_enriched must not be negative"))
	}
	return errors.Join(errs...)
}
