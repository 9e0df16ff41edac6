// Package main implements the gameshelf web server for browsing Steam libraries.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/gameshelf/pkg/config"
	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
	"github.com/codeGROOVE-dev/gameshelf/pkg/recommend"
)

//go:embed templates/home.html
var homeTemplate string

//go:embed static/*
var staticFiles embed.FS

var (
	port         = flag.String("port", "", "Port for web server (or set PORT)")
	configPath   = flag.String("config", "", "Path to a YAML config file")
	steamAPIKey  = flag.String("steam-key", "", "Steam Web API key (or set STEAM_API_KEY)")
	steamID      = flag.String("steam-id", "", "Default SteamID64 for requests without one (or set STEAM_ID)")
	geminiAPIKey = flag.String("gemini-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	geminiModel  = flag.String("gemini-model", "", "Gemini model to use (or set GEMINI_MODEL)")
	gcpProject   = flag.String("gcp-project", "", "GCP project ID (or set GCP_PROJECT)")
	cacheDir     = flag.String("cache-dir", "", "Directory for the library disk cache (or set CACHE_DIR)")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	version      = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("gameshelf server v1.0.0")
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	logger.Info("server configuration",
		"port", cfg.Server.Port,
		"verbose", *verbose,
		"cache_dir", cfg.Cache.Dir,
		"gemini_model", cfg.Recommend.Model,
		"store_locale", cfg.Steam.Country+"/"+cfg.Steam.Language,
		"max_enriched", cfg.Steam.MaxEnriched,
		"has_steam_key", cfg.SteamAPIKey != "",
		"has_default_id", cfg.Steam.DefaultID != "",
		"has_gemini_key", cfg.GeminiAPIKey != "",
		"has_gcp_project", cfg.Recommend.GCPProject != "")
	if cfg.SteamAPIKey == "" {
		logger.Warn("no Steam API key configured; library requests will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	libs := library.NewWithLogger(ctx, logger, libraryOptions(cfg)...)
	defer func() {
		if err := libs.Close(); err != nil {
			logger.Error("failed to close library service", "error", err)
		}
	}()

	recOpts := []recommend.Option{
		recommend.WithModel(cfg.Recommend.Model),
		recommend.WithGCPProject(cfg.Recommend.GCPProject),
	}
	if c := libs.Cache(); c != nil {
		recOpts = append(recOpts, recommend.WithCache(c))
	}
	recommender := recommend.NewClient(logger, cfg.GeminiAPIKey, recOpts...)

	s, err := newServer(cfg, libs, recommender, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return
	}
	s.limiter.startCleanup(ctx, time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.LibraryTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

// applyFlags overrides configuration with any flags given on the command line.
func applyFlags(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Port, *port)
	set(&cfg.SteamAPIKey, *steamAPIKey)
	set(&cfg.Steam.DefaultID, *steamID)
	set(&cfg.GeminiAPIKey, *geminiAPIKey)
	set(&cfg.Recommend.Model, *geminiModel)
	set(&cfg.Recommend.GCPProject, *gcpProject)
	set(&cfg.Cache.Dir, *cacheDir)
}

func libraryOptions(cfg *config.Config) []library.Option {
	opts := []library.Option{
		library.WithAPIKey(cfg.SteamAPIKey),
		library.WithDefaultSteamID(cfg.Steam.DefaultID),
		library.WithStoreLocale(cfg.Steam.Country, cfg.Steam.Language),
		library.WithStoreRate(cfg.Steam.StoreRPS, cfg.Steam.StoreBurst),
		library.WithConcurrency(cfg.Steam.Concurrency),
		library.WithMaxEnriched(cfg.Steam.MaxEnriched),
	}
	if cfg.Cache.Disabled {
		return append(opts, library.WithNoCache())
	}
	return append(opts, library.WithMemoryOnlyCache())
}
