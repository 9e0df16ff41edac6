// Package main implements the gameshelf CLI for browsing a Steam library in the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/text/language"

	"github.com/codeGROOVE-dev/gameshelf/pkg/chart"
	"github.com/codeGROOVE-dev/gameshelf/pkg/config"
	"github.com/codeGROOVE-dev/gameshelf/pkg/gallery"
	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
	"github.com/codeGROOVE-dev/gameshelf/pkg/recommend"
)

var (
	configPath   = flag.String("config", "", "Path to a YAML config file")
	steamAPIKey  = flag.String("steam-key", "", "Steam Web API key (or set STEAM_API_KEY)")
	geminiAPIKey = flag.String("gemini-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	geminiModel  = flag.String("gemini-model", "", "Gemini model to use (or set GEMINI_MODEL)")
	gcpProject   = flag.String("gcp-project", "", "GCP project ID (or set GCP_PROJECT)")
	cacheDir     = flag.String("cache-dir", "", "Cache directory (or set CACHE_DIR)")
	noCache      = flag.Bool("no-cache", false, "Disable caching")
	sortBy       = flag.String("sort", "", "Sort order: playtime, name, rating or recent")
	genre        = flag.String("genre", "", "Only show games in this genre")
	query        = flag.String("q", "", "Only show games whose name contains this text")
	minHours     = flag.Float64("min-hours", 0, "Only show games played at least this many hours")
	playedOnly   = flag.Bool("played", false, "Only show games that have been played")
	limit        = flag.Int("limit", 25, "Number of games to list (0 for all)")
	maxEnriched  = flag.Int("max-enriched", -1, "Fetch store details for at most this many of the most played games (0 for all; default from config)")
	statsApp     = flag.Int("stats", 0, "Show play time statistics for this app ID")
	recommendApp = flag.Int("recommend", 0, "Suggest games similar to this app ID")
	jsonOut      = flag.Bool("json", false, "Print the library as JSON")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	version      = flag.Bool("version", false, "Show version")
)

func main() {
	os.Exit(realMain())
}

// realMain returns the exit code so deferred cleanup, including the cache
// snapshot written by Close, runs before the process exits.
func realMain() int {
	flag.Parse()

	if *version {
		fmt.Println("gameshelf CLI v1.0.0")
		return 0
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gameshelf: %v\n", err)
		return 1
	}
	applyFlags(cfg)

	args := flag.Args()
	if len(args) > 1 || (len(args) == 0 && cfg.Steam.DefaultID == "") {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <steamid64 | vanity name | profile URL>\n", os.Args[0])
		flag.PrintDefaults()
		return 2
	}
	input := ""
	if len(args) == 1 {
		input = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Server.LibraryTimeout)
	defer cancel()

	libs := library.NewWithLogger(ctx, logger, libraryOptions(cfg)...)
	defer func() {
		if err := libs.Close(); err != nil {
			logger.Error("Failed to close library service", "error", err)
		}
	}()

	recOpts := []recommend.Option{
		recommend.WithModel(cfg.Recommend.Model),
		recommend.WithGCPProject(cfg.Recommend.GCPProject),
	}
	if c := libs.Cache(); c != nil {
		recOpts = append(recOpts, recommend.WithCache(c))
	}
	rec := recommend.NewClient(logger, cfg.GeminiAPIKey, recOpts...)

	tag, err := language.Parse(cfg.Gallery.Locale)
	if err != nil {
		logger.Debug("unknown locale, using root collation", "locale", cfg.Gallery.Locale)
		tag = language.Und
	}

	v := view{
		sort: gallery.ParseSortKey(cfg.Gallery.Sort),
		filter: gallery.Filter{
			Genre:      *genre,
			Query:      *query,
			MinHours:   *minHours,
			PlayedOnly: *playedOnly,
		},
		limit:     *limit,
		statsApp:  *statsApp,
		recommend: *recommendApp,
		json:      *jsonOut,
		collation: tag,
	}
	if *sortBy != "" {
		v.sort = gallery.ParseSortKey(*sortBy)
	}

	if err := run(ctx, os.Stdout, libs, rec, input, v); err != nil {
		fmt.Fprintf(os.Stderr, "gameshelf: %s\n", describe(err))
		logger.Error("Command failed", "error", err)
		return 1
	}
	return 0
}

// applyFlags overrides configuration with any flags given on the command line.
func applyFlags(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.SteamAPIKey, *steamAPIKey)
	set(&cfg.GeminiAPIKey, *geminiAPIKey)
	set(&cfg.Recommend.Model, *geminiModel)
	set(&cfg.Recommend.GCPProject, *gcpProject)
	set(&cfg.Cache.Dir, *cacheDir)
	if *noCache {
		cfg.Cache.Disabled = true
	}
	if *maxEnriched >= 0 {
		cfg.Steam.MaxEnriched = *maxEnriched
	}
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
	switch {
	case cfg.Cache.Disabled:
		opts = append(opts, library.WithNoCache())
	case cfg.Cache.Dir != "":
		opts = append(opts, library.WithCacheDir(cfg.Cache.Dir))
	}
	return opts
}

// view is what the user asked to see.
type view struct {
	filter    gallery.Filter
	sort      gallery.SortKey
	collation language.Tag
	limit     int
	statsApp  int
	recommend int
	json      bool
}

func run(ctx context.Context, w io.Writer, libs *library.Service, rec *recommend.Client, input string, v view) error {
	lib, err := libs.Fetch(ctx, input)
	if err != nil {
		return err
	}
	games := gallery.Sort(v.filter.Apply(lib.Games), v.sort, v.collation)

	if v.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Profile library.UserProfile `json:"userProfile"`
			Games   []library.Game      `json:"games"`
			Summary gallery.Summary     `json:"summary"`
			Partial bool                `json:"partial,omitempty"`
		}{lib.Profile, games, gallery.Summarize(lib.Games), lib.Partial})
	}

	if v.statsApp != 0 {
		game := lib.Game(v.statsApp)
		if game == nil {
			return fmt.Errorf("app %d is not in %s's library", v.statsApp, lib.Profile.PersonaName)
		}
		_, err := io.WriteString(w, chart.TimeStats(game))
		return err
	}

	if v.recommend != 0 {
		return printRecommendations(ctx, w, rec, lib, v.recommend)
	}

	if v.limit > 0 && len(games) > v.limit {
		games = games[:v.limit]
	}
	out := chart.Library(lib, games, gallery.Summarize(lib.Games))
	if lib.Partial {
		out += color.New(color.FgYellow).Sprint("Store details timed out for some games; run again to fill them from the cache.") + "\n"
	}
	_, err = io.WriteString(w, out)
	return err
}

func printRecommendations(ctx context.Context, w io.Writer, rec *recommend.Client, lib *library.Library, appID int) error {
	result, err := rec.Recommend(ctx, lib, appID)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)
	owned := color.New(color.FgGreen)

	var sb strings.Builder
	sb.WriteString("\n")
	bold.Fprintf(&sb, "🎮 Games like %s\n", result.Game) //nolint:errcheck // strings.Builder
	sb.WriteString(strings.Repeat("─", 50) + "\n")
	for i, s := range result.Suggestions {
		fmt.Fprintf(&sb, "%d. %s", i+1, s.Name)
		if s.Owned {
			owned.Fprint(&sb, " (in your library)") //nolint:errcheck // strings.Builder
		}
		sb.WriteString("\n")
		if s.Reason != "" {
			fmt.Fprintf(&sb, "   %s\n", s.Reason)
		}
	}
	source := result.Model
	if result.Cached {
		source += ", cached"
	}
	dim.Fprintf(&sb, "\nSuggested by %s\n", source) //nolint:errcheck // strings.Builder

	_, err = io.WriteString(w, sb.String())
	return err
}

// describe turns common failures into a message worth showing on a terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, library.ErrMissingID):
		return "a Steam ID is required (pass one or set STEAM_ID)"
	case errors.Is(err, recommend.ErrDisabled):
		return "recommendations need GEMINI_API_KEY or GCP_PROJECT"
	case errors.Is(err, recommend.ErrUnknownGame):
		return "that app ID is not in this library"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for Steam; try again or raise server.library_timeout"
	default:
		return err.Error()
	}
}
