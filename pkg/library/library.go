// Package library assembles a Steam account's enriched game library.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/gameshelf/pkg/httpcache"
	"github.com/codeGROOVE-dev/gameshelf/pkg/metrics"
	"github.com/codeGROOVE-dev/gameshelf/pkg/steam"
	"github.com/codeGROOVE-dev/gameshelf/pkg/timestats"
)

// ErrMissingID is returned when neither the request nor the configuration names an account.
var ErrMissingID = errors.New("steam ID is required")

const (
	defaultConcurrency = 8
	defaultStoreRPS    = 10
	defaultStoreBurst  = 20

	// playerDataTTL bounds how stale profile and playtime data may be.
	playerDataTTL = 10 * time.Minute

	// Enrichment stops early enough to leave this share of the remaining
	// deadline for the caller, within the bounds below.
	enrichReserveShare = 10
	minEnrichReserve   = 50 * time.Millisecond
	maxEnrichReserve   = 2 * time.Second
)

// errEnrichBudget marks enrichment stopped by its deadline budget rather than by the caller.
var errEnrichBudget = fmt.Errorf("store enrichment budget spent: %w", context.DeadlineExceeded)

// Service fetches and enriches libraries.
type Service struct {
	logger       *slog.Logger
	cache        *httpcache.OtterCache
	client       *steam.Client
	storeLimiter *rate.Limiter
	now          func() time.Time
	defaultID    string
	concurrency  int
	maxEnriched  int
}

// New creates a Service with the default logger.
func New(ctx context.Context, opts ...Option) *Service {
	return NewWithLogger(ctx, slog.Default(), opts...)
}

// NewWithLogger creates a Service with a custom logger.
func NewWithLogger(ctx context.Context, logger *slog.Logger, opts ...Option) *Service {
	o := &OptionHolder{}
	for _, opt := range opts {
		opt(o)
	}

	var cache *httpcache.OtterCache
	switch {
	case o.noCache:
		logger.Info("caching disabled")
	case o.memoryOnlyCache:
		var err error
		cache, err = httpcache.NewMemoryOnlyCache(24*time.Hour, logger)
		if err != nil {
			logger.Warn("memory-only cache initialization failed", "error", err)
			cache = nil
		}
	default:
		cacheDir := o.cacheDir
		if cacheDir == "" {
			if userCacheDir, err := os.UserCacheDir(); err == nil {
				cacheDir = filepath.Join(userCacheDir, "gameshelf")
			} else {
				logger.Debug("could not determine user cache directory", "error", err)
			}
		}
		if cacheDir != "" {
			var err error
			cache, err = httpcache.NewOtterCache(ctx, cacheDir, 7*24*time.Hour, logger)
			if err != nil {
				logger.Warn("cache initialization failed", "error", err, "cache_dir", cacheDir)
				cache = nil
			}
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: metrics.UpstreamTransport(&http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			}),
		}
	}
	retrying := steam.NewRetryingClient(httpClient, o.retryPolicy, logger)

	webAPIBase := o.webAPIBase
	if webAPIBase == "" {
		webAPIBase = steam.DefaultWebAPIBase
	}

	var do steam.DoFunc
	if cache != nil {
		// Player data changes as people play; store metadata barely moves.
		ttl := func(req *http.Request) time.Duration {
			if strings.HasPrefix(req.URL.String(), webAPIBase) {
				return playerDataTTL
			}
			return 0
		}
		do = httpcache.NewCachedHTTPClient(cache, retrying, ttl, logger).Do
	} else {
		do = func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return retrying.Do(req.WithContext(ctx))
		}
	}

	country, language := o.storeCountry, o.storeLanguage
	if country == "" {
		country = "us"
	}
	if language == "" {
		language = "english"
	}

	rps, burst := o.storeRPS, o.storeBurst
	if rps <= 0 {
		rps = defaultStoreRPS
	}
	if burst <= 0 {
		burst = defaultStoreBurst
	}

	concurrency := o.concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	now := o.now
	if now == nil {
		now = time.Now
	}

	return &Service{
		logger: logger,
		cache:  cache,
		client: steam.NewClient(logger, o.apiKey, do,
			steam.WithBaseURLs(webAPIBase, o.storeBase),
			steam.WithStoreLocale(country, language)),
		storeLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:          now,
		defaultID:    strings.TrimSpace(o.defaultSteamID),
		concurrency:  concurrency,
		maxEnriched:  o.maxEnriched,
	}
}

// Close saves the HTTP cache when it is disk-backed.
func (s *Service) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

// Cache exposes the HTTP cache so other clients (recommendations) can share it.
// It is nil when caching is disabled.
func (s *Service) Cache() *httpcache.OtterCache {
	return s.cache
}

// DefaultID is the account used when a request names none.
func (s *Service) DefaultID() string {
	return s.defaultID
}

// ResolveID turns user input into a SteamID64, falling back to the default account.
func (s *Service) ResolveID(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		input = s.defaultID
	}
	if input == "" {
		return "", ErrMissingID
	}

	id, err := steam.ParseIdentifier(input)
	if err != nil {
		return "", err
	}
	if !id.Vanity {
		return id.Value, nil
	}
	steamID, err := s.client.ResolveVanityURL(ctx, id.Value)
	if err != nil {
		return "", fmt.Errorf("resolving vanity name %q: %w", id.Value, err)
	}
	s.logger.Debug("resolved vanity name", "vanity", id.Value, "steam_id", steamID)
	return steamID, nil
}

// Fetch builds the enriched library for an identifier (SteamID64, vanity name
// or profile URL). Store metadata failures degrade individual games; only
// profile and owned-game failures fail the whole fetch.
func (s *Service) Fetch(ctx context.Context, input string) (*Library, error) {
	start := s.now()

	steamID, err := s.ResolveID(ctx, input)
	if err != nil {
		return nil, err
	}

	profile, err := s.client.FetchPlayerSummary(ctx, steamID)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}

	var owned []steam.OwnedGame
	recent := make(map[int]int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owned, err = s.client.FetchOwnedGames(gctx, steamID)
		if err != nil {
			return fmt.Errorf("fetching owned games: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		games, err := s.client.FetchRecentlyPlayedGames(gctx, steamID)
		if err != nil {
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Warn("recent playtime unavailable", "steam_id", steamID, "error", err)
			return nil
		}
		for _, rg := range games {
			recent[rg.AppID] = rg.Playtime2Weeks
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	games, enriched, err := s.enrich(ctx, owned, recent)
	if err != nil {
		return nil, err
	}
	targets := s.targetCount(len(owned))

	s.logger.Info("library fetched",
		"steam_id", steamID,
		"games", len(games),
		"enriched", enriched,
		"recently_played", len(recent),
		"duration_ms", time.Since(start).Milliseconds())

	return &Library{
		FetchedAt: start,
		Profile: UserProfile{
			SteamID:     profile.SteamID,
			PersonaName: profile.PersonaName,
			AvatarFull:  profile.AvatarFull,
			ProfileURL:  profile.ProfileURL,
			Public:      profile.IsPublic(),
		},
		Games:   games,
		Partial: enriched < targets,
	}, nil
}

// RefreshStats recomputes every game's time statistics against the service
// clock, for libraries loaded from a cache.
func (s *Service) RefreshStats(lib *Library) {
	now := s.now()
	for i := range lib.Games {
		g := &lib.Games[i]
		g.TimeStats = timestats.Generate(g.PlaytimeForever, g.Playtime2Weeks, now)
	}
}

// enrichDeadline returns how long enrichment may run under ctx, leaving a
// reserve for the caller. ok is false when ctx has no deadline.
func enrichDeadline(ctx context.Context) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Time{}, false
	}
	reserve := time.Until(deadline) / enrichReserveShare
	reserve = min(max(reserve, minEnrichReserve), maxEnrichReserve)
	return deadline.Add(-reserve), true
}

// enrich attaches store metadata and time statistics to every owned game,
// preserving upstream order. It returns how many games were fully enriched.
// Running out of the deadline budget keeps base fields for the rest; only a
// canceled or expired ctx is an error.
func (s *Service) enrich(ctx context.Context, owned []steam.OwnedGame, recent map[int]int) ([]Game, int, error) {
	now := s.now()
	games := make([]Game, len(owned))
	for i := range owned {
		games[i] = baseGame(&owned[i], recent, now)
	}

	targets := s.enrichTargets(owned)

	ectx := ctx
	if deadline, ok := enrichDeadline(ctx); ok {
		var cancel context.CancelFunc
		ectx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var done atomic.Int32
	g, gctx := errgroup.WithContext(ectx)
	g.SetLimit(s.concurrency)
	for _, i := range targets {
		g.Go(func() error {
			if err := s.enrichGame(gctx, &games[i]); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		s.logger.Warn("store enrichment cut short",
			"enriched", done.Load(),
			"targets", len(targets),
			"error", err)
	}

	if skipped := len(owned) - len(targets); skipped > 0 {
		s.logger.Debug("skipped store metadata for least played games", "skipped", skipped)
	}
	return games, int(done.Load()), nil
}

// targetCount is how many of n owned games get store lookups.
func (s *Service) targetCount(n int) int {
	if s.maxEnriched <= 0 {
		return n
	}
	return min(n, s.maxEnriched)
}

// enrichTargets returns indexes of the games that get store lookups, most
// played first so a short deadline still covers the games that matter.
func (s *Service) enrichTargets(owned []steam.OwnedGame) []int {
	idx := make([]int, len(owned))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return owned[b].PlaytimeForever - owned[a].PlaytimeForever
	})
	return idx[:s.targetCount(len(owned))]
}

func baseGame(og *steam.OwnedGame, recent map[int]int, now time.Time) Game {
	recentMinutes, ok := recent[og.AppID]
	if !ok {
		recentMinutes = og.Playtime2Weeks
	}
	return Game{
		AppID:           og.AppID,
		Name:            og.Name,
		PlaytimeForever: og.PlaytimeForever,
		Playtime2Weeks:  recentMinutes,
		LastPlayed:      og.RTimeLastPlayed,
		ImgIconURL:      og.ImgIconURL,
		Genres:          []steam.Genre{},
		TimeStats:       timestats.Generate(og.PlaytimeForever, recentMinutes, now),
	}
}

// pace waits for a store request slot. The limiter reports a wait that would
// overrun the deadline before ctx expires; that counts as the budget running out.
func (s *Service) pace(ctx context.Context) error {
	if err := s.storeLimiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errEnrichBudget
	}
	return nil
}

// enrichGame fills store metadata in place. Only context and pacing errors are returned.
func (s *Service) enrichGame(ctx context.Context, game *Game) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	details, err := s.client.FetchAppDetails(ctx, game.AppID)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("store details unavailable", "appid", game.AppID, "error", err)
	case details != nil:
		applyDetails(game, details, s.logger)
	}

	if err := s.pace(ctx); err != nil {
		return err
	}
	reviews, err := s.client.FetchReviewSummary(ctx, game.AppID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("review summary unavailable", "appid", game.AppID, "error", err)
		return nil
	}
	game.ReviewScore = reviews.ReviewScore
	game.TotalReviews = reviews.TotalReviews
	game.ReviewScoreDesc = reviews.ReviewScoreDesc
	return nil
}

func applyDetails(game *Game, d *steam.AppDetails, logger *slog.Logger) {
	game.HeaderImage = d.HeaderImage
	game.Description = plainDescription(d.ShortDescription, logger)
	game.Developers = d.Developers
	game.Publishers = d.Publishers
	if d.ReleaseDate != nil {
		game.ReleaseDate = d.ReleaseDate.Date
	}
	if d.Metacritic != nil {
		game.Metacritic = d.Metacritic.Score
	}
	for _, genre := range d.Genres {
		if genre.ID == "" {
			genre.ID = "genre-" + genre.Description
		}
		game.Genres = append(game.Genres, genre)
	}
}

// plainDescription turns the store's HTML snippet into readable text.
func plainDescription(raw string, logger *slog.Logger) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.ContainsAny(raw, "<&") {
		return raw
	}
	text, err := md.ConvertString(raw)
	if err != nil {
		logger.Debug("failed to convert description to markdown", "error", err)
		return raw
	}
	return strings.TrimSpace(text)
}
