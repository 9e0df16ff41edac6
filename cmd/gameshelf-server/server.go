package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/codeGROOVE-dev/gameshelf/pkg/config"
	"github.com/codeGROOVE-dev/gameshelf/pkg/gallery"
	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
	"github.com/codeGROOVE-dev/gameshelf/pkg/metrics"
	"github.com/codeGROOVE-dev/gameshelf/pkg/recommend"
	"github.com/codeGROOVE-dev/gameshelf/pkg/steam"
)

const recommendTimeout = 30 * time.Second

type server struct {
	libraries   *library.Service
	recommender *recommend.Client
	cache       *otter.Cache[string, *library.Library]
	diskCache   *diskCacheHandler
	limiter     *rateLimiter
	logger      *slog.Logger
	tmpl        *template.Template
	fetches     singleflight.Group
	csp         string
	defaultSort gallery.SortKey
	collation   language.Tag
	timeout     time.Duration
}

func newServer(cfg *config.Config, libs *library.Service, rec *recommend.Client, logger *slog.Logger) (*server, error) {
	tmpl, err := template.New("home").Funcs(template.FuncMap{
		"hours": func(minutes int) string {
			return strconv.FormatFloat(float64(minutes)/60, 'f', 1, 64)
		},
		"percent": func(p int) template.CSS {
			return template.CSS(fmt.Sprintf("%d%%", min(max(p, 0), 100))) //nolint:gosec // integer only
		},
	}).Parse(homeTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	tag, err := language.Parse(cfg.Gallery.Locale)
	if err != nil {
		logger.Warn("unknown gallery locale, using root collation", "locale", cfg.Gallery.Locale, "error", err)
		tag = language.Und
	}

	s := &server{
		libraries:   libs,
		recommender: rec,
		cache: otter.Must(&otter.Options[string, *library.Library]{
			MaximumSize:      10_000,
			ExpiryCalculator: otter.ExpiryWriting[string, *library.Library](cfg.Server.LibraryCacheTTL),
		}),
		limiter:     newRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		logger:      logger,
		tmpl:        tmpl,
		csp:         cspPolicy(),
		defaultSort: gallery.ParseSortKey(cfg.Gallery.Sort),
		collation:   tag,
		timeout:     cfg.Server.LibraryTimeout,
	}
	if cfg.Cache.Dir != "" && !cfg.Cache.Disabled {
		s.diskCache = &diskCacheHandler{dir: cfg.Cache.Dir, logger: logger, maxAge: diskCacheMaxAge}
	}
	return s, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /api/v1/library", s.rateLimit(s.handleLibrary))
	mux.HandleFunc("GET /steam/games", s.rateLimit(s.handleGames))
	mux.HandleFunc("GET /api/steam/games", s.rateLimit(s.handleGames))
	mux.HandleFunc("GET /api/v1/recommendations", s.rateLimit(s.handleRecommendations))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /static/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("POST /_/x-cleanup", s.handleCleanup)

	antiCSRF := http.NewCrossOriginProtection()
	return s.wrap(antiCSRF.Handler(mux))
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *server) wrap(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := fmt.Sprintf("%d-%d", start.Unix(), start.Nanosecond())
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w}
		metrics.InFlight(1)
		defer func() {
			metrics.InFlight(-1)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			metrics.ObserveRequest(r.Method, route, status, time.Since(start))
		}()

		defer func() {
			if err := recover(); err != nil {
				const size = 64 << 10
				buf := make([]byte, size)
				buf = buf[:runtime.Stack(buf, false)]

				s.logger.Error("PANIC: request handler crashed",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", requestID,
					"client_ip", clientIP(r),
					"user_agent", r.Header.Get("User-Agent"),
					"stack", string(buf))
				http.Error(rec, "Internal server error", http.StatusInternalServerError)
			}
		}()

		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=(), bluetooth=()")
		w.Header().Set("Content-Security-Policy", s.csp)

		switch {
		case strings.HasPrefix(r.URL.Path, "/api/"), r.URL.Path == "/steam/games":
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		case strings.HasPrefix(r.URL.Path, "/static/"):
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
		}

		handler.ServeHTTP(rec, r)
	})
}

func (s *server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r) {
			s.writeError(w, r, errRateLimited)
			return
		}
		next(w, r)
	}
}

func (s *server) allow(w http.ResponseWriter, r *http.Request) bool {
	ip := clientIP(r)
	if s.limiter.allow(ip) {
		return true
	}
	s.logger.Warn("rate limit exceeded",
		"request_id", w.Header().Get("X-Request-ID"),
		"client_ip", ip,
		"path", r.URL.Path)
	return false
}

// apiError is the JSON body of every error response.
type apiError struct {
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code"`
	Status  int    `json:"-"`
}

func (e *apiError) Error() string { return e.Message }

var errRateLimited = &apiError{
	Status:  http.StatusTooManyRequests,
	Message: "Too many requests",
	Details: "Please slow down and try again in a few seconds.",
	Code:    "RATE_LIMITED",
}

// classify maps an error to the response the client sees.
func classify(err error) *apiError {
	var apiErr *apiError
	var upstream *steam.APIError
	var netErr *url.Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, library.ErrMissingID):
		return &apiError{Status: http.StatusBadRequest, Message: "Steam ID is required", Code: "MISSING_ID"}
	case errors.Is(err, steam.ErrInvalidID):
		return &apiError{Status: http.StatusBadRequest, Message: "Invalid Steam ID",
			Details: "Enter a 17-digit SteamID64, a custom profile name or a steamcommunity.com profile URL.", Code: "INVALID_ID"}
	case errors.Is(err, steam.ErrProfileNotFound):
		return &apiError{Status: http.StatusNotFound, Message: "Steam profile not found",
			Details: "No public Steam profile matches this ID. Check the spelling or the profile's privacy settings.", Code: "PROFILE_NOT_FOUND"}
	case errors.Is(err, steam.ErrNoAPIKey):
		return &apiError{Status: http.StatusInternalServerError, Message: "Steam API key is not configured", Code: "NO_API_KEY"}
	case errors.Is(err, steam.ErrRateLimited):
		return &apiError{Status: http.StatusTooManyRequests, Message: "Steam API rate limit exceeded",
			Details: "Steam is throttling requests. Please try again in a few minutes.", Code: "STEAM_RATE_LIMIT"}
	case errors.Is(err, context.DeadlineExceeded):
		return &apiError{Status: http.StatusGatewayTimeout, Message: "Loading the library took too long",
			Details: "Large libraries can take a while on the first visit. Please try again.", Code: "TIMEOUT"}
	case errors.Is(err, context.Canceled):
		return &apiError{Status: http.StatusRequestTimeout, Message: "Request was canceled", Code: "CANCELED"}
	case errors.As(err, &upstream), errors.As(err, &netErr):
		return &apiError{Status: http.StatusBadGateway, Message: "Steam API error",
			Details: "Steam's API is temporarily unavailable. Please try again in a moment.", Code: "STEAM_API_ERROR"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: "Failed to fetch game data", Code: "INTERNAL_ERROR"}
	}
}

func (s *server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response",
			"request_id", w.Header().Get("X-Request-ID"),
			"path", r.URL.Path,
			"error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := classify(err)
	level := slog.LevelWarn
	if apiErr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"request_id", w.Header().Get("X-Request-ID"),
		"path", r.URL.Path,
		"status", apiErr.Status,
		"code", apiErr.Code,
		"error", err)
	s.writeJSON(w, r, apiErr.Status, apiErr)
}

type fetched struct {
	lib    *library.Library
	source string
}

// getLibrary returns the library for input, from memory, disk or Steam.
// Concurrent requests for one account share a single upstream fetch.
func (s *server) getLibrary(ctx context.Context, input string) (*library.Library, string, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	steamID, err := s.libraries.ResolveID(resolveCtx, input)
	cancel()
	if err != nil {
		metrics.ObserveLibrary("error", "miss", 0)
		return nil, "", err
	}

	key := "library:" + steamID
	if lib, ok := s.cache.GetIfPresent(key); ok {
		metrics.ObserveLibrary("ok", "memory", len(lib.Games))
		return lib, "memory", nil
	}

	v, err, _ := s.fetches.Do(steamID, func() (any, error) {
		if s.diskCache != nil {
			if data := s.diskCache.load(steamID); data != nil {
				var lib library.Library
				if err := json.Unmarshal(data, &lib); err == nil {
					// Daily labels are relative to today, not to the fetch.
					s.libraries.RefreshStats(&lib)
					s.cache.Set(key, &lib)
					return fetched{lib: &lib, source: "disk"}, nil
				}
				s.logger.Debug("discarding unreadable disk cache entry", "steam_id", steamID)
			}
		}

		// The fetch is shared, so it must outlive any one client.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		lib, err := s.libraries.Fetch(fetchCtx, steamID)
		if err != nil {
			return nil, err
		}
		// Partial libraries stay uncached so a reload picks up where the
		// fetch stopped, with store responses served by the HTTP cache.
		if lib.Partial {
			return fetched{lib: lib, source: "miss"}, nil
		}
		s.cache.Set(key, lib)
		if s.diskCache != nil {
			if data, err := json.Marshal(lib); err == nil {
				s.diskCache.save(steamID, data)
			}
		}
		return fetched{lib: lib, source: "miss"}, nil
	})
	if err != nil {
		metrics.ObserveLibrary("error", "miss", 0)
		return nil, "", err
	}
	f := v.(fetched) //nolint:forcetypeassert // only fetched is returned
	metrics.ObserveLibrary("ok", f.source, len(f.lib.Games))
	return f.lib, f.source, nil
}

func steamIDParam(q url.Values) string {
	if v := q.Get("steamId"); v != "" {
		return v
	}
	return q.Get("steamid")
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

// galleryQuery is the sort and filter state carried in query strings.
type galleryQuery struct {
	filter gallery.Filter
	sort   gallery.SortKey
	minRaw string
}

func (s *server) parseGalleryQuery(q url.Values) galleryQuery {
	gq := galleryQuery{
		sort: s.defaultSort,
		filter: gallery.Filter{
			Genre:      strings.TrimSpace(q.Get("genre")),
			Query:      strings.TrimSpace(q.Get("q")),
			PlayedOnly: truthy(q.Get("played")),
		},
		minRaw: strings.TrimSpace(q.Get("min_hours")),
	}
	if v := q.Get("sort"); v != "" {
		gq.sort = gallery.ParseSortKey(v)
	}
	if h, err := strconv.ParseFloat(gq.minRaw, 64); err == nil && h > 0 {
		gq.filter.MinHours = h
	} else {
		gq.minRaw = ""
	}
	return gq
}

func (s *server) view(lib *library.Library, gq galleryQuery) []library.Game {
	return gallery.Sort(gq.filter.Apply(lib.Games), gq.sort, s.collation)
}

func (s *server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	lib, source, err := s.getLibrary(r.Context(), steamIDParam(q))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	gq := s.parseGalleryQuery(q)
	w.Header().Set("X-Cache", source)
	s.writeJSON(w, r, http.StatusOK, struct {
		FetchedAt time.Time           `json:"fetched_at"`
		Profile   library.UserProfile `json:"userProfile"`
		Games     []library.Game      `json:"games"`
		Summary   gallery.Summary     `json:"summary"`
		Genres    []string            `json:"genres"`
		Sort      gallery.SortKey     `json:"sort"`
		Partial   bool                `json:"partial,omitempty"`
	}{
		FetchedAt: lib.FetchedAt,
		Profile:   lib.Profile,
		Games:     s.view(lib, gq),
		Summary:   gallery.Summarize(lib.Games),
		Genres:    gallery.Genres(lib.Games),
		Sort:      gq.sort,
		Partial:   lib.Partial,
	})

	s.logger.Info("library request completed",
		"request_id", w.Header().Get("X-Request-ID"),
		"steam_id", lib.Profile.SteamID,
		"games", len(lib.Games),
		"cache", source,
		"duration_ms", time.Since(start).Milliseconds())
}

// handleGames serves the plain {userProfile, games} shape in upstream order.
func (s *server) handleGames(w http.ResponseWriter, r *http.Request) {
	lib, source, err := s.getLibrary(r.Context(), steamIDParam(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Cache", source)
	s.writeJSON(w, r, http.StatusOK, struct {
		Profile library.UserProfile `json:"userProfile"`
		Games   []library.Game      `json:"games"`
	}{lib.Profile, lib.Games})
}

func (s *server) recommendationsEnabled() bool {
	return s.recommender != nil && s.recommender.Enabled()
}

func (s *server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if !s.recommendationsEnabled() {
		s.writeError(w, r, &apiError{Status: http.StatusNotFound, Message: "Recommendations are not enabled", Code: "RECOMMENDATIONS_DISABLED"})
		return
	}
	q := r.URL.Query()
	appID, err := strconv.Atoi(q.Get("appid"))
	if err != nil || appID <= 0 {
		s.writeError(w, r, &apiError{Status: http.StatusBadRequest, Message: "A numeric appid is required", Code: "INVALID_APPID"})
		return
	}

	lib, _, err := s.getLibrary(r.Context(), steamIDParam(q))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), recommendTimeout)
	defer cancel()
	result, err := s.recommender.Recommend(ctx, lib, appID)
	switch {
	case errors.Is(err, recommend.ErrUnknownGame):
		s.writeError(w, r, &apiError{Status: http.StatusNotFound, Message: "Game is not in this library", Code: "GAME_NOT_FOUND"})
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, r, err)
		return
	case err != nil:
		s.logger.Error("recommendation failed", "appid", appID, "error", err)
		s.writeError(w, r, &apiError{Status: http.StatusBadGateway, Message: "Recommendation service unavailable",
			Details: "The AI service is temporarily unavailable. Please try again later.", Code: "RECOMMENDATION_FAILED"})
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

type sortOption struct {
	Value    gallery.SortKey
	Label    string
	Selected bool
}

type pageData struct {
	Library         *library.Library
	Error           *apiError
	SteamID         string
	Genre           string
	Query           string
	MinHours        string
	CacheSource     string
	Sorts           []sortOption
	Genres          []string
	Games           []library.Game
	Summary         gallery.Summary
	PlayedOnly      bool
	Recommendations bool
}

func (s *server) handleHome(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gq := s.parseGalleryQuery(q)
	data := pageData{
		SteamID:         strings.TrimSpace(steamIDParam(q)),
		Genre:           gq.filter.Genre,
		Query:           gq.filter.Query,
		MinHours:        gq.minRaw,
		PlayedOnly:      gq.filter.PlayedOnly,
		Recommendations: s.recommendationsEnabled(),
	}
	for _, opt := range []sortOption{
		{Value: gallery.SortPlaytime, Label: "Most played"},
		{Value: gallery.SortName, Label: "Name"},
		{Value: gallery.SortRating, Label: "Rating"},
		{Value: gallery.SortRecent, Label: "Recently played"},
	} {
		opt.Selected = opt.Value == gq.sort
		data.Sorts = append(data.Sorts, opt)
	}

	status := http.StatusOK
	if data.SteamID != "" || s.libraries.DefaultID() != "" {
		var lib *library.Library
		var err error
		if !s.allow(w, r) {
			err = errRateLimited
		} else {
			// An empty ID resolves to the configured default account.
			lib, data.CacheSource, err = s.getLibrary(r.Context(), data.SteamID)
		}
		if err != nil {
			data.Error = classify(err)
			status = data.Error.Status
			s.logger.Warn("home page library failed",
				"request_id", w.Header().Get("X-Request-ID"),
				"status", status,
				"error", err)
		} else {
			data.Library = lib
			data.Games = s.view(lib, gq)
			data.Summary = gallery.Summarize(lib.Games)
			data.Genres = gallery.Genres(lib.Games)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.Execute(w, data); err != nil {
		s.logger.Error("template execution failed",
			"request_id", w.Header().Get("X-Request-ID"),
			"error", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":           "ok",
		"libraries_cached": s.cache.EstimatedSize(),
		"recommendations":  s.recommendationsEnabled(),
	}
	if c := s.libraries.Cache(); c != nil {
		body["http_cache"] = c.Stats()
	}
	s.writeJSON(w, r, http.StatusOK, body)
}

func (s *server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.diskCache == nil {
		s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "no cache"})
		return
	}
	deleted := s.diskCache.cleanup()
	s.logger.Info("disk cache cleanup", "request_id", w.Header().Get("X-Request-ID"), "deleted", deleted)
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "success",
		"deleted": deleted,
	})
}
