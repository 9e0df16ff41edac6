package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/codeGROOVE-dev/gameshelf/pkg/config"
	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
	"github.com/codeGROOVE-dev/gameshelf/pkg/recommend"
	"github.com/codeGROOVE-dev/gameshelf/pkg/steam"
)

const (
	okID       = "76561197960287930"
	brokenID   = "76561197960287931" // owned games answer 503
	throttleID = "76561197960287932" // owned games answer 429
	slowID     = "76561197960287933" // owned games never answer in time
	bigID      = "76561197960287934" // owns bigLibrarySize games
)

const bigLibrarySize = 40

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeSteam(t *testing.T, ownedHits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := io.WriteString(w, body); err != nil {
			t.Errorf("write: %v", err)
		}
	}
	mux.HandleFunc("/ISteamUser/GetPlayerSummaries/v0002/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("steamids")
		switch id {
		case okID, brokenID, throttleID, slowID, bigID:
			write(w, `{"response":{"players":[{"steamid":"`+id+`","personaname":"Rabscuttle","communityvisibilitystate":3}]}}`)
		default:
			write(w, `{"response":{"players":[]}}`)
		}
	})
	mux.HandleFunc("/ISteamUser/ResolveVanityURL/v0001/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("vanityurl") == "rabscuttle" {
			write(w, `{"response":{"steamid":"`+okID+`","success":1}}`)
			return
		}
		write(w, `{"response":{"success":42}}`)
	})
	mux.HandleFunc("/IPlayerService/GetOwnedGames/v0001/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("steamid") {
		case brokenID:
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		case throttleID:
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		case slowID:
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		case bigID:
			games := make([]string, bigLibrarySize)
			for i := range games {
				games[i] = fmt.Sprintf(`{"appid":%d,"name":"Game %d","playtime_forever":%d}`, 1000+i, i, 600-i)
			}
			write(w, `{"response":{"game_count":`+strconv.Itoa(bigLibrarySize)+`,"games":[`+strings.Join(games, ",")+`]}}`)
			return
		}
		if ownedHits != nil {
			ownedHits.Add(1)
		}
		write(w, `{"response":{"game_count":3,"games":[
			{"appid":70,"name":"Half-Life","playtime_forever":60},
			{"appid":10,"name":"Counter-Strike","playtime_forever":3000,"playtime_2weeks":420},
			{"appid":220,"name":"Half-Life 2","playtime_forever":0}]}}`)
	})
	mux.HandleFunc("/IPlayerService/GetRecentlyPlayedGames/v0001/", func(w http.ResponseWriter, _ *http.Request) {
		write(w, `{"response":{"total_count":0}}`)
	})
	mux.HandleFunc("/api/appdetails", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("appids")
		genre := `{"id":"1","description":"Action"}`
		if id == "220" {
			genre = `{"id":"2","description":"Adventure"}`
		}
		write(w, `{"`+id+`":{"success":true,"data":{"type":"game","steam_appid":`+id+`,
			"header_image":"https://cdn.akamai.steamstatic.com/steam/apps/`+id+`/header.jpg",
			"short_description":"A game.","genres":[`+genre+`]}}}`)
	})
	mux.HandleFunc("/appreviews/", func(w http.ResponseWriter, r *http.Request) {
		score := "7"
		if r.URL.Path == "/appreviews/10" {
			score = "9"
		}
		write(w, `{"success":1,"query_summary":{"review_score":`+score+`,"review_score_desc":"Positive","total_reviews":10}}`)
	})
	return httptest.NewServer(mux)
}

type testEnv struct {
	handler   http.Handler
	server    *server
	ownedHits *atomic.Int32
}

func newTestEnv(t *testing.T, configure func(*config.Config), rec *recommend.Client, libOpts ...library.Option) *testEnv {
	t.Helper()
	hits := &atomic.Int32{}
	upstream := fakeSteam(t, hits)
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.Server.RateBurst = 1000
	cfg.Server.RateLimit = 1000
	if configure != nil {
		configure(cfg)
	}

	opts := append([]library.Option{
		library.WithAPIKey("test-key"),
		library.WithBaseURLs(upstream.URL, upstream.URL),
		library.WithHTTPClient(upstream.Client()),
		library.WithRetryPolicy(steam.RetryPolicy{Attempts: 1}),
		library.WithNoCache(),
	}, libOpts...)
	libs := library.NewWithLogger(context.Background(), testLogger(), opts...)

	if rec == nil {
		rec = recommend.NewClient(testLogger(), "")
	}
	s, err := newServer(cfg, libs, rec, testLogger())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return &testEnv{handler: s.routes(), server: s, ownedHits: hits}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

type libraryResponse struct {
	Profile library.UserProfile `json:"userProfile"`
	Games   []library.Game      `json:"games"`
	Summary struct {
		GameCount  int `json:"game_count"`
		TotalHours int `json:"total_hours"`
	} `json:"summary"`
	Genres []string `json:"genres"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestLibraryEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.get(t, "/api/v1/library?steamId="+okID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Cache"); got != "miss" {
		t.Errorf("X-Cache = %q, want miss", got)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %q", cc)
	}
	resp := decode[libraryResponse](t, w)
	if resp.Profile.PersonaName != "Rabscuttle" || len(resp.Games) != 3 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Games[0].AppID != 10 {
		t.Errorf("default sort should put most played first, got %d", resp.Games[0].AppID)
	}
	if resp.Games[0].TimeStats == nil || len(resp.Games[0].TimeStats.Weekly) != 4 {
		t.Errorf("time stats missing: %+v", resp.Games[0].TimeStats)
	}
	if resp.Summary.GameCount != 3 || resp.Summary.TotalHours != 51 {
		t.Errorf("summary = %+v", resp.Summary)
	}

	// Vanity names resolve to the same cached library.
	w = env.get(t, "/api/v1/library?steamId=rabscuttle&sort=name&genre=action")
	if got := w.Header().Get("X-Cache"); got != "memory" {
		t.Errorf("X-Cache = %q, want memory", got)
	}
	resp = decode[libraryResponse](t, w)
	if len(resp.Games) != 2 || resp.Games[0].Name != "Counter-Strike" || resp.Games[1].Name != "Half-Life" {
		t.Errorf("filtered games = %+v", resp.Games)
	}
	if resp.Summary.GameCount != 3 {
		t.Errorf("summary should cover the whole library, got %+v", resp.Summary)
	}
	if env.ownedHits.Load() != 1 {
		t.Errorf("owned games fetched %d times, want 1", env.ownedHits.Load())
	}
}

func TestLegacyGamesRoutes(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	for _, path := range []string{"/steam/games", "/api/steam/games"} {
		w := env.get(t, path+"?steamId="+okID)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if _, ok := body["userProfile"]; !ok || len(body) != 2 {
			t.Errorf("%s keys = %v, want userProfile and games", path, body)
		}
		resp := decode[libraryResponse](t, w)
		if resp.Games[0].AppID != 70 {
			t.Errorf("%s should keep upstream order, first = %d", path, resp.Games[0].AppID)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		noKey      bool
		timeout    time.Duration
		wantStatus int
		wantError  string
		wantCode   string
	}{
		{name: "missing id", query: "", wantStatus: 400, wantError: "Steam ID is required", wantCode: "MISSING_ID"},
		{name: "invalid id", query: "12345", wantStatus: 400, wantCode: "INVALID_ID"},
		{name: "unknown profile", query: "76561197960287999", wantStatus: 404, wantCode: "PROFILE_NOT_FOUND"},
		{name: "unknown vanity", query: "nobody", wantStatus: 404, wantCode: "PROFILE_NOT_FOUND"},
		{name: "no api key", query: okID, noKey: true, wantStatus: 500, wantError: "Steam API key is not configured", wantCode: "NO_API_KEY"},
		{name: "upstream down", query: brokenID, wantStatus: 502, wantCode: "STEAM_API_ERROR"},
		{name: "upstream throttled", query: throttleID, wantStatus: 429, wantCode: "STEAM_RATE_LIMIT"},
		{name: "timeout", query: slowID, timeout: 100 * time.Millisecond, wantStatus: 504, wantCode: "TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []library.Option
			if tt.noKey {
				opts = append(opts, library.WithAPIKey(""))
			}
			env := newTestEnv(t, func(c *config.Config) {
				if tt.timeout > 0 {
					c.Server.LibraryTimeout = tt.timeout
				}
			}, nil, opts...)

			w := env.get(t, "/api/v1/library?steamId="+tt.query)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			body := decode[apiError](t, w)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if tt.wantError != "" && body.Message != tt.wantError {
				t.Errorf("error = %q, want %q", body.Message, tt.wantError)
			}
		})
	}
}

func TestLibraryDeadlineDuringEnrichment(t *testing.T) {
	// Four store requests per second cannot cover the library in one second.
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.LibraryTimeout = time.Second
	}, nil, library.WithStoreRate(4, 1), library.WithConcurrency(1))

	for range 2 {
		w := env.get(t, "/api/v1/library?steamId="+bigID)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		if got := w.Header().Get("X-Cache"); got != "miss" {
			t.Errorf("X-Cache = %q, partial libraries must not be cached", got)
		}
		var resp struct {
			Games   []library.Game `json:"games"`
			Partial bool           `json:"partial"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Partial || len(resp.Games) != bigLibrarySize {
			t.Fatalf("partial = %v, games = %d", resp.Partial, len(resp.Games))
		}
		if resp.Games[0].AppID != 1000 || resp.Games[0].HeaderImage == "" {
			t.Errorf("most played game should be enriched first: %+v", resp.Games[0])
		}
		if last := resp.Games[bigLibrarySize-1]; last.HeaderImage != "" {
			t.Errorf("least played game should be bare: %+v", last)
		}
	}

	if w := env.get(t, "/?steamId="+bigID); !strings.Contains(w.Body.String(), "Store details are still missing") {
		t.Error("home page does not mention missing store details")
	}
}

func TestClassifyEnrichmentTimeout(t *testing.T) {
	err := fmt.Errorf("fetch: %w", fmt.Errorf("store enrichment budget spent: %w", context.DeadlineExceeded))
	if got := classify(err); got.Status != http.StatusGatewayTimeout || got.Code != "TIMEOUT" {
		t.Errorf("classify = %d %s, want 504 TIMEOUT", got.Status, got.Code)
	}
}

func TestHomeDefaultSteamID(t *testing.T) {
	env := newTestEnv(t, nil, nil, library.WithDefaultSteamID(okID))
	w := env.get(t, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Rabscuttle") || !strings.Contains(w.Body.String(), `class="gallery"`) {
		t.Error("home page without steamId should show the default account")
	}
}

func TestDefaultSteamID(t *testing.T) {
	env := newTestEnv(t, nil, nil, library.WithDefaultSteamID(okID))
	w := env.get(t, "/api/v1/library")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decode[libraryResponse](t, w); resp.Profile.SteamID != okID {
		t.Errorf("SteamID = %q", resp.Profile.SteamID)
	}
}

func TestHomePage(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.get(t, "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `name="steamId"`) {
		t.Fatalf("empty home: status %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "class=\"gallery\"") {
		t.Error("gallery rendered without a Steam ID")
	}

	w = env.get(t, "/?steamId="+okID+"&genre=Adventure")
	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, want := range []string{"Rabscuttle", "<h3>Half-Life 2</h3>", "<strong>3</strong> games", "<strong>51</strong> hours total"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "<h3>Counter-Strike</h3>") {
		t.Error("genre filter not applied")
	}
	if strings.Contains(body, "Similar games") {
		t.Error("similar games link shown with recommendations disabled")
	}

	w = env.get(t, "/?steamId=12345")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Invalid Steam ID") {
		t.Errorf("invalid id: status %d", w.Code)
	}

	if w := env.get(t, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("/nope status = %d, want 404", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	w := env.get(t, "/")
	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "https://cdn.akamai.steamstatic.com") || !strings.Contains(csp, "object-src 'none'") {
		t.Errorf("CSP = %q", csp)
	}
	for _, h := range []string{"X-Frame-Options", "X-Content-Type-Options", "X-Request-ID"} {
		if w.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}

	w = env.get(t, "/static/style.css")
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Cache-Control"), "max-age") {
		t.Errorf("static: status %d, Cache-Control %q", w.Code, w.Header().Get("Cache-Control"))
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.RateLimit = 0.001
		c.Server.RateBurst = 1
	}, nil)

	if w := env.get(t, "/api/v1/library?steamId="+okID); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := env.get(t, "/api/v1/library?steamId="+okID)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if body := decode[apiError](t, w); body.Code != "RATE_LIMITED" {
		t.Errorf("code = %q", body.Code)
	}
	if w := env.get(t, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz should not be rate limited, got %d", w.Code)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := newRateLimiter(1, 1)
	rl.allow("192.0.2.1")
	rl.allow("192.0.2.2")
	if left := rl.sweep(time.Now().Add(time.Minute)); left != 0 {
		t.Errorf("sweep left %d visitors, want 0", left)
	}
	rl.allow("192.0.2.3")
	if left := rl.sweep(time.Now().Add(-time.Minute)); left != 1 {
		t.Errorf("sweep left %d visitors, want 1", left)
	}
}

func TestRecommendations(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if w := env.get(t, "/api/v1/recommendations?steamId="+okID+"&appid=10"); w.Code != http.StatusNotFound {
		t.Errorf("disabled: status %d, want 404", w.Code)
	}

	var calls atomic.Int32
	gen := func(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		calls.Add(1)
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: `{"suggestions":[{"name":"Half-Life 2","reason":"Same studio."},{"name":"Team Fortress 2","reason":"Multiplayer shooter."}]}`},
		}}}}}, nil
	}
	env = newTestEnv(t, nil, recommend.NewClient(testLogger(), "", recommend.WithGenerator(gen)))

	w := env.get(t, "/api/v1/recommendations?steamId="+okID+"&appid=10")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[recommend.Result](t, w)
	if res.Game != "Counter-Strike" || len(res.Suggestions) != 2 || !res.Suggestions[0].Owned || res.Suggestions[0].AppID != 220 {
		t.Errorf("result = %+v", res)
	}

	if w := env.get(t, "/api/v1/recommendations?steamId="+okID+"&appid=999"); w.Code != http.StatusNotFound {
		t.Errorf("unknown game status = %d, want 404", w.Code)
	}
	if w := env.get(t, "/api/v1/recommendations?steamId="+okID+"&appid=abc"); w.Code != http.StatusBadRequest {
		t.Errorf("bad appid status = %d, want 400", w.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("model calls = %d, want 1", calls.Load())
	}

	if w := env.get(t, "/?steamId="+okID); !strings.Contains(w.Body.String(), "Similar games") {
		t.Error("similar games link missing with recommendations enabled")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.get(t, "/api/v1/library?steamId="+okID)

	w := env.get(t, "/healthz")
	health := decode[map[string]any](t, w)
	if n, _ := health["libraries_cached"].(float64); health["status"] != "ok" || n < 1 {
		t.Errorf("healthz = %v", health)
	}

	w = env.get(t, "/metrics")
	body := w.Body.String()
	for _, want := range []string{
		`gameshelf_http_requests_total{method="GET",route="GET /api/v1/library",status="200"}`,
		"gameshelf_library_fetches_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestDiskCache(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, func(c *config.Config) { c.Cache.Dir = dir }, nil)

	if w := env.get(t, "/api/v1/library?steamId="+okID); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	path := env.server.diskCache.path(okID)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("disk cache not written: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "79" || filepath.Base(filepath.Dir(filepath.Dir(path))) != "30" {
		t.Errorf("unexpected shard path %s", path)
	}

	// A fresh server with an empty memory cache reads the disk copy and
	// dates its statistics from its own clock.
	tomorrow := time.Now().AddDate(0, 0, 1)
	env2 := newTestEnv(t, func(c *config.Config) { c.Cache.Dir = dir }, nil,
		library.WithClock(func() time.Time { return tomorrow }))
	w := env2.get(t, "/api/v1/library?steamId="+okID)
	if got := w.Header().Get("X-Cache"); got != "disk" {
		t.Errorf("X-Cache = %q, want disk", got)
	}
	resp := decode[libraryResponse](t, w)
	want := fmt.Sprintf("%d/%d", int(tomorrow.Month()), tomorrow.Day())
	if got := resp.Games[0].TimeStats.Daily[6].Label; got != want {
		t.Errorf("today label from disk = %q, want %q", got, want)
	}
	if env2.ownedHits.Load() != 0 {
		t.Error("disk hit still fetched from Steam")
	}

	old := time.Now().Add(-diskCacheCleanup - time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/_/x-cleanup", http.NoBody)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	result := decode[map[string]any](t, rec)
	if result["status"] != "success" || result["deleted"] != float64(1) {
		t.Errorf("cleanup = %v", result)
	}
}

func TestCleanupWithoutDiskCache(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/_/x-cleanup", http.NoBody)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if result := decode[map[string]string](t, w); result["status"] != "no cache" {
		t.Errorf("cleanup = %v", result)
	}
}

func TestClassifyWrapped(t *testing.T) {
	err := &steam.APIError{Endpoint: "GetOwnedGames", Status: 500}
	if got := classify(err); got.Status != http.StatusBadGateway {
		t.Errorf("classify(APIError) status = %d", got.Status)
	}
	if got := classify(io.ErrUnexpectedEOF); got.Status != http.StatusInternalServerError {
		t.Errorf("classify(other) status = %d", got.Status)
	}
}
