package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/language"
	"google.golang.org/genai"

	"github.com/codeGROOVE-dev/gameshelf/pkg/config"
	"github.com/codeGROOVE-dev/gameshelf/pkg/gallery"
	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
	"github.com/codeGROOVE-dev/gameshelf/pkg/recommend"
	"github.com/codeGROOVE-dev/gameshelf/pkg/steam"
)

const testID = "76561197960287930"

func init() {
	color.NoColor = true
}

func fakeSteam(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := io.WriteString(w, body); err != nil {
			t.Errorf("write: %v", err)
		}
	}
	mux.HandleFunc("/ISteamUser/GetPlayerSummaries/v0002/", func(w http.ResponseWriter, _ *http.Request) {
		write(w, `{"response":{"players":[{"steamid":"`+testID+`","personaname":"Rabscuttle","communityvisibilitystate":3}]}}`)
	})
	mux.HandleFunc("/IPlayerService/GetOwnedGames/v0001/", func(w http.ResponseWriter, _ *http.Request) {
		write(w, `{"response":{"game_count":3,"games":[
			{"appid":70,"name":"Half-Life","playtime_forever":600},
			{"appid":10,"name":"Counter-Strike","playtime_forever":3000,"playtime_2weeks":420},
			{"appid":220,"name":"Half-Life 2","playtime_forever":0}]}}`)
	})
	mux.HandleFunc("/IPlayerService/GetRecentlyPlayedGames/v0001/", func(w http.ResponseWriter, _ *http.Request) {
		write(w, `{"response":{"total_count":1,"games":[{"appid":10,"name":"Counter-Strike","playtime_2weeks":420,"playtime_forever":3000}]}}`)
	})
	mux.HandleFunc("/api/appdetails", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("appids")
		write(w, `{"`+id+`":{"success":true,"data":{"type":"game","steam_appid":`+id+`,"genres":[{"id":"1","description":"Action"}]}}}`)
	})
	mux.HandleFunc("/appreviews/", func(w http.ResponseWriter, _ *http.Request) {
		write(w, `{"success":1,"query_summary":{"review_score":8,"review_score_desc":"Very Positive","total_reviews":10}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, opts ...library.Option) *library.Service {
	t.Helper()
	srv := fakeSteam(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	libs := library.NewWithLogger(context.Background(), logger, append([]library.Option{
		library.WithAPIKey("test-key"),
		library.WithBaseURLs(srv.URL, srv.URL),
		library.WithHTTPClient(srv.Client()),
		library.WithRetryPolicy(steam.RetryPolicy{Attempts: 1}),
		library.WithNoCache(),
	}, opts...)...)
	t.Cleanup(func() {
		if err := libs.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return libs
}

func disabledRecommender() *recommend.Client {
	return recommend.NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), "")
}

func TestRunViews(t *testing.T) {
	libs := newTestService(t)

	tests := []struct {
		name    string
		view    view
		want    []string
		notWant []string
	}{
		{
			name: "library sorted by playtime",
			view: view{sort: gallery.SortPlaytime},
			want: []string{"Rabscuttle", "3 games · 60 hours total", "  1. Counter-Strike", "  2. Half-Life ", "Very Positive"},
		},
		{
			name: "limit",
			view: view{sort: gallery.SortPlaytime, limit: 1},
			want: []string{"  1. Counter-Strike", "3 games"}, notWant: []string{"  2. "},
		},
		{
			name: "name sort with query",
			view: view{sort: gallery.SortName, collation: language.English, filter: gallery.Filter{Query: "half"}},
			want: []string{"  1. Half-Life ", "  2. Half-Life 2"}, notWant: []string{"Counter-Strike "},
		},
		{
			name: "played only",
			view: view{sort: gallery.SortPlaytime, filter: gallery.Filter{PlayedOnly: true}},
			notWant: []string{"Half-Life 2"},
		},
		{
			name: "time stats",
			view: view{statsApp: 10},
			want: []string{"Counter-Strike", "Daily (minutes)", "Weekly (minutes)", "Monthly (minutes)", "This week"},
		},
		{
			name: "time stats never played",
			view: view{statsApp: 220},
			want: []string{"Never played."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(context.Background(), &out, libs, disabledRecommender(), testID, tt.view); err != nil {
				t.Fatalf("run: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
			for _, bad := range tt.notWant {
				if strings.Contains(out.String(), bad) {
					t.Errorf("output unexpectedly contains %q:\n%s", bad, out.String())
				}
			}
		})
	}
}

func TestRunJSON(t *testing.T) {
	libs := newTestService(t)
	var out bytes.Buffer
	v := view{json: true, sort: gallery.SortPlaytime, filter: gallery.Filter{Genre: "Action", MinHours: 20}}
	if err := run(context.Background(), &out, libs, disabledRecommender(), testID, v); err != nil {
		t.Fatalf("run: %v", err)
	}
	var got struct {
		Profile library.UserProfile `json:"userProfile"`
		Games   []library.Game      `json:"games"`
		Summary gallery.Summary     `json:"summary"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Profile.PersonaName != "Rabscuttle" || len(got.Games) != 1 || got.Games[0].AppID != 10 {
		t.Errorf("got profile %+v, games %+v", got.Profile, got.Games)
	}
	if got.Summary.GameCount != 3 {
		t.Errorf("summary should cover the whole library, got %+v", got.Summary)
	}
}

func TestRunRecommend(t *testing.T) {
	libs := newTestService(t)
	gen := func(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: `{"suggestions":[{"name":"Half-Life 2","reason":"Same engine."},{"name":"Portal","reason":"Puzzles."}]}`},
		}}}}}, nil
	}
	rec := recommend.NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), "", recommend.WithGenerator(gen))

	var out bytes.Buffer
	if err := run(context.Background(), &out, libs, rec, testID, view{recommend: 70}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"Games like Half-Life", "1. Half-Life 2 (in your library)", "   Same engine.", "2. Portal\n", "Suggested by " + recommend.DefaultModel} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunErrors(t *testing.T) {
	libs := newTestService(t)
	tests := []struct {
		name  string
		input string
		view  view
		want  string
	}{
		{"unknown stats app", testID, view{statsApp: 999}, "app 999 is not in Rabscuttle's library"},
		{"recommendations disabled", testID, view{recommend: 10}, "recommendations need GEMINI_API_KEY"},
		{"unknown recommend app", testID, view{recommend: 999}, ""},
		{"missing id", "", view{}, "a Steam ID is required"},
		{"invalid id", "12345", view{}, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), io.Discard, libs, disabledRecommender(), tt.input, tt.view)
			if err == nil {
				t.Fatal("run succeeded")
			}
			if got := describe(err); tt.want != "" && !strings.Contains(strings.ToLower(got), strings.ToLower(tt.want)) {
				t.Errorf("describe = %q, want containing %q", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("fetch: %w", context.DeadlineExceeded), "timed out"},
		{recommend.ErrUnknownGame, "not in this library"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("describe(%v) = %q, want containing %q", tt.err, got, tt.want)
		}
	}
}

func TestLibraryOptions(t *testing.T) {
	cfg := config.Default()
	if n := len(libraryOptions(cfg)); n != 6 {
		t.Errorf("default options = %d, want 6", n)
	}
	cfg.Cache.Dir = t.TempDir()
	if n := len(libraryOptions(cfg)); n != 7 {
		t.Errorf("options with cache dir = %d, want 7", n)
	}
	cfg.Cache.Disabled = true
	if n := len(libraryOptions(cfg)); n != 7 {
		t.Errorf("options with cache disabled = %d, want 7", n)
	}
}

func TestRunCapsEnrichment(t *testing.T) {
	cfg := config.Default()
	cfg.Steam.MaxEnriched = 1
	cfg.Cache.Disabled = true
	srv := fakeSteam(t)
	opts := append(libraryOptions(cfg),
		library.WithAPIKey("test-key"),
		library.WithBaseURLs(srv.URL, srv.URL),
		library.WithHTTPClient(srv.Client()),
		library.WithRetryPolicy(steam.RetryPolicy{Attempts: 1}))
	libs := library.NewWithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)

	var out bytes.Buffer
	if err := run(context.Background(), &out, libs, disabledRecommender(), testID, view{json: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var got struct {
		Games []library.Game `json:"games"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	enriched := 0
	for _, g := range got.Games {
		if g.ReviewScoreDesc != "" {
			enriched++
		}
	}
	if enriched != 1 {
		t.Errorf("enriched games = %d, want 1", enriched)
	}
}

func TestRunReportsPartialLibrary(t *testing.T) {
	// One store request per second leaves only the most played game enriched.
	libs := newTestService(t, library.WithStoreRate(1, 1), library.WithConcurrency(1))
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	if err := run(ctx, &out, libs, disabledRecommender(), testID, view{sort: gallery.SortPlaytime}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"  1. Counter-Strike", "Store details timed out for some games"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRealMainSavesCacheOnFailure(t *testing.T) {
	dir := t.TempDir()
	for _, key := range []string{"STEAM_API_KEY", "STEAM_ID", "CACHE_DIR", "GEMINI_API_KEY", "GCP_PROJECT"} {
		t.Setenv(key, "")
	}
	args := os.Args
	t.Cleanup(func() {
		os.Args = args
		*cacheDir, *steamAPIKey = "", ""
	})
	os.Args = []string{"gameshelf", "-cache-dir", dir, "-steam-key", "test-key", "12345"}

	if code := realMain(); code != 1 {
		t.Fatalf("realMain = %d, want 1 for an invalid ID", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "otter-cache.gob")); err != nil {
		t.Errorf("cache snapshot not written before exit: %v", err)
	}
}
