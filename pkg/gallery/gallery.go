// Package gallery orders, filters and summarizes a library for display.
package gallery

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
)

// SortKey selects a gallery ordering.
type SortKey string

// Supported orderings.
const (
	SortPlaytime SortKey = "playtime"
	SortName     SortKey = "name"
	SortRating   SortKey = "rating"
	SortRecent   SortKey = "recent"
)

// topGenreLimit caps Summary.TopGenres.
const topGenreLimit = 5

// ParseSortKey maps a query value to a SortKey. Unknown values sort by playtime.
func ParseSortKey(s string) SortKey {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortName, SortRating, SortRecent:
		return k
	default:
		return SortPlaytime
	}
}

// Sort returns a sorted copy of games. Equal games keep their input order.
// tag picks the collation used for name ordering; language.Und is a sane default.
func Sort(games []library.Game, key SortKey, tag language.Tag) []library.Game {
	out := slices.Clone(games)
	switch key {
	case SortName:
		// Collators are not safe for concurrent use, so each call gets its own.
		col := collate.New(tag, collate.IgnoreCase, collate.Loose)
		slices.SortStableFunc(out, func(a, b library.Game) int {
			return col.CompareString(a.Name, b.Name)
		})
	case SortRating:
		slices.SortStableFunc(out, func(a, b library.Game) int {
			return cmp.Compare(b.ReviewScore, a.ReviewScore)
		})
	case SortRecent:
		slices.SortStableFunc(out, func(a, b library.Game) int {
			return cmp.Compare(b.Playtime2Weeks, a.Playtime2Weeks)
		})
	default:
		slices.SortStableFunc(out, func(a, b library.Game) int {
			return cmp.Compare(b.PlaytimeForever, a.PlaytimeForever)
		})
	}
	return out
}

// Filter narrows a game list. The zero Filter keeps everything.
type Filter struct {
	Genre      string
	Query      string
	MinHours   float64
	PlayedOnly bool
}

// IsZero reports whether f keeps every game.
func (f Filter) IsZero() bool {
	return strings.TrimSpace(f.Genre) == "" && strings.TrimSpace(f.Query) == "" && f.MinHours <= 0 && !f.PlayedOnly
}

// Match reports whether g passes the filter.
func (f Filter) Match(g *library.Game) bool {
	if genre := strings.TrimSpace(f.Genre); genre != "" && !g.HasGenre(genre) {
		return false
	}
	if q := strings.TrimSpace(f.Query); q != "" && !strings.Contains(strings.ToLower(g.Name), strings.ToLower(q)) {
		return false
	}
	if f.MinHours > 0 && g.Hours() < f.MinHours {
		return false
	}
	if f.PlayedOnly && g.PlaytimeForever == 0 {
		return false
	}
	return true
}

// Apply returns the games that match f, in order.
func (f Filter) Apply(games []library.Game) []library.Game {
	out := make([]library.Game, 0, len(games))
	for i := range games {
		if f.Match(&games[i]) {
			out = append(out, games[i])
		}
	}
	return out
}

// GenreCount is how many games carry a genre.
type GenreCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary is the headline numbers above the gallery.
type Summary struct {
	TopGenres    []GenreCount `json:"top_genres"`
	GameCount    int          `json:"game_count"`
	TotalHours   int          `json:"total_hours"`
	AverageHours int          `json:"average_hours"`
	RecentHours  int          `json:"recent_hours"`
	PlayedCount  int          `json:"played_count"`
}

// Summarize computes totals over games. Hours are rounded to whole numbers.
func Summarize(games []library.Game) Summary {
	s := Summary{GameCount: len(games), TopGenres: []GenreCount{}}
	if len(games) == 0 {
		return s
	}

	var total, recent int
	for i := range games {
		total += games[i].PlaytimeForever
		recent += games[i].Playtime2Weeks
		if games[i].PlaytimeForever > 0 {
			s.PlayedCount++
		}
	}
	s.TotalHours = int(math.Round(float64(total) / 60))
	s.AverageHours = int(math.Round(float64(total) / float64(len(games)) / 60))
	s.RecentHours = int(math.Round(float64(recent) / 60))

	counts := genreCounts(games)
	if len(counts) > topGenreLimit {
		counts = counts[:topGenreLimit]
	}
	s.TopGenres = counts
	return s
}

// Genres lists every genre in games, alphabetically.
func Genres(games []library.Game) []string {
	counts := genreCounts(games)
	names := make([]string, 0, len(counts))
	for _, c := range counts {
		names = append(names, c.Name)
	}
	slices.Sort(names)
	return names
}

// genreCounts tallies genres by description, most common first.
func genreCounts(games []library.Game) []GenreCount {
	seen := make(map[string]int)
	for i := range games {
		for _, genre := range games[i].Genres {
			if genre.Description != "" {
				seen[genre.Description]++
			}
		}
	}
	counts := make([]GenreCount, 0, len(seen))
	for name, n := range seen {
		counts = append(counts, GenreCount{Name: name, Count: n})
	}
	slices.SortFunc(counts, func(a, b GenreCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return counts
}
