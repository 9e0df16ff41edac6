// Package chart renders libraries and play-time statistics for the terminal.
package chart

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/codeGROOVE-dev/gameshelf/pkg/gallery"
	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
	"github.com/codeGROOVE-dev/gameshelf/pkg/timestats"
)

const (
	barWidth  = 40
	nameWidth = 32
)

// genreColor returns the bar color for a game's leading genre. The three most
// common genres in the library get their own color, everything else is grey.
func genreColor(game *library.Game, top []gallery.GenreCount) *color.Color {
	colors := []*color.Color{
		color.New(color.FgBlue),
		color.New(color.FgYellow),
		color.New(color.FgRed),
	}
	if len(game.Genres) > 0 {
		for i, g := range top {
			if i < len(colors) && g.Name == game.Genres[0].Description {
				return colors[i]
			}
		}
	}
	return color.New(color.FgHiBlack)
}

// bar draws value relative to maxValue in at most width cells.
func bar(value, maxValue float64, width int, c *color.Color) string {
	if value <= 0 || maxValue <= 0 {
		return ""
	}
	n := int(math.Round(value / maxValue * float64(width)))
	if n < 1 {
		return c.Sprint("·")
	}
	return c.Sprint(strings.Repeat("█", n))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// pad left-aligns s in n columns, counting runes rather than bytes.
func pad(s string, n int) string {
	if c := utf8.RuneCountInString(s); c < n {
		return s + strings.Repeat(" ", n-c)
	}
	return s
}

// Library renders a profile header, summary and one row per game.
func Library(lib *library.Library, games []library.Game, summary gallery.Summary) string {
	var out strings.Builder
	bold := color.New(color.Bold)

	name := lib.Profile.PersonaName
	if name == "" {
		name = lib.Profile.SteamID
	}
	out.WriteString("🎮 " + bold.Sprint(name))
	if !lib.Profile.Public {
		out.WriteString(color.New(color.FgYellow).Sprint("  (private profile)"))
	}
	out.WriteString("\n")
	out.WriteString(strings.Repeat("─", 72) + "\n")
	fmt.Fprintf(&out, "%d games · %d hours total · %d hours average · %d hours in the last 2 weeks\n",
		summary.GameCount, summary.TotalHours, summary.AverageHours, summary.RecentHours)
	if len(summary.TopGenres) > 0 {
		parts := make([]string, 0, len(summary.TopGenres))
		for i := range summary.TopGenres {
			g := summary.TopGenres[i]
			parts = append(parts, fmt.Sprintf("%s (%d)", g.Name, g.Count))
		}
		out.WriteString("Top genres: " + strings.Join(parts, ", ") + "\n")
	}
	out.WriteString(strings.Repeat("─", 72) + "\n")

	if len(games) == 0 {
		out.WriteString("No games match.\n")
		return out.String()
	}

	maxHours := 0.0
	for i := range games {
		maxHours = math.Max(maxHours, games[i].Hours())
	}

	recentMark := color.New(color.FgGreen)
	for i := range games {
		g := &games[i]
		line := fmt.Sprintf("%3d. %s %7.1fh ", i+1, pad(truncate(g.Name, nameWidth), nameWidth), g.Hours())
		if g.Playtime2Weeks > 0 {
			line += recentMark.Sprint("▲") + " "
		} else {
			line += "  "
		}
		line += bar(g.Hours(), maxHours, barWidth/2, genreColor(g, summary.TopGenres))
		if g.ReviewScoreDesc != "" {
			line += "  " + color.New(color.FgHiBlack).Sprint(g.ReviewScoreDesc)
		}
		out.WriteString(line + "\n")
	}
	return out.String()
}

// TimeStats renders a game's daily, weekly and monthly play-time series.
func TimeStats(game *library.Game) string {
	var out strings.Builder
	out.WriteString("⏱  " + color.New(color.Bold).Sprint(game.Name) + "\n")
	out.WriteString(strings.Repeat("─", 60) + "\n")

	s := game.TimeStats
	if s == nil || (game.PlaytimeForever == 0 && game.Playtime2Weeks == 0) {
		out.WriteString("Never played.\n")
		return out.String()
	}
	fmt.Fprintf(&out, "%d hours total · %d hours recently · %d min/day · %d min/week\n\n",
		s.Summary.TotalHours, s.Summary.RecentHours, s.Summary.DailyAverage, s.Summary.WeeklyAverage)

	daily := color.New(color.FgBlue)
	out.WriteString("Daily (minutes)\n")
	maxDaily := maxOf(s.Daily, func(p timestats.DailyPoint) int { return p.Value })
	for _, p := range s.Daily {
		fmt.Fprintf(&out, "  %-6s %6d %s\n", p.Label, p.Value, bar(float64(p.Value), maxDaily, barWidth, daily))
	}

	weekly := color.New(color.FgYellow)
	out.WriteString("\nWeekly (minutes)\n")
	maxWeekly := maxOf(s.Weekly, func(p timestats.WeeklyPoint) int { return p.Value })
	for _, p := range s.Weekly {
		fmt.Fprintf(&out, "  %-12s %6d %4d%% %s\n", p.Label, p.Value, p.Percentage, bar(float64(p.Value), maxWeekly, barWidth, weekly))
	}

	monthly := color.New(color.FgGreen)
	out.WriteString("\nMonthly (minutes)\n")
	maxMonthly := maxOf(s.Monthly, func(p timestats.MonthlyPoint) int { return p.Value })
	for _, p := range s.Monthly {
		fmt.Fprintf(&out, "  %-4s %7d %s\n", p.Label, p.Value, bar(float64(p.Value), maxMonthly, barWidth, monthly))
	}
	return out.String()
}

func maxOf[T any](points []T, value func(T) int) float64 {
	m := 0
	for _, p := range points {
		m = max(m, value(p))
	}
	return float64(m)
}
