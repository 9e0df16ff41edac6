// Package timestats derives approximate daily, weekly and monthly play-time
// buckets from the two scalar playtime figures the Steam API exposes.
package timestats

import (
	"fmt"
	"math"
	"time"
)

const (
	minutesPerDay = 60 * 24

	// RecentWindowDays is the window covered by Steam's playtime_2weeks field.
	RecentWindowDays = 14

	// DailyBuckets, WeeklyBuckets and MonthlyBuckets are the bucket counts of each series.
	DailyBuckets   = 7
	WeeklyBuckets  = 4
	MonthlyBuckets = 6

	daysPerMonth = 30
)

// DailyPoint is one day of the daily series.
type DailyPoint struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// WeeklyPoint is one week of the weekly series. Percentage is relative to the
// lifetime weekly average.
type WeeklyPoint struct {
	Label      string `json:"label"`
	Value      int    `json:"value"`
	Percentage int    `json:"percentage"`
}

// MonthlyPoint is one month of the monthly series.
type MonthlyPoint struct {
	Label   string `json:"label"`
	Value   int    `json:"value"`
	Average int    `json:"average"`
}

// Summary holds the rounded headline figures.
type Summary struct {
	TotalHours    int `json:"total_hours"`
	RecentHours   int `json:"recent_hours"`
	DailyAverage  int `json:"daily_average"`
	WeeklyAverage int `json:"weekly_average"`
}

// Stats is the full set of synthesized statistics for one game.
type Stats struct {
	Daily   []DailyPoint   `json:"daily"`
	Weekly  []WeeklyPoint  `json:"weekly"`
	Monthly []MonthlyPoint `json:"monthly"`
	Summary Summary        `json:"summary"`
}

// Averages returns the lifetime daily and weekly averages in minutes.
// A game counts as played for at least one day.
func Averages(totalMinutes int) (daily, weekly float64) {
	total := float64(max(totalMinutes, 0))
	days := math.Max(1, math.Ceil(total/minutesPerDay))
	daily = total / days
	return daily, daily * 7
}

// Generate builds the statistics for a game with totalMinutes of lifetime
// playtime and recentMinutes played in the last two weeks, relative to now.
// Daily and monthly series are oldest first; the weekly series is newest first.
func Generate(totalMinutes, recentMinutes int, now time.Time) *Stats {
	totalMinutes = max(totalMinutes, 0)
	recentMinutes = max(recentMinutes, 0)

	dailyAvg, weeklyAvg := Averages(totalMinutes)
	recent := float64(recentMinutes)

	return &Stats{
		Daily:   daily(recent, now),
		Weekly:  weekly(recent, weeklyAvg),
		Monthly: monthly(recent, dailyAvg, now),
		Summary: Summary{
			TotalHours:    round(float64(totalMinutes) / 60),
			RecentHours:   round(recent / 60),
			DailyAverage:  round(dailyAvg),
			WeeklyAverage: round(weeklyAvg),
		},
	}
}

func daily(recent float64, now time.Time) []DailyPoint {
	value := 0
	if recent > 0 {
		value = round(recent / RecentWindowDays)
	}

	points := make([]DailyPoint, DailyBuckets)
	for i := range DailyBuckets {
		day := now.AddDate(0, 0, -i)
		points[DailyBuckets-1-i] = DailyPoint{
			Label: fmt.Sprintf("%d/%d", int(day.Month()), day.Day()),
			Value: value,
		}
	}
	return points
}

func weekly(recent, weeklyAvg float64) []WeeklyPoint {
	points := make([]WeeklyPoint, WeeklyBuckets)
	for i := range WeeklyBuckets {
		value := weeklyAvg
		if i < 2 && recent > 0 {
			value = recent / 2
		}

		pct := 0
		if weeklyAvg > 0 {
			pct = round(value / weeklyAvg * 100)
		}

		points[i] = WeeklyPoint{
			Label:      weekLabel(i),
			Value:      round(value),
			Percentage: pct,
		}
	}
	return points
}

func monthly(recent, dailyAvg float64, now time.Time) []MonthlyPoint {
	average := round(dailyAvg * daysPerMonth)
	// AddDate normalizes overflowing days (Mar 31 - 1 month = Mar 3), so anchor on the 1st.
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	points := make([]MonthlyPoint, MonthlyBuckets)
	for i := range MonthlyBuckets {
		value := dailyAvg * daysPerMonth
		if i == 0 && recent > 0 {
			value = recent / RecentWindowDays * daysPerMonth
		}
		points[MonthlyBuckets-1-i] = MonthlyPoint{
			Label:   first.AddDate(0, -i, 0).Format("Jan"),
			Value:   round(value),
			Average: average,
		}
	}
	return points
}

func weekLabel(weeksAgo int) string {
	switch weeksAgo {
	case 0:
		return "This week"
	case 1:
		return "Last week"
	default:
		return fmt.Sprintf("%d weeks ago", weeksAgo)
	}
}

// round matches the half-up rounding used for every displayed figure.
// Inputs are never negative.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
