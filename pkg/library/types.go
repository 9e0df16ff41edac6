package library

import (
	"strings"
	"time"

	"github.com/codeGROOVE-dev/gameshelf/pkg/steam"
	"github.com/codeGROOVE-dev/gameshelf/pkg/timestats"
)

// UserProfile is the subset of the Steam profile shown next to a library.
type UserProfile struct {
	SteamID     string `json:"steamid"`
	PersonaName string `json:"personaname"`
	AvatarFull  string `json:"avatarfull"`
	ProfileURL  string `json:"profileurl"`
	Public      bool   `json:"public"`
}

// Game is an owned game enriched with store metadata and play-time statistics.
// Metadata fields are empty when the store had nothing for the app.
type Game struct {
	AppID           int              `json:"appid"`
	Name            string           `json:"name"`
	PlaytimeForever int              `json:"playtime_forever"`
	Playtime2Weeks  int              `json:"playtime_2weeks"`
	LastPlayed      int64            `json:"rtime_last_played,omitempty"`
	ImgIconURL      string           `json:"img_icon_url,omitempty"`
	Genres          []steam.Genre    `json:"genres"`
	HeaderImage     string           `json:"header_image"`
	Description     string           `json:"description"`
	Developers      []string         `json:"developers,omitempty"`
	Publishers      []string         `json:"publishers,omitempty"`
	ReleaseDate     string           `json:"release_date,omitempty"`
	Metacritic      int              `json:"metacritic,omitempty"`
	ReviewScore     int              `json:"review_score"`
	TotalReviews    int              `json:"total_reviews"`
	ReviewScoreDesc string           `json:"review_score_desc"`
	TimeStats       *timestats.Stats `json:"time_stats"`
}

// Hours returns lifetime playtime in hours.
func (g *Game) Hours() float64 {
	return float64(g.PlaytimeForever) / 60
}

// HasGenre reports whether the game carries a genre, ignoring case.
func (g *Game) HasGenre(name string) bool {
	for _, genre := range g.Genres {
		if strings.EqualFold(genre.Description, name) {
			return true
		}
	}
	return false
}

// Library is one account's enriched game list.
type Library struct {
	FetchedAt time.Time   `json:"fetched_at"`
	Profile   UserProfile `json:"userProfile"`
	Games     []Game      `json:"games"`
	// Partial is set when the fetch deadline cut store enrichment short.
	Partial bool `json:"partial,omitempty"`
}

// Game returns the game with appID, or nil.
func (l *Library) Game(appID int) *Game {
	for i := range l.Games {
		if l.Games[i].AppID == appID {
			return &l.Games[i]
		}
	}
	return nil
}
