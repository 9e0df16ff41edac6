package steam

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned by Web API calls when no key is configured.
	ErrNoAPIKey = errors.New("steam API key is not configured")
	// ErrProfileNotFound is returned when an identifier matches no public profile.
	ErrProfileNotFound = errors.New("steam profile not found")
	// ErrInvalidID is returned for identifiers that are neither a SteamID64 nor a vanity name.
	ErrInvalidID = errors.New("invalid steam identifier")
	// ErrRateLimited is returned when Steam keeps answering 429 after retries.
	ErrRateLimited = errors.New("steam rate limit exceeded")
)

// APIError is a non-200 answer from a Steam endpoint.
type APIError struct {
	Endpoint string
	Status   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("steam %s: unexpected status %d", e.Endpoint, e.Status)
}

// PlayerSummary is the public profile returned by GetPlayerSummaries.
type PlayerSummary struct {
	SteamID                  string `json:"steamid"`
	PersonaName              string `json:"personaname"`
	ProfileURL               string `json:"profileurl"`
	Avatar                   string `json:"avatar"`
	AvatarMedium             string `json:"avatarmedium"`
	AvatarFull               string `json:"avatarfull"`
	RealName                 string `json:"realname,omitempty"`
	CountryCode              string `json:"loccountrycode,omitempty"`
	PersonaState             int    `json:"personastate"`
	CommunityVisibilityState int    `json:"communityvisibilitystate"`
	TimeCreated              int64  `json:"timecreated,omitempty"`
	LastLogoff               int64  `json:"lastlogoff,omitempty"`
}

// IsPublic reports whether the profile's game details are visible.
func (p *PlayerSummary) IsPublic() bool {
	return p.CommunityVisibilityState == 3
}

// OwnedGame is one entry of GetOwnedGames.
type OwnedGame struct {
	AppID                    int    `json:"appid"`
	Name                     string `json:"name"`
	PlaytimeForever          int    `json:"playtime_forever"`
	Playtime2Weeks           int    `json:"playtime_2weeks,omitempty"`
	ImgIconURL               string `json:"img_icon_url,omitempty"`
	HasCommunityVisibleStats bool   `json:"has_community_visible_stats,omitempty"`
	RTimeLastPlayed          int64  `json:"rtime_last_played,omitempty"`
}

// RecentGame is one entry of GetRecentlyPlayedGames.
type RecentGame struct {
	AppID           int    `json:"appid"`
	Name            string `json:"name"`
	Playtime2Weeks  int    `json:"playtime_2weeks"`
	PlaytimeForever int    `json:"playtime_forever"`
}

// Genre is a store genre tag. ID is a numeric string on the store API.
type Genre struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ReleaseDate is the store's free-form release date.
type ReleaseDate struct {
	ComingSoon bool   `json:"coming_soon"`
	Date       string `json:"date"`
}

// Metacritic is the store's metacritic block.
type Metacritic struct {
	Score int    `json:"score"`
	URL   string `json:"url,omitempty"`
}

// AppDetails is the data block of store/api/appdetails.
type AppDetails struct {
	Type             string       `json:"type"`
	Name             string       `json:"name"`
	SteamAppID       int          `json:"steam_appid"`
	IsFree           bool         `json:"is_free"`
	ShortDescription string       `json:"short_description"`
	HeaderImage      string       `json:"header_image"`
	Website          string       `json:"website,omitempty"`
	Developers       []string     `json:"developers,omitempty"`
	Publishers       []string     `json:"publishers,omitempty"`
	Genres           []Genre      `json:"genres,omitempty"`
	ReleaseDate      *ReleaseDate `json:"release_date,omitempty"`
	Metacritic       *Metacritic  `json:"metacritic,omitempty"`
}

// ReviewSummary is the query_summary block of store/appreviews.
type ReviewSummary struct {
	ReviewScore     int    `json:"review_score"`
	ReviewScoreDesc string `json:"review_score_desc"`
	TotalPositive   int    `json:"total_positive"`
	TotalNegative   int    `json:"total_negative"`
	TotalReviews    int    `json:"total_reviews"`
}
