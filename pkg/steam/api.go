package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/codeGROOVE-dev/gameshelf/pkg/httpcache"
)

// getJSON fetches endpoint and decodes a 200 answer into v.
func (c *Client) getJSON(ctx context.Context, name, rawURL string, store bool, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if store {
		req.Header.Set("User-Agent", storeUserAgent)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("steam %s: %w", name, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
		if err != nil {
			c.logger.Debug("steam API error", "endpoint", name, "status", resp.StatusCode)
		} else {
			c.logger.Debug("steam API error", "endpoint", name, "status", resp.StatusCode, "body", string(body))
		}
		return &APIError{Endpoint: name, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("steam %s: decoding response: %w", name, err)
	}
	c.logger.Debug("steam API call",
		"endpoint", name,
		"url", httpcache.RedactURL(rawURL),
		"from_cache", resp.Header.Get("X-From-Cache") == "true")
	return nil
}

func (c *Client) webAPIURL(path string, params url.Values) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	params.Set("key", c.apiKey)
	params.Set("format", "json")
	return c.webAPIBase + path + "?" + params.Encode(), nil
}

// ResolveVanityURL maps a custom profile name to a SteamID64.
func (c *Client) ResolveVanityURL(ctx context.Context, vanity string) (string, error) {
	if !IsValidVanityName(vanity) {
		return "", ErrInvalidID
	}
	apiURL, err := c.webAPIURL("/ISteamUser/ResolveVanityURL/v0001/", url.Values{"vanityurl": {vanity}})
	if err != nil {
		return "", err
	}

	var result struct {
		Response struct {
			SteamID string `json:"steamid"`
			Message string `json:"message"`
			Success int    `json:"success"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, "ResolveVanityURL", apiURL, false, &result); err != nil {
		return "", err
	}
	if result.Response.Success != 1 || result.Response.SteamID == "" {
		c.logger.Debug("vanity name did not resolve", "vanity", vanity, "message", result.Response.Message)
		return "", ErrProfileNotFound
	}
	return result.Response.SteamID, nil
}

// FetchPlayerSummary fetches the public profile for a SteamID64.
func (c *Client) FetchPlayerSummary(ctx context.Context, steamID string) (*PlayerSummary, error) {
	if !IsSteamID64(steamID) {
		return nil, ErrInvalidID
	}
	apiURL, err := c.webAPIURL("/ISteamUser/GetPlayerSummaries/v0002/", url.Values{"steamids": {steamID}})
	if err != nil {
		return nil, err
	}

	var result struct {
		Response struct {
			Players []PlayerSummary `json:"players"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, "GetPlayerSummaries", apiURL, false, &result); err != nil {
		return nil, err
	}
	if len(result.Response.Players) == 0 {
		return nil, ErrProfileNotFound
	}
	return &result.Response.Players[0], nil
}

// FetchOwnedGames lists the games an account owns, including free games it
// has played. Private libraries come back empty rather than as an error.
func (c *Client) FetchOwnedGames(ctx context.Context, steamID string) ([]OwnedGame, error) {
	if !IsSteamID64(steamID) {
		return nil, ErrInvalidID
	}
	apiURL, err := c.webAPIURL("/IPlayerService/GetOwnedGames/v0001/", url.Values{
		"steamid":                   {steamID},
		"include_appinfo":           {"1"},
		"include_played_free_games": {"1"},
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Response struct {
			Games     []OwnedGame `json:"games"`
			GameCount int         `json:"game_count"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, "GetOwnedGames", apiURL, false, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("fetched owned games", "steam_id", steamID, "count", len(result.Response.Games))
	return result.Response.Games, nil
}

// FetchRecentlyPlayedGames lists games played in the last two weeks.
func (c *Client) FetchRecentlyPlayedGames(ctx context.Context, steamID string) ([]RecentGame, error) {
	if !IsSteamID64(steamID) {
		return nil, ErrInvalidID
	}
	apiURL, err := c.webAPIURL("/IPlayerService/GetRecentlyPlayedGames/v0001/", url.Values{"steamid": {steamID}})
	if err != nil {
		return nil, err
	}

	var result struct {
		Response struct {
			Games      []RecentGame `json:"games"`
			TotalCount int          `json:"total_count"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, "GetRecentlyPlayedGames", apiURL, false, &result); err != nil {
		return nil, err
	}
	return result.Response.Games, nil
}

// FetchAppDetails fetches store metadata for one app. Apps the store does not
// know (delisted, tools, region-locked) return nil without error.
func (c *Client) FetchAppDetails(ctx context.Context, appID int) (*AppDetails, error) {
	params := url.Values{"appids": {strconv.Itoa(appID)}}
	if c.country != "" {
		params.Set("cc", c.country)
	}
	if c.language != "" {
		params.Set("l", c.language)
	}
	apiURL := c.storeBase + "/api/appdetails?" + params.Encode()

	var result map[string]struct {
		Data    *AppDetails `json:"data"`
		Success bool        `json:"success"`
	}
	if err := c.getJSON(ctx, "appdetails", apiURL, true, &result); err != nil {
		return nil, err
	}
	entry, ok := result[strconv.Itoa(appID)]
	if !ok || !entry.Success {
		return nil, nil //nolint:nilnil // unknown app is not an error
	}
	return entry.Data, nil
}

// FetchReviewSummary fetches the aggregate review score for one app.
func (c *Client) FetchReviewSummary(ctx context.Context, appID int) (*ReviewSummary, error) {
	params := url.Values{
		"json":          {"1"},
		"language":      {"all"},
		"purchase_type": {"all"},
		"num_per_page":  {"0"},
	}
	apiURL := fmt.Sprintf("%s/appreviews/%d?%s", c.storeBase, appID, params.Encode())

	var result struct {
		QuerySummary ReviewSummary `json:"query_summary"`
		Success      int           `json:"success"`
	}
	if err := c.getJSON(ctx, "appreviews", apiURL, true, &result); err != nil {
		return nil, err
	}
	if result.Success != 1 {
		return &ReviewSummary{}, nil
	}
	return &result.QuerySummary, nil
}
