// Package recommend suggests games similar to one in a player's library using Gemini.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/genai"

	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash-lite"

	maxSuggestions  = 4
	defaultLocation = "us-central1"
)

var (
	// ErrDisabled is returned when neither an API key nor a GCP project is configured.
	ErrDisabled = errors.New("recommendations are not configured")
	// ErrUnknownGame is returned when the requested app is not in the library.
	ErrUnknownGame = errors.New("game is not in this library")
)

// Suggestion is one recommended game.
type Suggestion struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	AppID  int    `json:"appid,omitempty"`
	Owned  bool   `json:"owned"`
}

// Result is the set of suggestions for one game.
type Result struct {
	Game        string       `json:"game"`
	Model       string       `json:"model"`
	Suggestions []Suggestion `json:"suggestions"`
	AppID       int          `json:"appid"`
	Cached      bool         `json:"cached"`
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = strings.TrimPrefix(model, "models/")
		}
	}
}

// WithGCPProject uses Vertex AI with application default credentials when no API key is set.
func WithGCPProject(project string) Option {
	return func(c *Client) {
		c.gcpProject = project
	}
}

// WithCache stores model answers so repeated requests cost nothing.
func WithCache(cache CacheInterface) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithGenerator replaces the genai SDK call.
func WithGenerator(fn GenerateFunc) Option {
	return func(c *Client) {
		c.generate = fn
	}
}

// WithRetryDelay sets the base backoff between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// Client asks Gemini for similar games.
type Client struct {
	logger     *slog.Logger
	cache      CacheInterface
	generate   GenerateFunc
	sdk        GenerateFunc
	apiKey     string
	model      string
	gcpProject string
	retryDelay time.Duration
	mu         sync.Mutex
}

// NewClient creates a client. It is disabled unless apiKey or a GCP project is set.
func NewClient(logger *slog.Logger, apiKey string, opts ...Option) *Client {
	c := &Client{
		logger:     logger,
		apiKey:     strings.TrimSpace(apiKey),
		model:      DefaultModel,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether Recommend can reach a model.
func (c *Client) Enabled() bool {
	return c.apiKey != "" || c.gcpProject != "" || c.generate != nil
}

// Recommend suggests up to four games similar to appID from lib.
func (c *Client) Recommend(ctx context.Context, lib *library.Library, appID int) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	game := lib.Game(appID)
	if game == nil {
		return nil, ErrUnknownGame
	}

	prompt := BuildPrompt(game, lib)
	result := &Result{AppID: appID, Game: game.Name, Model: c.model}

	if cached, ok := c.checkCache(prompt); ok {
		result.Suggestions = annotate(cached, lib)
		result.Cached = true
		return result, nil
	}

	text, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}
	suggestions, err := parseSuggestions(text, game.Name)
	if err != nil {
		c.logger.Warn("failed to parse Gemini response", "error", err, "response_text", text)
		return nil, err
	}

	c.storeCache(prompt, suggestions)
	c.logger.Debug("recommendations generated", "appid", appID, "count", len(suggestions))

	result.Suggestions = annotate(suggestions, lib)
	return result, nil
}

func (c *Client) cacheKey(prompt string) string {
	return fmt.Sprintf("genai:%s:%s", c.model, prompt)
}

func (c *Client) checkCache(prompt string) ([]Suggestion, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, found := c.cache.APICall(c.cacheKey(prompt), []byte(prompt))
	if !found {
		return nil, false
	}
	var suggestions []Suggestion
	if err := json.Unmarshal(data, &suggestions); err != nil || len(suggestions) == 0 {
		c.logger.Debug("ignoring unusable cached Gemini response", "error", err)
		return nil, false
	}
	c.logger.Debug("Gemini cache hit", "count", len(suggestions))
	return suggestions, true
}

func (c *Client) storeCache(prompt string, suggestions []Suggestion) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return
	}
	if err := c.cache.SetAPICall(c.cacheKey(prompt), []byte(prompt), data); err != nil {
		c.logger.Debug("failed to cache Gemini response", "error", err)
	}
}

// generator returns the model call, creating the SDK client on first use.
func (c *Client) generator(ctx context.Context) (GenerateFunc, error) {
	if c.generate != nil {
		return c.generate, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sdk != nil {
		return c.sdk, nil
	}

	var config *genai.ClientConfig
	if c.apiKey != "" {
		config = &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  c.apiKey,
		}
		c.logger.Info("using Gemini API with API key")
	} else {
		config = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  c.gcpProject,
			Location: defaultLocation,
		}
		c.logger.Info("using Vertex AI with application default credentials", "project", c.gcpProject, "location", defaultLocation)
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.sdk = client.Models.GenerateContent
	return c.sdk, nil
}

func (c *Client) requestConfig() *genai.GenerateContentConfig {
	temperature := float32(0.4)
	return &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  1024,
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"suggestions": {
				Type:        genai.TypeArray,
				Description: fmt.Sprintf("Up to %d similar games, best match first", maxSuggestions),
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name": {
							Type:        genai.TypeString,
							Description: "Exact Steam store title of the suggested game",
						},
						"reason": {
							Type:        genai.TypeString,
							Description: "One sentence on why it resembles the original game",
						},
					},
					PropertyOrdering: []string{"name", "reason"},
					Required:         []string{"name", "reason"},
				},
			},
		},
		Required: []string{"suggestions"},
	}
}

func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, error) {
	generate, err := c.generator(ctx)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	config := c.requestConfig()

	var text string
	err = retry.Do(
		func() error {
			resp, err := generate(ctx, c.model, contents, config)
			if err != nil {
				return err
			}
			text, err = responseText(resp)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(4),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.retryDelay/2+time.Millisecond),
		retry.RetryIf(isTransientError),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying Gemini call", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("empty response from Gemini API")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("no content in Gemini response")
	}
	text := candidate.Content.Parts[0].Text
	if text == "" {
		return "", errors.New("empty text in Gemini response")
	}
	return text, nil
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"rate limit", "quota", "resource_exhausted", "timeout", "deadline", "unavailable",
		"internal server error", "429", "500", "502", "503", "504",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// parseSuggestions decodes the model output, tolerating prose or code fences
// around the JSON. Suggestions naming the source game are dropped.
func parseSuggestions(text, sourceName string) ([]Suggestion, error) {
	var payload struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		jsonText, extractErr := extractJSON(text)
		if extractErr != nil {
			return nil, fmt.Errorf("failed to parse Gemini JSON response: %w", err)
		}
		if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
			return nil, fmt.Errorf("failed to parse Gemini JSON response: %w", err)
		}
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(sourceName)): true}
	out := make([]Suggestion, 0, maxSuggestions)
	for _, s := range payload.Suggestions {
		s.Name = clean(s.Name)
		s.Reason = clean(s.Reason)
		key := strings.ToLower(s.Name)
		if s.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Suggestion{Name: s.Name, Reason: s.Reason})
		if len(out) == maxSuggestions {
			break
		}
	}
	if len(out) == 0 {
		return nil, errors.New("gemini response contained no suggestions")
	}
	return out, nil
}

// extractJSON pulls a JSON object out of a response that may contain explanatory text.
func extractJSON(text string) (string, error) {
	for _, fence := range []string{"```json", "```"} {
		if start := strings.Index(text, fence); start != -1 {
			start += len(fence)
			if end := strings.Index(text[start:], "```"); end != -1 {
				if candidate := strings.TrimSpace(text[start : start+end]); json.Valid([]byte(candidate)) {
					return candidate, nil
				}
			}
		}
	}
	if start := strings.Index(text, "{"); start != -1 {
		if end := strings.LastIndex(text, "}"); end > start {
			if candidate := text[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}
	return "", errors.New("no valid JSON found in response")
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// annotate marks suggestions the player already owns.
func annotate(suggestions []Suggestion, lib *library.Library) []Suggestion {
	owned := make(map[string]int, len(lib.Games))
	for i := range lib.Games {
		owned[strings.ToLower(lib.Games[i].Name)] = lib.Games[i].AppID
	}
	out := make([]Suggestion, len(suggestions))
	for i, s := range suggestions {
		if id, ok := owned[strings.ToLower(s.Name)]; ok {
			s.AppID = id
			s.Owned = true
		}
		out[i] = s
	}
	return out
}
