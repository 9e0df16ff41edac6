package recommend

import (
	"context"

	"google.golang.org/genai"
)

// CacheInterface defines the cache operations needed by the recommendation client.
type CacheInterface interface {
	APICall(key string, requestPayload []byte) ([]byte, bool)
	SetAPICall(key string, requestPayload []byte, responseData []byte) error
}

// GenerateFunc performs one model call. It matches genai's Models.GenerateContent.
type GenerateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
