package steam

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/gameshelf/pkg/httpcache"
)

// RetryPolicy bounds how hard RetryingClient tries.
type RetryPolicy struct {
	Attempts  uint
	Delay     time.Duration
	MaxDelay  time.Duration
	MaxJitter time.Duration
}

// DefaultRetryPolicy suits interactive requests: a few quick attempts.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:  4,
	Delay:     250 * time.Millisecond,
	MaxDelay:  3 * time.Second,
	MaxJitter: 100 * time.Millisecond,
}

// RetryingClient retries network errors, 429 and 5xx answers with
// exponential backoff and jitter. It satisfies httpcache.HTTPClient.
type RetryingClient struct {
	client *http.Client
	logger *slog.Logger
	policy RetryPolicy
}

// NewRetryingClient wraps client. A nil client gets a 30 second timeout default.
func NewRetryingClient(client *http.Client, policy RetryPolicy, logger *slog.Logger) *RetryingClient {
	if client == nil {
		client = defaultHTTPClient()
	}
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy
	}
	return &RetryingClient{client: client, policy: policy, logger: logger}
}

// Do performs req. The returned body must be closed by the caller.
func (r *RetryingClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var lastErr error

	err := retry.Do(
		func() error {
			var err error
			resp, err = r.client.Do(req) //nolint:bodyclose // closed on retry, returned open on success
			if err != nil {
				lastErr = err
				return err
			}

			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < http.StatusInternalServerError {
				return nil
			}

			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if closeErr := resp.Body.Close(); closeErr != nil {
				r.logger.Debug("failed to close error response body", "error", closeErr)
			}
			if readErr != nil {
				r.logger.Debug("failed to read error response body", "error", readErr)
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				lastErr = fmt.Errorf("%w: HTTP 429", ErrRateLimited)
			} else {
				r.logger.Debug("steam server error", "status", resp.StatusCode, "body", string(body))
				lastErr = &APIError{Endpoint: req.URL.Path, Status: resp.StatusCode}
			}
			return lastErr
		},
		retry.Context(req.Context()),
		retry.Attempts(r.policy.Attempts),
		retry.Delay(r.policy.Delay),
		retry.MaxDelay(r.policy.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(r.policy.MaxJitter),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Debug("retrying steam request",
				"attempt", n+1,
				"url", httpcache.RedactURL(req.URL.String()),
				"error", err)
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
			return nil, fmt.Errorf("request abandoned: %w", ctxErr)
		}
		return nil, fmt.Errorf("request failed after retries: %w", lastErr)
	}
	return resp, nil
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
