package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Veraticus/redactor/internal/common"
)

// Client sends one system and user prompt pair and returns the raw completion.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config selects and tunes a provider.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// maxErrorBody caps how much of an error response is kept in error messages.
const maxErrorBody = 256

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// statusError maps a non-200 response onto the retry taxonomy: 429 is a rate
// limit, 5xx is retryable, anything else is permanent.
func statusError(provider string, status int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := fmt.Errorf("%s API error (status %d): %s", provider, status, string(body))

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return err
	}
}
