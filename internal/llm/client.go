package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from text generator")

// ConfigError reports a provider that cannot be used with the given settings.
type ConfigError struct {
	Provider Provider
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("llm %s: %s", e.Provider, e.Message)
}

// StatusError is a provider API failure with its HTTP status, or the closest HTTP
// equivalent for gRPC failures.
type StatusError struct {
	Provider   Provider
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call could succeed: 408, 429 and 5xx.
// Other 4xx statuses (bad request, invalid key, permission denied) are final.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// Request is one text generation call.
type Request struct {
	System string
	Prompt string
	Tier   ModelTier
	// Seed makes providers that support it deterministic. Zero lets the client pick one.
	Seed int64
}

// Client generates text.
type Client interface {
	GenerateText(ctx context.Context, req Request) (string, error)
	Close() error
}

// NewClient creates the client for config.Provider, throttled when RequestsPerMinute is set.
func NewClient(ctx context.Context, config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var (
		client Client
		err    error
	)
	switch config.Provider {
	case ProviderGemini:
		client, err = NewGeminiClient(ctx, config)
	case ProviderPollinations:
		client = NewPollinationsClient(config)
	default:
		return nil, &ConfigError{Provider: config.Provider, Message: "unknown provider"}
	}
	if err != nil {
		return nil, err
	}

	if config.RequestsPerMinute > 0 {
		client = NewRateLimited(client, config.RequestsPerMinute)
	}
	return client, nil
}

type rateLimitedClient struct {
	Client
	limiter *rate.Limiter
}

// NewRateLimited wraps client so calls wait for a token; burst is one request.
func NewRateLimited(client Client, perMinute float64) Client {
	return &rateLimitedClient{
		Client:  client,
		limiter: rate.NewLimiter(rate.Limit(perMinute/60), 1),
	}
}

func (c *rateLimitedClient) GenerateText(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return c.Client.GenerateText(ctx, req)
}
