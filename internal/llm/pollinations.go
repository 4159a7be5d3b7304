package llm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/video-studio/internal/fetch"
)

// DefaultPollinationsURL is the keyless text generation endpoint.
const DefaultPollinationsURL = "https://text.pollinations.ai"

// PollinationsClient implements Client with the Pollinations text API. The whole prompt
// travels in the URL path.
type PollinationsClient struct {
	baseURL string
	opts    *fetch.Options
	now     func() time.Time
}

// NewPollinationsClient creates a client. A token, when configured, is sent as a bearer header.
func NewPollinationsClient(config *Config) *PollinationsClient {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultPollinationsURL
	}
	opts := fetch.DefaultOptions()
	if config.Timeout > 0 {
		opts.Timeout = config.Timeout
	}
	if config.Token != "" {
		opts.Headers = map[string]string{"Authorization": "Bearer " + config.Token}
	}
	return &PollinationsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		now:     time.Now,
	}
}

// RequestURL builds the GET URL for req.
func (c *PollinationsClient) RequestURL(req Request) string {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}
	seed := req.Seed
	if seed == 0 {
		seed = c.now().UnixMilli()
	}

	query := url.Values{}
	query.Set("model", "openai")
	query.Set("seed", strconv.FormatInt(seed, 10))
	return fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(prompt), query.Encode())
}

func (c *PollinationsClient) GenerateText(ctx context.Context, req Request) (string, error) {
	result, err := fetch.URL(ctx, c.RequestURL(req), c.opts)
	if err != nil {
		return "", fmt.Errorf("pollinations request failed: %w", err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *PollinationsClient) Close() error {
	return nil
}
