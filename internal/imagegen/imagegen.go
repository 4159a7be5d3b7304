// Package imagegen builds thumbnail image URLs and downloads the generated images.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/jonathan/video-studio/internal/fetch"
)

const (
	// DefaultBaseURL is the keyless image generation host.
	DefaultBaseURL = "https://image.pollinations.ai"
	// MaxSeed bounds random seeds to [0, MaxSeed).
	MaxSeed = 1_000_000
)

var (
	// ErrNoData means the image endpoint answered without a body.
	ErrNoData = errors.New("image response has no data")
	// ErrNotImage means the body is not a recognizable image format.
	ErrNotImage = errors.New("response is not an image")
)

// Config configures Generator.
type Config struct {
	BaseURL  string
	Model    string
	Width    int
	Height   int
	Timeout  time.Duration
	MaxBytes int64
}

// Image is a downloaded image with its sniffed type.
type Image struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Generator builds image URLs and fetches them.
type Generator struct {
	cfg  Config
	opts *fetch.Options
}

// NewGenerator creates a Generator, filling unset fields with 1280x720 flux defaults.
func NewGenerator(cfg Config) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "flux"
	}
	if cfg.Width == 0 {
		cfg.Width = 1280
	}
	if cfg.Height == 0 {
		cfg.Height = 720
	}

	opts := fetch.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.MaxBytes > 0 {
		opts.MaxBytes = cfg.MaxBytes
	}
	return &Generator{cfg: cfg, opts: opts}
}

// BuildURL returns the URL that renders prompt. Fetching it produces the image; building it
// has no side effects.
func (g *Generator) BuildURL(prompt string, seed int) string {
	query := url.Values{}
	query.Set("width", strconv.Itoa(g.cfg.Width))
	query.Set("height", strconv.Itoa(g.cfg.Height))
	query.Set("seed", strconv.Itoa(seed))
	query.Set("model", g.cfg.Model)
	query.Set("nologo", "true")
	return fmt.Sprintf("%s/prompt/%s?%s", g.cfg.BaseURL, url.PathEscape(prompt), query.Encode())
}

// Fetch downloads the image at rawURL and sniffs its format from the bytes.
func (g *Generator) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	result, err := fetch.URL(ctx, rawURL, g.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	return Sniff(result.Body)
}

// Sniff wraps data as an Image after checking it is a known image format.
func Sniff(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrNoData
	}
	kind, err := filetype.Image(data)
	if err != nil || kind == filetype.Unknown {
		return nil, ErrNotImage
	}
	return &Image{
		Data:        data,
		ContentType: kind.MIME.Value,
		Extension:   kind.Extension,
	}, nil
}
