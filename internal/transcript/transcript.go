// Package transcript reads plain-text caption tracks from the video host.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/video-studio/internal/fetch"
)

// DefaultBaseURL is the Mux stream host serving text tracks.
const DefaultBaseURL = "https://stream.mux.com"

var (
	// ErrMissingTrack means the video has no playback or track reference.
	ErrMissingTrack = errors.New("video has no transcript track")
	// ErrEmpty means the track exists but holds no text.
	ErrEmpty = errors.New("transcript is empty")
)

// Fetcher reads transcripts over HTTP.
type Fetcher struct {
	baseURL string
	opts    *fetch.Options
}

// NewFetcher creates a Fetcher for baseURL. An empty baseURL means DefaultBaseURL.
func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts := fetch.DefaultOptions()
	if timeout > 0 {
		opts.Timeout = timeout
	}
	opts.MaxBytes = 4 << 20
	return &Fetcher{baseURL: strings.TrimRight(baseURL, "/"), opts: opts}
}

// TrackURL builds {base}/{playbackID}/text/{trackID}.txt.
func (f *Fetcher) TrackURL(playbackID, trackID string) string {
	return fmt.Sprintf("%s/%s/text/%s.txt", f.baseURL, url.PathEscape(playbackID), url.PathEscape(trackID))
}

// Fetch returns the transcript text. Whitespace-only bodies are ErrEmpty.
func (f *Fetcher) Fetch(ctx context.Context, playbackID, trackID string) (string, error) {
	if playbackID == "" || trackID == "" {
		return "", ErrMissingTrack
	}

	result, err := fetch.URL(ctx, f.TrackURL(playbackID, trackID), f.opts)
	if err != nil {
		return "", fmt.Errorf("failed to fetch transcript: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// Truncate returns at most limit runes of text. A non-positive limit returns text unchanged.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}
