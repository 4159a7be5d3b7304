// Package fetch provides the shared HTTP client used by the outbound adapters
// (transcripts, text and image generation, hosted uploads).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "VideoStudio/1.0"

// DefaultMaxBytes caps how much of a response body is read.
const DefaultMaxBytes int64 = 32 << 20

// Result holds the response of a fetch.
type Result struct {
	URL         string
	Body        []byte
	ContentType string
	StatusCode  int
}

// Text returns the body as a string.
func (r *Result) Text() string {
	return string(r.Body)
}

// Error represents an error during a fetch. StatusCode is zero when no response arrived.
type Error struct {
	URL        string
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether repeating the request could succeed: transport failures,
// 408, 429 and 5xx responses. Invalid URLs and other 4xx responses are final.
func (e *Error) Retryable() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Cause, errInvalidURL)
	}
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// IsRetryable reports whether err is a fetch Error worth retrying. Errors that are
// not fetch Errors are treated as retryable.
func IsRetryable(err error) bool {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable()
	}
	return true
}

var errInvalidURL = errors.New("invalid URL")

// Options configures the fetch behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	MaxBytes  int64
	Client    *http.Client
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
		MaxBytes:  DefaultMaxBytes,
	}
}

func (o *Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: o.Timeout}
}

// Request describes a non-GET call.
type Request struct {
	Method  string
	URL     string
	Body    io.Reader
	Headers map[string]string
}

// URL performs a GET request.
func URL(ctx context.Context, urlStr string, opts *Options) (*Result, error) {
	return Do(ctx, Request{Method: http.MethodGet, URL: urlStr}, opts)
}

// Do executes req. Any status other than 2xx is returned as an *Error alongside the Result.
func Do(ctx context.Context, req Request, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	parsedURL, err := url.Parse(req.URL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		cause := errInvalidURL
		if err != nil {
			cause = fmt.Errorf("%w: %v", errInvalidURL, err)
		}
		return nil, &Error{URL: req.URL, Message: "invalid URL", Cause: cause}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, &Error{URL: req.URL, Message: "failed to create request", Cause: err}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	httpReq.Header.Set("User-Agent", userAgent)
	for key, value := range opts.Headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := opts.client().Do(httpReq)
	if err != nil {
		return nil, &Error{URL: req.URL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, &Error{URL: req.URL, Message: "failed to read response body", StatusCode: resp.StatusCode, Cause: err}
	}
	if int64(len(body)) > maxBytes {
		return nil, &Error{URL: req.URL, Message: fmt.Sprintf("response exceeds %d bytes", maxBytes), StatusCode: resp.StatusCode}
	}

	result := &Result{
		URL:         req.URL,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, &Error{
			URL:        req.URL,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
	return result, nil
}
