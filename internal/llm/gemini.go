package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiClient implements Client with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a Gemini client. A missing API key is a ConfigError.
func NewGeminiClient(ctx context.Context, config *Config, opts ...option.ClientOption) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, &ConfigError{Provider: ProviderGemini, Message: "API key is required (set GEMINI_API_KEY)"}
	}

	opts = append([]option.ClientOption{option.WithAPIKey(config.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, config: config}, nil
}

// GenerateText sends the prompt as user content and the system text as the system instruction.
func (c *GeminiClient) GenerateText(ctx context.Context, req Request) (string, error) {
	modelName := c.config.GetModel(req.Tier)
	if modelName == "" {
		return "", &ConfigError{Provider: ProviderGemini, Message: fmt.Sprintf("no model configured for tier %s", req.Tier)}
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(c.config.Temperature)
	if c.config.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(c.config.MaxOutputTokens)
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", geminiError(err)
	}
	return extractTextFromResponse(resp)
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// geminiError attaches the API status to err so callers can tell a rejected request
// from a transient failure. Errors without a status are returned wrapped as is.
func geminiError(err error) error {
	code := 0
	var apiErr *apierror.APIError
	var httpErr *googleapi.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.HTTPCode() > 0:
		code = apiErr.HTTPCode()
	case errors.As(err, &httpErr):
		code = httpErr.Code
	default:
		if st, ok := status.FromError(err); ok {
			code = httpStatusFromCode(st.Code())
		}
	}
	if code == 0 {
		return fmt.Errorf("failed to generate content: %w", err)
	}
	return &StatusError{Provider: ProviderGemini, StatusCode: code, Err: err}
}

// httpStatusFromCode maps a gRPC code to its HTTP counterpart. Zero means no status.
func httpStatusFromCode(c codes.Code) int {
	switch c {
	case codes.OK, codes.Canceled:
		return 0
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content (finish reason %s)", ErrEmptyResponse, candidate.FinishReason)
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no text parts", ErrEmptyResponse)
	}
	return strings.Join(parts, ""), nil
}
