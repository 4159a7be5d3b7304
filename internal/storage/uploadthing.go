package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/jonathan/video-studio/internal/fetch"
)

// DefaultUploadThingURL is the UploadThing REST API host.
const DefaultUploadThingURL = "https://api.uploadthing.com"

// UploadThing uploads through UploadThing's presigned POST flow.
type UploadThing struct {
	apiKey  string
	baseURL string
	opts    *fetch.Options
}

// NewUploadThing accepts either a raw secret key or the base64 JSON token UploadThing issues.
func NewUploadThing(token, baseURL string) (*UploadThing, error) {
	apiKey := parseUploadThingToken(token)
	if apiKey == "" {
		return nil, fmt.Errorf("uploadthing: token is required")
	}
	if baseURL == "" {
		baseURL = DefaultUploadThingURL
	}
	opts := fetch.DefaultOptions()
	opts.Headers = map[string]string{"X-Uploadthing-Api-Key": apiKey}
	return &UploadThing{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
	}, nil
}

func parseUploadThingToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return token
	}
	var parsed struct {
		APIKey string `json:"apiKey"`
	}
	if json.Unmarshal(decoded, &parsed) != nil || parsed.APIKey == "" {
		return token
	}
	return parsed.APIKey
}

type utFile struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Type string `json:"type"`
}

type utPresigned struct {
	Key     string            `json:"key"`
	FileURL string            `json:"fileUrl"`
	URL     string            `json:"url"`
	Fields  map[string]string `json:"fields"`
}

// Upload requests a presigned POST, then sends the file to it.
func (u *UploadThing) Upload(ctx context.Context, file File) (*Asset, error) {
	if err := validate(file); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"files":              []utFile{{Name: file.Name, Size: len(file.Data), Type: file.ContentType}},
		"acl":                "public-read",
		"contentDisposition": "inline",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload request: %w", err)
	}

	result, err := fetch.Do(ctx, fetch.Request{
		Method:  http.MethodPost,
		URL:     u.baseURL + "/v6/uploadFiles",
		Body:    bytes.NewReader(body),
		Headers: map[string]string{"Content-Type": "application/json"},
	}, u.opts)
	if err != nil {
		return nil, fmt.Errorf("uploadthing: failed to request upload: %w", err)
	}

	var presigned struct {
		Data []utPresigned `json:"data"`
	}
	if err := json.Unmarshal(result.Body, &presigned); err != nil {
		return nil, fmt.Errorf("uploadthing: failed to decode upload response: %w", err)
	}
	if len(presigned.Data) == 0 || presigned.Data[0].URL == "" {
		return nil, fmt.Errorf("uploadthing: upload response has no presigned URL")
	}
	target := presigned.Data[0]

	if err := u.post(ctx, target, file); err != nil {
		return nil, err
	}

	fileURL := target.FileURL
	if fileURL == "" {
		fileURL = "https://utfs.io/f/" + target.Key
	}
	return &Asset{Key: target.Key, URL: fileURL}, nil
}

func (u *UploadThing) post(ctx context.Context, target utPresigned, file File) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for name, value := range target.Fields {
		if err := form.WriteField(name, value); err != nil {
			return fmt.Errorf("uploadthing: failed to build form: %w", err)
		}
	}
	part, err := form.CreateFormFile("file", file.Name)
	if err != nil {
		return fmt.Errorf("uploadthing: failed to build form: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("uploadthing: failed to build form: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("uploadthing: failed to build form: %w", err)
	}

	// The presigned URL carries its own auth; the API key header is not sent.
	_, err = fetch.Do(ctx, fetch.Request{
		Method:  http.MethodPost,
		URL:     target.URL,
		Body:    &buf,
		Headers: map[string]string{"Content-Type": form.FormDataContentType()},
	}, &fetch.Options{Timeout: u.opts.Timeout})
	if err != nil {
		return fmt.Errorf("uploadthing: failed to upload file: %w", err)
	}
	return nil
}

// Delete removes a file by key.
func (u *UploadThing) Delete(ctx context.Context, key string) error {
	body, err := json.Marshal(map[string][]string{"fileKeys": {key}})
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}

	_, err = fetch.Do(ctx, fetch.Request{
		Method:  http.MethodPost,
		URL:     u.baseURL + "/v6/deleteFiles",
		Body:    bytes.NewReader(body),
		Headers: map[string]string{"Content-Type": "application/json"},
	}, u.opts)
	if err != nil {
		return fmt.Errorf("uploadthing: failed to delete %s: %w", key, err)
	}
	return nil
}
