package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FSUploader writes assets under a local directory. Intended for development; the server
// mounts Handler under the public base URL's path.
type FSUploader struct {
	dir       string
	prefix    string
	publicURL string
}

// NewFSUploader creates dir if needed. publicBaseURL defaults to /assets.
func NewFSUploader(dir, prefix, publicBaseURL string) (*FSUploader, error) {
	if dir == "" {
		return nil, fmt.Errorf("fs storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs storage: failed to create %s: %w", dir, err)
	}
	if publicBaseURL == "" {
		publicBaseURL = "/assets"
	}
	return &FSUploader{dir: dir, prefix: prefix, publicURL: publicBaseURL}, nil
}

func (f *FSUploader) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("fs storage: invalid key %q", key)
	}
	return filepath.Join(f.dir, clean), nil
}

func (f *FSUploader) Upload(_ context.Context, file File) (*Asset, error) {
	if err := validate(file); err != nil {
		return nil, err
	}

	key := ObjectKey(f.prefix, file.Name)
	dst, err := f.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("fs storage: failed to create directory: %w", err)
	}
	if err := os.WriteFile(dst, file.Data, 0o644); err != nil {
		return nil, fmt.Errorf("fs storage: failed to write %s: %w", key, err)
	}
	return &Asset{Key: key, URL: joinURL(f.publicURL, key)}, nil
}

func (f *FSUploader) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fs storage: failed to delete %s: %w", key, err)
	}
	return nil
}

// Handler serves stored files.
func (f *FSUploader) Handler() http.Handler {
	return http.FileServer(http.Dir(f.dir))
}

// MountPath is the URL path the handler should be mounted under.
func (f *FSUploader) MountPath() string {
	p := f.publicURL
	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
		if j := strings.Index(p, "/"); j >= 0 {
			p = p[j:]
		} else {
			p = "/"
		}
	}
	return strings.TrimRight(p, "/") + "/"
}
