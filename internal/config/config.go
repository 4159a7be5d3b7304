// Package config provides configuration loading and validation for the studio service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// EnvRuntime selects the environment-specific override file (e.g. config.local.toml).
const EnvRuntime = "STUDIO_ENV"

// Config is the service configuration. Values come from Default, then the TOML file,
// then the environment-specific TOML file, then environment variables.
type Config struct {
	Server      ServerConfig     `toml:"server"`
	Database    DatabaseConfig   `toml:"database"`
	Workers     WorkerConfig     `toml:"workers"`
	Queue       QueueConfig      `toml:"queue"`
	LLM         LLMConfig        `toml:"llm"`
	Images      ImageConfig      `toml:"images"`
	Transcripts TranscriptConfig `toml:"transcripts"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Retry       RetryConfig      `toml:"retry"`
	RateLimit   RateLimitConfig  `toml:"rate_limit"`
}

type ServerConfig struct {
	Port                   int      `toml:"port" validate:"min=1,max=65535"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds" validate:"min=1"`
	MaxUploadBytes         int64    `toml:"max_upload_bytes" validate:"min=1"`
}

type DatabaseConfig struct {
	URL      string `toml:"url"`
	MaxConns int32  `toml:"max_conns" validate:"min=0"`
}

type WorkerConfig struct {
	Count int `toml:"count" validate:"min=1,max=64"`
}

type QueueConfig struct {
	Driver   string `toml:"driver" validate:"oneof=memory amqp"`
	URL      string `toml:"url"`
	Name     string `toml:"name" validate:"required"`
	Capacity int    `toml:"capacity" validate:"min=1"`
}

// LLMConfig configures the text generator.
type LLMConfig struct {
	TitleProvider       string  `toml:"title_provider" validate:"oneof=gemini pollinations"`
	DescriptionProvider string  `toml:"description_provider" validate:"oneof=gemini pollinations"`
	APIKey              string  `toml:"api_key"`
	LiteModel           string  `toml:"lite_model"`
	StandardModel       string  `toml:"standard_model"`
	Temperature         float32 `toml:"temperature" validate:"min=0,max=2"`
	MaxOutputTokens     int32   `toml:"max_output_tokens" validate:"min=1"`
	RequestsPerMinute   float64 `toml:"requests_per_minute" validate:"min=0"`
	BaseURL             string  `toml:"base_url" validate:"omitempty,url"`
	Token               string  `toml:"token"`
	TimeoutSeconds      int     `toml:"timeout_seconds" validate:"min=1"`
}

// ImageConfig configures the thumbnail image generator.
type ImageConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	Model          string `toml:"model" validate:"required"`
	Width          int    `toml:"width" validate:"min=64"`
	Height         int    `toml:"height" validate:"min=64"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`
	MaxBytes       int64  `toml:"max_bytes" validate:"min=1"`
}

type TranscriptConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`
}

// StorageConfig selects and configures the asset uploader.
type StorageConfig struct {
	Provider      string `toml:"provider" validate:"oneof=uploadthing gcs s3 fs"`
	Token         string `toml:"token"`
	BaseURL       string `toml:"base_url" validate:"omitempty,url"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Prefix        string `toml:"prefix"`
	PublicBaseURL string `toml:"public_base_url" validate:"omitempty,url"`
	Dir           string `toml:"dir"`
}

type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json text"`
}

type RetryConfig struct {
	MaxAttempts          int `toml:"max_attempts" validate:"min=1,max=10"`
	InitialBackoffMillis int `toml:"initial_backoff_millis" validate:"min=0"`
	MaxBackoffMillis     int `toml:"max_backoff_millis" validate:"min=0"`
}

type RateLimitConfig struct {
	Enabled          bool     `toml:"enabled"`
	TriggersPerHour  int      `toml:"triggers_per_hour" validate:"min=1"`
	UploadsPerMinute int      `toml:"uploads_per_minute" validate:"min=1"`
	DefaultPerMinute int      `toml:"default_per_minute" validate:"min=1"`
	Whitelist        []string `toml:"whitelist"`
	Blacklist        []string `toml:"blacklist"`
}

// Error reports a configuration problem tied to one setting.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config error: %s %s", e.Field, e.Message)
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:                   8080,
			ShutdownTimeoutSeconds: 30,
			MaxUploadBytes:         4 << 20,
		},
		Database: DatabaseConfig{MaxConns: 10},
		Workers:  WorkerConfig{Count: 4},
		Queue:    QueueConfig{Driver: "memory", Name: "studio.workflow_runs", Capacity: 256},
		LLM: LLMConfig{
			TitleProvider:       "gemini",
			DescriptionProvider: "pollinations",
			LiteModel:           "gemini-2.5-flash",
			StandardModel:       "gemini-2.5-flash",
			Temperature:         0.7,
			MaxOutputTokens:     8192,
			RequestsPerMinute:   60,
			BaseURL:             "https://text.pollinations.ai",
			TimeoutSeconds:      60,
		},
		Images: ImageConfig{
			BaseURL:        "https://image.pollinations.ai",
			Model:          "flux",
			Width:          1280,
			Height:         720,
			TimeoutSeconds: 120,
			MaxBytes:       16 << 20,
		},
		Transcripts: TranscriptConfig{BaseURL: "https://stream.mux.com", TimeoutSeconds: 30},
		Storage: StorageConfig{
			Provider: "uploadthing",
			BaseURL:  "https://api.uploadthing.com",
			Prefix:   "thumbnails",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Retry:   RetryConfig{MaxAttempts: 3, InitialBackoffMillis: 1000, MaxBackoffMillis: 30000},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			TriggersPerHour:  60,
			UploadsPerMinute: 30,
			DefaultPerMinute: 300,
		},
	}
}

// Load builds the configuration. An empty path skips the file layers.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if env := os.Getenv(EnvRuntime); env != "" {
			override := overridePath(path, env)
			if fileExists(override) {
				if _, err := toml.DecodeFile(override, &cfg); err != nil {
					return nil, fmt.Errorf("failed to parse config file %s: %w", override, err)
				}
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overridePath maps config.toml to config.<env>.toml.
func overridePath(path, env string) string {
	base := strings.TrimSuffix(path, ".toml")
	return base + "." + env + ".toml"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func (c *Config) applyEnv() error {
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Queue.Driver, "QUEUE_DRIVER")
	setString(&c.Queue.URL, "AMQP_URL")
	setString(&c.LLM.TitleProvider, "TITLE_PROVIDER")
	setString(&c.LLM.DescriptionProvider, "DESCRIPTION_PROVIDER")
	setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	setString(&c.LLM.Token, "POLLINATIONS_TOKEN")
	setString(&c.Storage.Provider, "STORAGE_PROVIDER")
	setString(&c.Storage.Token, "UPLOADTHING_TOKEN")
	setString(&c.Storage.Bucket, "STORAGE_BUCKET")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if err := setInt(&c.Server.Port, "PORT"); err != nil {
		return err
	}
	return setInt(&c.Workers.Count, "WORKERS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &Error{Field: key, Message: fmt.Sprintf("must be an integer, got %q", v)}
	}
	*dst = n
	return nil
}

// Validate checks field ranges and the settings each selected provider needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.Queue.Driver == "amqp" && c.Queue.URL == "" {
		return &Error{Field: "queue.url", Message: "is required for the amqp driver"}
	}

	switch c.Storage.Provider {
	case "uploadthing":
		if c.Storage.Token == "" {
			return &Error{Field: "storage.token", Message: "is required for uploadthing (set UPLOADTHING_TOKEN)"}
		}
	case "gcs", "s3":
		if c.Storage.Bucket == "" {
			return &Error{Field: "storage.bucket", Message: "is required for " + c.Storage.Provider}
		}
	case "fs":
		if c.Storage.Dir == "" {
			return &Error{Field: "storage.dir", Message: "is required for fs"}
		}
	}

	if c.Retry.MaxBackoffMillis < c.Retry.InitialBackoffMillis {
		return &Error{Field: "retry.max_backoff_millis", Message: "must not be below initial_backoff_millis"}
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return &Error{Field: "database.url", Message: "is required (set DATABASE_URL)"}
	}
	return nil
}

// ShutdownTimeout returns the graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Seconds converts a timeout setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts a backoff setting to a duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
