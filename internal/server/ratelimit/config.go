package ratelimit

import (
	"strings"
	"time"

	"github.com/jonathan/video-studio/internal/config"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
	Group  string        // Endpoints with the same group share one bucket per client
}

// FromSettings builds the limiter configuration from the service config.
func FromSettings(cfg config.RateLimitConfig) *Config {
	if !cfg.Enabled {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    cfg.DefaultPerMinute,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       ipSet(cfg.Whitelist),
		Blacklist:       ipSet(cfg.Blacklist),
		EndpointConfigs: DefaultEndpointConfigs(cfg.TriggersPerHour, cfg.UploadsPerMinute),
	}
}

// DefaultEndpointConfigs returns the endpoint-specific limits.
func DefaultEndpointConfigs(triggersPerHour, uploadsPerMinute int) []EndpointConfig {
	triggerBurst := min(5, triggersPerHour)
	uploadBurst := min(5, uploadsPerMinute)
	return []EndpointConfig{
		// Workflow triggers and retries start paid generation calls.
		{Path: "/api/videos/workflows/", Method: "POST", Limit: triggersPerHour, Window: time.Hour, Burst: triggerBurst, Group: "triggers"},
		{Path: "/api/workflows/runs/", Method: "POST", Limit: triggersPerHour, Window: time.Hour, Burst: triggerBurst, Group: "triggers"},

		// Uploads and video creation.
		{Path: "/api/studio/videos/", Method: "PUT", Limit: uploadsPerMinute, Window: time.Minute, Burst: uploadBurst},
		{Path: "/api/videos", Method: "POST", Limit: uploadsPerMinute, Window: time.Minute, Burst: uploadBurst},
	}
}

// ipSet turns a list of addresses into a lookup set.
func ipSet(ips []string) map[string]bool {
	result := make(map[string]bool, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}
