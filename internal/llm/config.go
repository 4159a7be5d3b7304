// Package llm provides the text generation clients used to write titles and descriptions.
package llm

import "time"

// ModelTier selects a model by cost/quality rather than by name.
type ModelTier string

const (
	// TierLite is used for short outputs such as titles.
	TierLite ModelTier = "lite"
	// TierStandard is used for longer outputs such as descriptions.
	TierStandard ModelTier = "standard"
)

// Provider names a text generation backend.
type Provider string

const (
	ProviderGemini       Provider = "gemini"
	ProviderPollinations Provider = "pollinations"
)

// Config holds generation settings shared by all providers.
type Config struct {
	Provider          Provider
	Models            map[ModelTier]string
	Temperature       float32
	MaxOutputTokens   int32
	APIKey            string
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerMinute float64
}

// DefaultConfig returns the Gemini configuration used for titles.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash",
			TierStandard: "gemini-2.5-flash",
		},
		Temperature:     0.7,
		MaxOutputTokens: 8192,
		BaseURL:         DefaultPollinationsURL,
		Timeout:         60 * time.Second,
	}
}

// GetModel returns the model for tier, falling back to standard, then lite.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithProvider returns a copy of the config targeting another provider.
func (c *Config) WithProvider(p Provider) *Config {
	cp := *c
	cp.Provider = p
	cp.Models = make(map[ModelTier]string, len(c.Models))
	for k, v := range c.Models {
		cp.Models[k] = v
	}
	return &cp
}
