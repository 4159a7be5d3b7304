package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, "gemini-2.5-flash", config.GetModel(TierLite))
	assert.Equal(t, "gemini-2.5-flash", config.GetModel(TierStandard))
	assert.Equal(t, float32(0.7), config.Temperature)
	assert.Equal(t, int32(8192), config.MaxOutputTokens)
}

func TestGetModel_Fallback(t *testing.T) {
	config := &Config{Models: map[ModelTier]string{TierLite: "fallback-model"}}
	assert.Equal(t, "fallback-model", config.GetModel("unknown"))

	config = &Config{Models: map[ModelTier]string{}}
	assert.Equal(t, "", config.GetModel(TierStandard))
}

func TestWithProvider_Copies(t *testing.T) {
	config := DefaultConfig()
	other := config.WithProvider(ProviderPollinations)
	other.Models[TierLite] = "changed"

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, ProviderPollinations, other.Provider)
	assert.Equal(t, "gemini-2.5-flash", config.GetModel(TierLite))
}
