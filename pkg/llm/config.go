package llm

import (
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/synthesizer"
)

// Config holds the configuration for LLM service
type Config struct {
	Provider    string  `json:"provider" yaml:"provider"`
	APIKey      string  `json:"api_key" yaml:"api_key"`
	BaseURL     string  `json:"base_url" yaml:"base_url"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// DefaultConfig returns a default configuration using global config
func DefaultConfig() *Config {
	if config.GlobalConfig == nil {
		return &Config{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   512,
		}
	}

	llmConfig := config.GlobalConfig.Services.LLM
	return &Config{
		Provider:    llmConfig.Provider,
		APIKey:      llmConfig.APIKey,
		BaseURL:     llmConfig.BaseURL,
		Model:       llmConfig.Model,
		Temperature: llmConfig.Temperature,
		MaxTokens:   llmConfig.MaxTokens,
	}
}

// TTSCredential builds the synthesizer credential map from the TTS section.
func TTSCredential(ttsConfig config.TTSConfig) synthesizer.TTSCredentialConfig {
	switch ttsConfig.Provider {
	case "aws", "polly":
		return synthesizer.TTSCredentialConfig{
			"provider":   "aws",
			"accessKey":  ttsConfig.SecretID,
			"secretKey":  ttsConfig.SecretKey,
			"region":     ttsConfig.Region,
			"voiceId":    ttsConfig.Voice,
			"engine":     ttsConfig.Model,
			"sampleRate": ttsConfig.SampleRate,
		}
	case "google":
		return synthesizer.TTSCredentialConfig{
			"provider":        "google",
			"apiKey":          ttsConfig.APIKey,
			"credentialsFile": ttsConfig.SecretKey,
			"language":        ttsConfig.Language,
			"voiceType":       ttsConfig.Voice,
			"sampleRate":      ttsConfig.SampleRate,
		}
	default:
		return synthesizer.TTSCredentialConfig{
			"provider":  "openai",
			"apiKey":    ttsConfig.APIKey,
			"model":     ttsConfig.Model,
			"voiceType": ttsConfig.Voice,
		}
	}
}
