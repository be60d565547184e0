package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/utils"
)

// Config main configuration structure
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Database DatabaseConfig   `mapstructure:"database"`
	Log      logger.LogConfig `mapstructure:"log"`
	Services ServicesConfig   `mapstructure:"services"`
	SIP      SIPConfig        `mapstructure:"sip"`
	Engine   EngineConfig     `mapstructure:"engine"`
	Audio    AudioConfig      `mapstructure:"audio"`
	Campaign CampaignConfig   `mapstructure:"campaign"`
	Hooks    HooksConfig      `mapstructure:"hooks"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Name      string `env:"SERVER_NAME"`
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER"`
	DSN    string `env:"DSN"`
}

// ServicesConfig services configuration
type ServicesConfig struct {
	LLM LLMConfig `mapstructure:"llm"`
	ASR ASRConfig `mapstructure:"asr"`
	TTS TTSConfig `mapstructure:"tts"`
}

// LLMConfig LLM service configuration
type LLMConfig struct {
	Provider    string  `env:"LLM_PROVIDER"` // openai or any openai-compatible endpoint
	APIKey      string  `env:"LLM_API_KEY"`
	BaseURL     string  `env:"LLM_BASE_URL"`
	Model       string  `env:"LLM_MODEL"`
	Temperature float32 `env:"LLM_TEMPERATURE"`
	MaxTokens   int     `env:"LLM_MAX_TOKENS"`
}

// ASRConfig ASR service configuration
type ASRConfig struct {
	Provider  string `env:"ASR_PROVIDER"` // openai, google, qcloud, aws, deepgram
	APIKey    string `env:"ASR_API_KEY"`
	AppID     string `env:"ASR_APP_ID"`
	SecretID  string `env:"ASR_SECRET_ID"`
	SecretKey string `env:"ASR_SECRET_KEY"`
	Region    string `env:"ASR_REGION"`
	Model     string `env:"ASR_MODEL"`
	Language  string `env:"ASR_LANGUAGE"` // en-US, de-DE, ...
}

// TTSConfig TTS service configuration
type TTSConfig struct {
	Provider   string `env:"TTS_PROVIDER"` // openai, google, aws
	APIKey     string `env:"TTS_API_KEY"`
	SecretID   string `env:"TTS_SECRET_ID"`
	SecretKey  string `env:"TTS_SECRET_KEY"`
	Model      string `env:"TTS_MODEL"`
	Voice      string `env:"TTS_VOICE"`
	Region     string `env:"TTS_REGION"`
	Language   string `env:"TTS_LANGUAGE"`
	SampleRate int    `env:"TTS_SAMPLE_RATE"`
}

// SIPConfig telephony configuration
type SIPConfig struct {
	Host         string `env:"SIP_HOST"`
	Port         int    `env:"SIP_PORT"`
	RTPPort      int    `env:"SIP_RTP_PORT"` // first port; each line takes one port
	UserAgent    string `env:"SIP_USER_AGENT"`
	IdentityFile string `env:"SIP_IDENTITY_FILE"`
	StorageType  string `env:"SIP_STORAGE_TYPE"` // memory, file, database
	StoragePath  string `env:"SIP_STORAGE_PATH"`
	NumLines     int    `env:"SIP_NUM_LINES"`
}

// EngineConfig conversation engine configuration
type EngineConfig struct {
	ConversationFile    string        `env:"ENGINE_CONVERSATION_FILE"`
	MaxJumps            int           `env:"ENGINE_MAX_JUMPS"` // 0 disables the guard
	ChoiceRetries       int           `env:"ENGINE_CHOICE_RETRIES"`
	InformationAttempts int           `env:"ENGINE_INFORMATION_ATTEMPTS"`
	InputTimeout        time.Duration `env:"ENGINE_INPUT_TIMEOUT"`
	GatewayRetries      int           `env:"ENGINE_GATEWAY_RETRIES"`
	GatewayBackoff      time.Duration `env:"ENGINE_GATEWAY_BACKOFF"`
	GatewayTimeout      time.Duration `env:"ENGINE_GATEWAY_TIMEOUT"`
	ApologyText         string        `env:"ENGINE_APOLOGY_TEXT"`
	UnavailableValue    string        `env:"ENGINE_UNAVAILABLE_VALUE"`
	ProcessingAudio     string        `env:"ENGINE_PROCESSING_AUDIO"`
	ForwardWait         time.Duration `env:"ENGINE_FORWARD_WAIT"`
}

// AudioConfig audio cache and voice activity configuration
type AudioConfig struct {
	CacheSize        int           `env:"AUDIO_CACHE_SIZE"`
	CacheDir         string        `env:"AUDIO_CACHE_DIR"`
	SilenceThreshold int           `env:"AUDIO_SILENCE_THRESHOLD"`
	EndOfSpeech      time.Duration `env:"AUDIO_END_OF_SPEECH"`
	MaxUtterance     time.Duration `env:"AUDIO_MAX_UTTERANCE"`
}

// CampaignConfig outbound campaign configuration
type CampaignConfig struct {
	MaxAttempts    int           `env:"CAMPAIGN_MAX_ATTEMPTS"`
	CallsPerSecond float64       `env:"CAMPAIGN_CALLS_PER_SECOND"`
	RingTimeout    time.Duration `env:"CAMPAIGN_RING_TIMEOUT"`
	TranscriptDir  string        `env:"CAMPAIGN_TRANSCRIPT_DIR"`
}

// HooksConfig demo hook configuration
type HooksConfig struct {
	MusicFile      string        `env:"HOOKS_MUSIC_FILE"`
	MusicDuration  time.Duration `env:"HOOKS_MUSIC_DURATION"`
	OperatorNumber string        `env:"HOOKS_OPERATOR_NUMBER"` // E.164
	ForwardTimeout time.Duration `env:"HOOKS_FORWARD_TIMEOUT"`
}

var GlobalConfig *Config

func Load() error {
	// 1. Load .env file based on environment (missing file is fine, defaults apply)
	env := os.Getenv(constants.ENV_APP_ENV)
	if err := utils.LoadEnv(env); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. Load global configuration
	GlobalConfig = &Config{
		Server: ServerConfig{
			Name:      getStringOrDefault("SERVER_NAME", "LingCall"),
			Addr:      getStringOrDefault("ADDR", ":7072"),
			Mode:      getStringOrDefault("MODE", "development"),
			APIPrefix: getStringOrDefault("API_PREFIX", "/api"),
		},
		Database: DatabaseConfig{
			Driver: getStringOrDefault("DB_DRIVER", "sqlite"),
			DSN:    getStringOrDefault("DSN", "./lingcall.db"),
		},
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		Services: ServicesConfig{
			LLM: LLMConfig{
				Provider:    getStringOrDefault("LLM_PROVIDER", "openai"),
				APIKey:      getStringOrDefault("LLM_API_KEY", ""),
				BaseURL:     getStringOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
				Model:       getStringOrDefault("LLM_MODEL", "gpt-4o-mini"),
				Temperature: float32(getFloatOrDefault("LLM_TEMPERATURE", 0.2)),
				MaxTokens:   getIntOrDefault("LLM_MAX_TOKENS", 512),
			},
			ASR: ASRConfig{
				Provider:  getStringOrDefault("ASR_PROVIDER", "openai"),
				APIKey:    getStringOrDefault("ASR_API_KEY", ""),
				AppID:     getStringOrDefault("ASR_APP_ID", ""),
				SecretID:  getStringOrDefault("ASR_SECRET_ID", ""),
				SecretKey: getStringOrDefault("ASR_SECRET_KEY", ""),
				Region:    getStringOrDefault("ASR_REGION", "us-east-1"),
				Model:     getStringOrDefault("ASR_MODEL", "whisper-1"),
				Language:  getStringOrDefault("ASR_LANGUAGE", "en-US"),
			},
			TTS: TTSConfig{
				Provider:   getStringOrDefault("TTS_PROVIDER", "openai"),
				APIKey:     getStringOrDefault("TTS_API_KEY", ""),
				SecretID:   getStringOrDefault("TTS_SECRET_ID", ""),
				SecretKey:  getStringOrDefault("TTS_SECRET_KEY", ""),
				Model:      getStringOrDefault("TTS_MODEL", "tts-1"),
				Voice:      getStringOrDefault("TTS_VOICE", "alloy"),
				Region:     getStringOrDefault("TTS_REGION", "us-east-1"),
				Language:   getStringOrDefault("TTS_LANGUAGE", "en-US"),
				SampleRate: getIntOrDefault("TTS_SAMPLE_RATE", constants.SAMPLE_RATE),
			},
		},
		SIP: SIPConfig{
			Host:         getStringOrDefault("SIP_HOST", "0.0.0.0"),
			Port:         getIntOrDefault("SIP_PORT", 5060),
			RTPPort:      getIntOrDefault("SIP_RTP_PORT", 10000),
			UserAgent:    getStringOrDefault("SIP_USER_AGENT", "LingCall"),
			IdentityFile: getStringOrDefault("SIP_IDENTITY_FILE", "./sip_credentials.json"),
			StorageType:  getStringOrDefault("SIP_STORAGE_TYPE", "database"),
			StoragePath:  getStringOrDefault("SIP_STORAGE_PATH", "./sip_data"),
			NumLines:     getIntOrDefault("SIP_NUM_LINES", 1),
		},
		Engine: EngineConfig{
			ConversationFile:    getStringOrDefault("ENGINE_CONVERSATION_FILE", "./conversations/demo.yaml"),
			MaxJumps:            getIntOrDefault("ENGINE_MAX_JUMPS", 1000),
			ChoiceRetries:       getIntOrDefault("ENGINE_CHOICE_RETRIES", 2),
			InformationAttempts: getIntOrDefault("ENGINE_INFORMATION_ATTEMPTS", 3),
			InputTimeout:        getDurationOrDefault("ENGINE_INPUT_TIMEOUT", 10*time.Second),
			GatewayRetries:      getIntOrDefault("ENGINE_GATEWAY_RETRIES", 2),
			GatewayBackoff:      getDurationOrDefault("ENGINE_GATEWAY_BACKOFF", 500*time.Millisecond),
			GatewayTimeout:      getDurationOrDefault("ENGINE_GATEWAY_TIMEOUT", 15*time.Second),
			ApologyText:         getStringOrDefault("ENGINE_APOLOGY_TEXT", constants.DEFAULT_APOLOGY_TEXT),
			UnavailableValue:    getStringOrDefault("ENGINE_UNAVAILABLE_VALUE", constants.DEFAULT_UNAVAILABLE_VALUE),
			ProcessingAudio:     getStringOrDefault("ENGINE_PROCESSING_AUDIO", ""),
			ForwardWait:         getDurationOrDefault("ENGINE_FORWARD_WAIT", 30*time.Minute),
		},
		Audio: AudioConfig{
			CacheSize:        getIntOrDefault("AUDIO_CACHE_SIZE", 256),
			CacheDir:         getStringOrDefault("AUDIO_CACHE_DIR", ""),
			SilenceThreshold: getIntOrDefault("AUDIO_SILENCE_THRESHOLD", 500),
			EndOfSpeech:      getDurationOrDefault("AUDIO_END_OF_SPEECH", time.Second),
			MaxUtterance:     getDurationOrDefault("AUDIO_MAX_UTTERANCE", 15*time.Second),
		},
		Campaign: CampaignConfig{
			MaxAttempts:    getIntOrDefault("CAMPAIGN_MAX_ATTEMPTS", 3),
			CallsPerSecond: getFloatOrDefault("CAMPAIGN_CALLS_PER_SECOND", 1),
			RingTimeout:    getDurationOrDefault("CAMPAIGN_RING_TIMEOUT", 30*time.Second),
			TranscriptDir:  getStringOrDefault("CAMPAIGN_TRANSCRIPT_DIR", "./logs/conversations"),
		},
		Hooks: HooksConfig{
			MusicFile:      getStringOrDefault("HOOKS_MUSIC_FILE", "./resources/music.wav"),
			MusicDuration:  getDurationOrDefault("HOOKS_MUSIC_DURATION", 5*time.Second),
			OperatorNumber: getStringOrDefault("HOOKS_OPERATOR_NUMBER", ""),
			ForwardTimeout: getDurationOrDefault("HOOKS_FORWARD_TIMEOUT", 30*time.Second),
		},
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database DSN is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if c.SIP.NumLines < 1 {
		return errors.New("at least one SIP line is required")
	}
	if c.Engine.ConversationFile == "" {
		return errors.New("conversation file is required")
	}
	if c.Audio.CacheSize < 1 {
		return errors.New("audio cache size must be positive")
	}
	return nil
}

// getStringOrDefault gets environment variable value, returns default if empty
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault gets boolean environment variable value, returns default if empty
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault gets integer environment variable value, returns default if empty
func getIntOrDefault(key string, defaultValue int) int {
	if utils.GetEnv(key) == "" {
		return defaultValue
	}
	return int(utils.GetIntEnv(key))
}

// getFloatOrDefault gets float environment variable value, returns default if empty
func getFloatOrDefault(key string, defaultValue float64) float64 {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

// getDurationOrDefault parses a duration like "1500ms" or "10s"
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
