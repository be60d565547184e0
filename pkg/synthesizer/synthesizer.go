package synthesizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

var ErrEmptyAudio = errors.New("TTS returned empty audio data")

// SynthesisHandler receives audio chunks as the provider produces them.
type SynthesisHandler interface {
	OnMessage(data []byte)
}

// SynthesisBuffer collects the whole synthesized stream.
type SynthesisBuffer struct {
	Data []byte
}

func (b *SynthesisBuffer) OnMessage(data []byte) {
	b.Data = append(b.Data, data...)
}

// SynthesisService turns text into 16-bit little-endian PCM (or a WAV
// container around it) at SampleRate.
type SynthesisService interface {
	Provider() string
	SampleRate() int
	Synthesize(ctx context.Context, handler SynthesisHandler, text string) error
	Close() error
}

// TTSCredentialConfig provider settings keyed by name, e.g. "provider",
// "apiKey", "voiceId", "sampleRate".
type TTSCredentialConfig map[string]interface{}

func (c TTSCredentialConfig) String(key string) string {
	return cast.ToString(c[key])
}

func (c TTSCredentialConfig) Int(key string, def int) int {
	v := cast.ToInt(c[key])
	if v == 0 {
		return def
	}
	return v
}

// NewSynthesisServiceFromCredential creates a provider from its credential map.
func NewSynthesisServiceFromCredential(cfg TTSCredentialConfig) (SynthesisService, error) {
	return NewSynthesisServiceWithLogger(cfg, logrus.StandardLogger())
}

func NewSynthesisServiceWithLogger(cfg TTSCredentialConfig, log *logrus.Logger) (SynthesisService, error) {
	provider := strings.ToLower(cfg.String("provider"))
	switch provider {
	case "openai", "":
		return NewOpenAIService(OpenAIOption{
			APIKey:  cfg.String("apiKey"),
			BaseURL: cfg.String("baseUrl"),
			Model:   cfg.String("model"),
			Voice:   cfg.String("voiceType"),
		}, log), nil
	case "google":
		return NewGoogleService(GoogleOption{
			APIKey:          cfg.String("apiKey"),
			CredentialsFile: cfg.String("credentialsFile"),
			LanguageCode:    cfg.String("language"),
			Voice:           cfg.String("voiceType"),
			SampleRate:      cfg.Int("sampleRate", audio.TelephonyRate),
		}, log)
	case "aws", "polly":
		return NewPollyService(PollyOption{
			AccessKey:  cfg.String("accessKey"),
			SecretKey:  cfg.String("secretKey"),
			Region:     cfg.String("region"),
			VoiceID:    cfg.String("voiceId"),
			Engine:     cfg.String("engine"),
			SampleRate: cfg.Int("sampleRate", audio.TelephonyRate),
		}, log)
	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s", provider)
	}
}

// SynthesizeSamples runs the service and returns mono samples at rate,
// normalized for telephone playback.
func SynthesizeSamples(ctx context.Context, svc SynthesisService, text string, rate int) ([]int16, error) {
	buffer := &SynthesisBuffer{}
	if err := svc.Synthesize(ctx, buffer, text); err != nil {
		return nil, fmt.Errorf("TTS synthesis failed: %w", err)
	}
	if len(buffer.Data) == 0 {
		return nil, ErrEmptyAudio
	}

	var samples []int16
	if bytes.HasPrefix(buffer.Data, []byte("RIFF")) {
		s, err := audio.DecodeWAVBytes(buffer.Data, rate)
		if err != nil {
			return nil, err
		}
		samples = s
	} else {
		samples = audio.Resample(audio.BytesToSamples(buffer.Data), svc.SampleRate(), rate)
	}
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	// 音频太小时适当放大，最多4倍
	audio.Normalize(samples, 8000, 4.0)
	return samples, nil
}
