package synthesizer

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// openai speech returns raw pcm at 24 kHz
const openAIPCMRate = 24000

type OpenAIOption struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

type OpenAIService struct {
	opt    OpenAIOption
	client *openai.Client
	logger *logrus.Logger
}

func NewOpenAIService(opt OpenAIOption, logger *logrus.Logger) *OpenAIService {
	if opt.Model == "" {
		opt.Model = string(openai.TTSModel1)
	}
	if opt.Voice == "" {
		opt.Voice = string(openai.VoiceAlloy)
	}
	cfg := openai.DefaultConfig(opt.APIKey)
	if opt.BaseURL != "" {
		cfg.BaseURL = opt.BaseURL
	}
	return &OpenAIService{
		opt:    opt,
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

func (s *OpenAIService) Provider() string { return "openai" }

func (s *OpenAIService) SampleRate() int { return openAIPCMRate }

func (s *OpenAIService) Synthesize(ctx context.Context, handler SynthesisHandler, text string) error {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.opt.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.opt.Voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	buf := make([]byte, 4096)
	total := 0
	for {
		n, err := resp.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			handler.OnMessage(chunk)
			total += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read openai speech: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"voice": s.opt.Voice,
		"bytes": total,
	}).Debug("openai synthesis completed")
	return nil
}

func (s *OpenAIService) Close() error { return nil }
