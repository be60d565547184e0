package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/constants"
	"github.com/LingByte/LingCall/pkg/recognizer"
	"github.com/LingByte/LingCall/pkg/synthesizer"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// ASRFactory creates a recognizer for one utterance. Recognizers hold
// per-dialog state, so every Transcribe gets its own.
type ASRFactory func() (recognizer.TranscribeService, error)

// OpenAIGateway implements Gateway over an OpenAI compatible chat endpoint
// plus the configured speech providers.
type OpenAIGateway struct {
	config *Config
	client *openai.Client
	logger *logrus.Logger

	ttsMu sync.Mutex
	tts   synthesizer.SynthesisService
	asr   ASRFactory
}

// NewOpenAIGateway creates a gateway. tts and asr may be nil when the
// speech capabilities are not needed.
func NewOpenAIGateway(cfg *Config, tts synthesizer.SynthesisService, asr ASRFactory, logger *logrus.Logger) *OpenAIGateway {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	logger.WithFields(logrus.Fields{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Info("LLM gateway initialized")

	return &OpenAIGateway{
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
		tts:    tts,
		asr:    asr,
	}
}

// NewGatewayFromConfig wires the chat model, TTS and ASR providers named in cfg.
func NewGatewayFromConfig(cfg *config.Config, logger *logrus.Logger) (*OpenAIGateway, error) {
	tts, err := synthesizer.NewSynthesisServiceWithLogger(TTSCredential(cfg.Services.TTS), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS service: %w", err)
	}
	asrConfig := cfg.Services.ASR
	asrOption := recognizer.Option{
		Provider:  asrConfig.Provider,
		APIKey:    asrConfig.APIKey,
		AppID:     asrConfig.AppID,
		SecretID:  asrConfig.SecretID,
		SecretKey: asrConfig.SecretKey,
		Region:    asrConfig.Region,
		Model:     asrConfig.Model,
		Language:  asrConfig.Language,
	}
	if _, err := recognizer.NewTranscribeService(asrOption, logger); err != nil {
		return nil, fmt.Errorf("failed to create ASR service: %w", err)
	}
	asr := func() (recognizer.TranscribeService, error) {
		return recognizer.NewTranscribeService(asrOption, logger)
	}
	return NewOpenAIGateway(DefaultConfig(), tts, asr, logger), nil
}

func (g *OpenAIGateway) chat(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	model := g.config.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	request := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	}

	response, err := g.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func system(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: content}
}

func user(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}

func history(transcript []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(transcript))
	for _, m := range transcript {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func lastUserMessage(transcript []Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == RoleUser {
			return transcript[i].Content
		}
	}
	return ""
}

func (g *OpenAIGateway) Complete(ctx context.Context, prompt string, transcript []Message) (string, error) {
	messages := append([]openai.ChatCompletionMessage{system(prompt)}, history(transcript)...)
	content, err := g.chat(ctx, messages)
	if err != nil {
		return "", err
	}
	g.logger.WithField("response", content).Debug("LLM completion")
	return content, nil
}

func (g *OpenAIGateway) Extract(ctx context.Context, description, format string, transcript []Message) (string, error) {
	input := lastUserMessage(transcript)

	status, err := g.chat(ctx, []openai.ChatCompletionMessage{
		system(verifyPrompt),
		system("Required information: " + description),
		user(input),
	})
	if err != nil {
		return "", err
	}

	switch strings.ToUpper(strings.Trim(status, " .'\"")) {
	case constants.VERIFY_YES:
	case constants.VERIFY_ABORT:
		return "", ErrUserAborted
	default:
		return "", ErrNotFound
	}

	value, err := g.chat(ctx, []openai.ChatCompletionMessage{
		system(filterPrompt),
		system("Information description: " + description),
		system("Information format: " + format),
		user(input),
	})
	if err != nil {
		return "", err
	}
	if value == "" || strings.Contains(value, constants.SENTINEL_FAILED) {
		return "", ErrNotFound
	}

	g.logger.WithFields(logrus.Fields{
		"description": description,
		"value":       value,
	}).Info("Information extracted")
	return value, nil
}

func (g *OpenAIGateway) Validate(ctx context.Context, value, format string) (bool, error) {
	answer, err := g.chat(ctx, []openai.ChatCompletionMessage{
		system(validatePrompt),
		system("Required format: " + format),
		user(value),
	})
	if err != nil {
		return false, err
	}
	return strings.ToUpper(strings.Trim(answer, " .'\"")) == constants.VERIFY_YES, nil
}

func (g *OpenAIGateway) Classify(ctx context.Context, utterance string, labels []string) (string, error) {
	answer, err := g.chat(ctx, []openai.ChatCompletionMessage{
		system(classifyPrompt),
		system(classifyOptions(labels)),
		user(utterance),
	})
	if err != nil {
		return "", err
	}
	return matchLabel(answer, labels)
}

// matchLabel maps a classifier answer onto labels, tolerating case and
// surrounding punctuation.
func matchLabel(answer string, labels []string) (string, error) {
	cleaned := strings.Trim(answer, " .'\"\n")
	switch {
	case strings.Contains(cleaned, constants.SENTINEL_ABORT):
		return "", ErrUserAborted
	case strings.Contains(cleaned, constants.SENTINEL_NONE):
		return "", nil
	}
	for _, l := range labels {
		if cleaned == l {
			return l, nil
		}
	}
	for _, l := range labels {
		if strings.EqualFold(cleaned, l) {
			return l, nil
		}
	}
	return "", nil
}

func (g *OpenAIGateway) Synthesize(ctx context.Context, text string) ([]int16, error) {
	if g.tts == nil {
		return nil, fmt.Errorf("TTS service not configured")
	}
	g.ttsMu.Lock()
	tts := g.tts
	g.ttsMu.Unlock()

	samples, err := synthesizer.SynthesizeSamples(ctx, tts, text, audio.TelephonyRate)
	if err != nil {
		return nil, err
	}
	g.logger.WithFields(logrus.Fields{
		"provider": tts.Provider(),
		"text":     text,
		"samples":  len(samples),
	}).Info("TTS synthesis completed")
	return samples, nil
}

func (g *OpenAIGateway) Transcribe(ctx context.Context, samples []int16) (string, error) {
	if g.asr == nil {
		return "", fmt.Errorf("ASR service not configured")
	}
	// 少于300ms认为无效
	if len(samples) < audio.TelephonyRate*3/10 {
		return "", nil
	}
	svc, err := g.asr()
	if err != nil {
		return "", err
	}
	text, err := recognizer.Transcribe(ctx, svc, samples)
	if err != nil {
		return "", err
	}
	g.logger.WithFields(logrus.Fields{
		"samples": len(samples),
		"text":    text,
	}).Info("ASR recognition completed")
	return text, nil
}

// Close releases the speech providers.
func (g *OpenAIGateway) Close() error {
	g.ttsMu.Lock()
	defer g.ttsMu.Unlock()
	if g.tts != nil {
		return g.tts.Close()
	}
	return nil
}
