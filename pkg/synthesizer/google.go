package synthesizer

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type GoogleOption struct {
	APIKey          string
	CredentialsFile string
	LanguageCode    string
	Voice           string
	SampleRate      int
}

type GoogleService struct {
	opt    GoogleOption
	client *texttospeech.Client
	logger *logrus.Logger
}

func NewGoogleService(opt GoogleOption, logger *logrus.Logger) (*GoogleService, error) {
	if opt.LanguageCode == "" {
		opt.LanguageCode = "en-US"
	}
	var opts []option.ClientOption
	if opt.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(opt.CredentialsFile))
	} else if opt.APIKey != "" {
		opts = append(opts, option.WithAPIKey(opt.APIKey))
	}
	client, err := texttospeech.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create google tts client: %w", err)
	}
	return &GoogleService{opt: opt, client: client, logger: logger}, nil
}

func (s *GoogleService) Provider() string { return "google" }

func (s *GoogleService) SampleRate() int { return s.opt.SampleRate }

func (s *GoogleService) Synthesize(ctx context.Context, handler SynthesisHandler, text string) error {
	resp, err := s.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: s.opt.LanguageCode,
			Name:         s.opt.Voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(s.opt.SampleRate),
		},
	})
	if err != nil {
		return fmt.Errorf("google synthesize: %w", err)
	}
	// LINEAR16 comes wrapped in a WAV header
	handler.OnMessage(resp.AudioContent)

	s.logger.WithFields(logrus.Fields{
		"language": s.opt.LanguageCode,
		"bytes":    len(resp.AudioContent),
	}).Debug("google synthesis completed")
	return nil
}

func (s *GoogleService) Close() error {
	return s.client.Close()
}
