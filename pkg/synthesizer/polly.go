package synthesizer

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/sirupsen/logrus"
)

type PollyOption struct {
	AccessKey  string
	SecretKey  string
	Region     string
	VoiceID    string
	Engine     string // standard, neural
	SampleRate int    // polly pcm supports 8000 and 16000
}

type PollyService struct {
	opt    PollyOption
	client *polly.Client
	logger *logrus.Logger
}

func NewPollyService(opt PollyOption, logger *logrus.Logger) (*PollyService, error) {
	if opt.VoiceID == "" {
		opt.VoiceID = string(types.VoiceIdJoanna)
	}
	if opt.Engine == "" {
		opt.Engine = string(types.EngineNeural)
	}
	if opt.SampleRate != 8000 && opt.SampleRate != 16000 {
		opt.SampleRate = 8000
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opt.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opt.Region))
	}
	if opt.AccessKey != "" && opt.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opt.AccessKey, opt.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &PollyService{opt: opt, client: polly.NewFromConfig(cfg), logger: logger}, nil
}

func (s *PollyService) Provider() string { return "aws" }

func (s *PollyService) SampleRate() int { return s.opt.SampleRate }

func (s *PollyService) Synthesize(ctx context.Context, handler SynthesisHandler, text string) error {
	out, err := s.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatPcm,
		Text:         aws.String(text),
		VoiceId:      types.VoiceId(s.opt.VoiceID),
		Engine:       types.Engine(s.opt.Engine),
		SampleRate:   aws.String(strconv.Itoa(s.opt.SampleRate)),
	})
	if err != nil {
		return fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return fmt.Errorf("read polly stream: %w", err)
	}
	handler.OnMessage(data)

	s.logger.WithFields(logrus.Fields{
		"voice": s.opt.VoiceID,
		"bytes": len(data),
	}).Debug("polly synthesis completed")
	return nil
}

func (s *PollyService) Close() error { return nil }
