package recognizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"
)

type AWSASROption struct {
	AccessKey string
	SecretKey string
	Region    string
	Language  string
}

// AWSASR streams audio to Amazon Transcribe.
type AWSASR struct {
	opt      AWSASROption
	logger   *logrus.Logger
	mu       sync.Mutex
	onResult TranscribeResult
	onError  ProcessError
	stream   *transcribestreaming.StartStreamTranscriptionEventStream
	cancel   context.CancelFunc
	ctx      context.Context
}

func NewAWSASR(opt AWSASROption, logger *logrus.Logger) *AWSASR {
	if opt.Language == "" {
		opt.Language = "en-US"
	}
	return &AWSASR{opt: opt, logger: logger}
}

func (a *AWSASR) Init(onResult TranscribeResult, onError ProcessError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onResult = onResult
	a.onError = onError
}

func (a *AWSASR) ConnAndReceive(dialogID string) error {
	ctx, cancel := context.WithCancel(context.Background())

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if a.opt.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(a.opt.Region))
	}
	if a.opt.AccessKey != "" && a.opt.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.opt.AccessKey, a.opt.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		cancel()
		return fmt.Errorf("load aws config: %w", err)
	}

	client := transcribestreaming.NewFromConfig(cfg)
	resp, err := client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(a.opt.Language),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(8000),
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start transcription: %w", err)
	}

	stream := resp.GetStream()
	a.mu.Lock()
	a.stream = stream
	a.ctx = ctx
	a.cancel = cancel
	onResult, onError := a.onResult, a.onError
	a.mu.Unlock()

	go func() {
		started := time.Now()
		var finals []string
		for event := range stream.Events() {
			te, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
			if !ok || te.Value.Transcript == nil {
				continue
			}
			for _, result := range te.Value.Transcript.Results {
				if len(result.Alternatives) == 0 || result.Alternatives[0].Transcript == nil {
					continue
				}
				text := *result.Alternatives[0].Transcript
				if result.IsPartial {
					if onResult != nil {
						onResult(text, false, time.Since(started), dialogID)
					}
					continue
				}
				finals = append(finals, text)
			}
		}
		if err := stream.Err(); err != nil {
			a.logger.WithError(err).WithField("dialogID", dialogID).Error("aws transcription failed")
			if onError != nil {
				onError(err, true)
			}
			return
		}
		if onResult != nil {
			onResult(strings.Join(finals, " "), true, time.Since(started), dialogID)
		}
	}()
	return nil
}

func (a *AWSASR) SendAudioBytes(data []byte) error {
	a.mu.Lock()
	stream, ctx := a.stream, a.ctx
	a.mu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}
	return stream.Send(ctx, &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: data},
	})
}

func (a *AWSASR) SendEnd() error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}
	return stream.Close()
}

func (a *AWSASR) StopConn() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	a.stream = nil
	a.cancel = nil
	return nil
}
