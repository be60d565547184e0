package recognizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type GoogleASROption struct {
	APIKey          string
	CredentialsFile string
	LanguageCode    string
	Model           string // phone_call suits 8 kHz audio
}

// GoogleASR synchronous recognition over the buffered utterance
type GoogleASR struct {
	batchBuffer
	opt    GoogleASROption
	logger *logrus.Logger
}

func NewGoogleASR(opt GoogleASROption) GoogleASR {
	if opt.LanguageCode == "" {
		opt.LanguageCode = "en-US"
	}
	if opt.Model == "" || opt.Model == "whisper-1" {
		opt.Model = "phone_call"
	}
	return GoogleASR{opt: opt, logger: logrus.StandardLogger()}
}

func (g *GoogleASR) SendEnd() error {
	data, dialogID, err := g.take()
	if err != nil {
		return err
	}
	go func() {
		text, err := g.recognize(data)
		g.emit(text, pcmDuration(data), dialogID, err)
	}()
	return nil
}

func (g *GoogleASR) recognize(data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var opts []option.ClientOption
	if g.opt.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.opt.CredentialsFile))
	} else if g.opt.APIKey != "" {
		opts = append(opts, option.WithAPIKey(g.opt.APIKey))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create google speech client: %w", err)
	}
	defer client.Close()

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: audio.TelephonyRate,
			LanguageCode:    g.opt.LanguageCode,
			Model:           g.opt.Model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			parts = append(parts, result.Alternatives[0].Transcript)
		}
	}
	text := strings.Join(parts, " ")
	g.logger.WithField("text", text).Debug("google recognition completed")
	return text, nil
}
