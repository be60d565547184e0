package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/LingByte/LingCall/pkg/audio"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	"github.com/sirupsen/logrus"
)

type DeepgramASROption struct {
	APIKey   string
	Model    string
	Language string
}

// DeepgramASR pre-recorded transcription of the buffered utterance
type DeepgramASR struct {
	batchBuffer
	opt    DeepgramASROption
	logger *logrus.Logger
}

func NewDeepgramASR(opt DeepgramASROption, logger *logrus.Logger) *DeepgramASR {
	if opt.Model == "" || opt.Model == "whisper-1" {
		opt.Model = "nova-2-phonecall"
	}
	if opt.Language == "" {
		opt.Language = "en-US"
	}
	return &DeepgramASR{opt: opt, logger: logger}
}

func (d *DeepgramASR) SendEnd() error {
	data, dialogID, err := d.take()
	if err != nil {
		return err
	}
	go func() {
		text, err := d.recognize(data)
		d.emit(text, pcmDuration(data), dialogID, err)
	}()
	return nil
}

func (d *DeepgramASR) recognize(data []byte) (string, error) {
	wav, err := audio.WAVBytes(audio.BytesToSamples(data), audio.TelephonyRate)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := client.NewREST(d.opt.APIKey, &interfaces.ClientOptions{})
	dg := api.New(c)
	res, err := dg.FromStream(ctx, bytes.NewReader(wav), &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.opt.Model,
		Language:    d.opt.Language,
		Punctuate:   true,
		SmartFormat: true,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram transcribe: %w", err)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	text := res.Results.Channels[0].Alternatives[0].Transcript
	d.logger.WithField("text", text).Debug("deepgram transcription completed")
	return text, nil
}
