package recognizer

import (
	"bytes"
	"context"
	"time"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

type WhisperASROption struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// WhisperASR posts the buffered utterance as a WAV file to the OpenAI
// transcription endpoint.
type WhisperASR struct {
	batchBuffer
	opt    WhisperASROption
	client *openai.Client
	logger *logrus.Logger
}

func NewWhisperASR(opt WhisperASROption, logger *logrus.Logger) *WhisperASR {
	if opt.Model == "" {
		opt.Model = openai.Whisper1
	}
	cfg := openai.DefaultConfig(opt.APIKey)
	if opt.BaseURL != "" {
		cfg.BaseURL = opt.BaseURL
	}
	return &WhisperASR{opt: opt, client: openai.NewClientWithConfig(cfg), logger: logger}
}

func (w *WhisperASR) SendEnd() error {
	data, dialogID, err := w.take()
	if err != nil {
		return err
	}
	go w.recognize(data, dialogID)
	return nil
}

func (w *WhisperASR) recognize(data []byte, dialogID string) {
	wav, err := audio.WAVBytes(audio.BytesToSamples(data), audio.TelephonyRate)
	if err != nil {
		w.emit("", 0, dialogID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.opt.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: languageBase(w.opt.Language),
	})
	if err != nil {
		w.logger.WithError(err).WithField("dialogID", dialogID).Error("whisper transcription failed")
		w.emit("", 0, dialogID, err)
		return
	}
	w.logger.WithFields(logrus.Fields{
		"dialogID": dialogID,
		"text":     resp.Text,
	}).Debug("whisper transcription completed")
	w.emit(resp.Text, pcmDuration(data), dialogID, nil)
}
