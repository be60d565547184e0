package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("recognizer not connected")

// TranscribeResult 识别结果回调
type TranscribeResult func(text string, isFinal bool, duration time.Duration, dialogID string)

// ProcessError 错误回调
type ProcessError func(err error, isFinal bool)

// TranscribeService consumes 16-bit little-endian 8 kHz PCM and reports
// results through the callbacks given to Init.
type TranscribeService interface {
	Init(onResult TranscribeResult, onError ProcessError)
	ConnAndReceive(dialogID string) error
	SendAudioBytes(data []byte) error
	SendEnd() error
	StopConn() error
}

// Option provider-independent settings
type Option struct {
	Provider  string
	APIKey    string
	AppID     string
	SecretID  string
	SecretKey string
	Region    string
	Model     string
	Language  string
}

// NewTranscribeService creates the provider named in opt.
func NewTranscribeService(opt Option, log *logrus.Logger) (TranscribeService, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	switch strings.ToLower(opt.Provider) {
	case "openai", "whisper", "":
		return NewWhisperASR(WhisperASROption{APIKey: opt.APIKey, Model: opt.Model, Language: opt.Language}, log), nil
	case "google":
		g := NewGoogleASR(GoogleASROption{APIKey: opt.APIKey, LanguageCode: opt.Language, Model: opt.Model})
		g.logger = log
		return &g, nil
	case "qcloud", "tencent":
		q := NewQcloudASROption(opt.AppID, opt.SecretID, opt.SecretKey)
		if opt.Model != "" {
			q.ModelType = opt.Model
		}
		asr := NewQcloudASR(q)
		asr.logger = log
		return asr, nil
	case "aws":
		return NewAWSASR(AWSASROption{
			AccessKey: opt.SecretID,
			SecretKey: opt.SecretKey,
			Region:    opt.Region,
			Language:  opt.Language,
		}, log), nil
	case "deepgram":
		return NewDeepgramASR(DeepgramASROption{APIKey: opt.APIKey, Model: opt.Model, Language: opt.Language}, log), nil
	default:
		return nil, fmt.Errorf("unsupported ASR provider: %s", opt.Provider)
	}
}

// Transcribe runs one utterance through svc and waits for the final result.
func Transcribe(ctx context.Context, svc TranscribeService, samples []int16) (string, error) {
	var (
		mu     sync.Mutex
		result string
		asrErr error
		once   sync.Once
	)
	done := make(chan struct{})
	finish := func() { once.Do(func() { close(done) }) }

	svc.Init(
		func(text string, isFinal bool, duration time.Duration, dialogID string) {
			mu.Lock()
			if text != "" {
				result = text
			}
			mu.Unlock()
			if isFinal {
				finish()
			}
		},
		func(err error, isFinal bool) {
			if isFinal {
				mu.Lock()
				asrErr = err
				mu.Unlock()
				finish()
			}
		},
	)

	dialogID := fmt.Sprintf("dialog_%d", time.Now().UnixNano())
	if err := svc.ConnAndReceive(dialogID); err != nil {
		return "", fmt.Errorf("failed to connect ASR: %w", err)
	}
	defer svc.StopConn()

	// 分块发送音频数据（每次1600字节，约100ms）
	data := audio.SamplesToBytes(samples)
	const chunkSize = 1600
	for i := 0; i < len(data); i += chunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := svc.SendAudioBytes(data[i:min(i+chunkSize, len(data))]); err != nil {
			return "", fmt.Errorf("failed to send audio chunk: %w", err)
		}
	}
	if err := svc.SendEnd(); err != nil {
		return "", fmt.Errorf("failed to send end signal: %w", err)
	}

	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		if asrErr != nil {
			return "", asrErr
		}
		return strings.TrimSpace(result), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// batchBuffer is shared by providers that only offer request/response
// recognition: audio is buffered until SendEnd.
type batchBuffer struct {
	mu        sync.Mutex
	onResult  TranscribeResult
	onError   ProcessError
	dialogID  string
	connected bool
	data      []byte
}

func (b *batchBuffer) Init(onResult TranscribeResult, onError ProcessError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onResult = onResult
	b.onError = onError
}

func (b *batchBuffer) ConnAndReceive(dialogID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialogID = dialogID
	b.connected = true
	b.data = b.data[:0]
	return nil
}

func (b *batchBuffer) SendAudioBytes(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrNotConnected
	}
	b.data = append(b.data, data...)
	return nil
}

func (b *batchBuffer) StopConn() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.data = nil
	return nil
}

// take returns the buffered audio for recognition.
func (b *batchBuffer) take() ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, "", ErrNotConnected
	}
	data := b.data
	b.data = nil
	return data, b.dialogID, nil
}

func (b *batchBuffer) emit(text string, duration time.Duration, dialogID string, err error) {
	b.mu.Lock()
	onResult, onError := b.onResult, b.onError
	b.mu.Unlock()
	if err != nil {
		if onError != nil {
			onError(err, true)
		}
		return
	}
	if onResult != nil {
		onResult(text, true, duration, dialogID)
	}
}

func pcmDuration(data []byte) time.Duration {
	return time.Duration(len(data)/2) * time.Second / audio.TelephonyRate
}

// languageBase turns "en-US" into "en".
func languageBase(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}
