package recognizer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tencentcloud/tencentcloud-speech-sdk-go/asr"
	"github.com/tencentcloud/tencentcloud-speech-sdk-go/common"
)

// QcloudASROption 腾讯云实时语音识别配置
type QcloudASROption struct {
	AppID     string
	SecretID  string
	SecretKey string
	ModelType string // 8k_en, 8k_zh ...
}

func NewQcloudASROption(appID, secretID, secretKey string) QcloudASROption {
	return QcloudASROption{
		AppID:     appID,
		SecretID:  secretID,
		SecretKey: secretKey,
		ModelType: "8k_en",
	}
}

// QcloudASR streams audio to the Tencent realtime recognizer.
type QcloudASR struct {
	opt        QcloudASROption
	logger     *logrus.Logger
	mu         sync.Mutex
	onResult   TranscribeResult
	onError    ProcessError
	recognizer *asr.SpeechRecognizer
	dialogID   string
	sentences  []string
	startedAt  time.Time
}

func NewQcloudASR(opt QcloudASROption) *QcloudASR {
	return &QcloudASR{opt: opt, logger: logrus.StandardLogger()}
}

func (q *QcloudASR) Init(onResult TranscribeResult, onError ProcessError) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onResult = onResult
	q.onError = onError
}

func (q *QcloudASR) ConnAndReceive(dialogID string) error {
	credential := common.NewCredential(q.opt.SecretID, q.opt.SecretKey)
	recognizer := asr.NewSpeechRecognizer(q.opt.AppID, credential, q.opt.ModelType, &qcloudListener{asr: q})
	recognizer.VoiceFormat = asr.AudioFormatPCM

	q.mu.Lock()
	q.dialogID = dialogID
	q.sentences = nil
	q.startedAt = time.Now()
	q.recognizer = recognizer
	q.mu.Unlock()

	if err := recognizer.Start(); err != nil {
		return fmt.Errorf("qcloud asr start: %w", err)
	}
	return nil
}

func (q *QcloudASR) SendAudioBytes(data []byte) error {
	q.mu.Lock()
	recognizer := q.recognizer
	q.mu.Unlock()
	if recognizer == nil {
		return ErrNotConnected
	}
	if err := recognizer.Write(data); err != nil {
		return err
	}
	// 实时识别需要按真实速率发送
	time.Sleep(time.Duration(len(data)/2) * time.Second / 8000 / 2)
	return nil
}

func (q *QcloudASR) SendEnd() error {
	q.mu.Lock()
	recognizer := q.recognizer
	q.mu.Unlock()
	if recognizer == nil {
		return ErrNotConnected
	}
	return recognizer.Stop()
}

func (q *QcloudASR) StopConn() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recognizer = nil
	return nil
}

func (q *QcloudASR) callbacks() (TranscribeResult, ProcessError, string, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.onResult, q.onError, q.dialogID, q.startedAt
}

type qcloudListener struct {
	asr *QcloudASR
}

func (l *qcloudListener) OnRecognitionStart(*asr.SpeechRecognitionResponse) {}

func (l *qcloudListener) OnSentenceBegin(*asr.SpeechRecognitionResponse) {}

func (l *qcloudListener) OnRecognitionResultChange(resp *asr.SpeechRecognitionResponse) {
	onResult, _, dialogID, started := l.asr.callbacks()
	if onResult != nil {
		onResult(resp.Result.VoiceTextStr, false, time.Since(started), dialogID)
	}
}

func (l *qcloudListener) OnSentenceEnd(resp *asr.SpeechRecognitionResponse) {
	l.asr.mu.Lock()
	l.asr.sentences = append(l.asr.sentences, resp.Result.VoiceTextStr)
	l.asr.mu.Unlock()
}

func (l *qcloudListener) OnRecognitionComplete(*asr.SpeechRecognitionResponse) {
	onResult, _, dialogID, started := l.asr.callbacks()
	l.asr.mu.Lock()
	text := strings.Join(l.asr.sentences, " ")
	l.asr.mu.Unlock()
	l.asr.logger.WithFields(logrus.Fields{"dialogID": dialogID, "text": text}).Debug("qcloud recognition completed")
	if onResult != nil {
		onResult(text, true, time.Since(started), dialogID)
	}
}

func (l *qcloudListener) OnFail(resp *asr.SpeechRecognitionResponse, err error) {
	_, onError, dialogID, _ := l.asr.callbacks()
	l.asr.logger.WithError(err).WithField("dialogID", dialogID).Error("qcloud recognition failed")
	if onError != nil {
		onError(err, true)
	}
}
