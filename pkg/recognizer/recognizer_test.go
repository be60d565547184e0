package recognizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoASR reports the number of received bytes as text
type echoASR struct {
	batchBuffer
	text string
	err  error
}

func (e *echoASR) SendEnd() error {
	data, dialogID, err := e.take()
	if err != nil {
		return err
	}
	go func() {
		if e.err != nil {
			e.emit("", 0, dialogID, e.err)
			return
		}
		e.emit(e.text, pcmDuration(data), dialogID, nil)
	}()
	return nil
}

func TestTranscribe(t *testing.T) {
	svc := &echoASR{text: "  I like apples "}
	text, err := Transcribe(context.Background(), svc, make([]int16, 4000))
	require.NoError(t, err)
	assert.Equal(t, "I like apples", text)
}

func TestTranscribeError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Transcribe(context.Background(), &echoASR{err: boom}, make([]int16, 10))
	assert.ErrorIs(t, err, boom)
}

func TestTranscribeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Transcribe(ctx, &echoASR{}, make([]int16, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchBufferRequiresConnection(t *testing.T) {
	var b batchBuffer
	assert.ErrorIs(t, b.SendAudioBytes([]byte{1}), ErrNotConnected)
	require.NoError(t, b.ConnAndReceive("d1"))
	require.NoError(t, b.SendAudioBytes([]byte{1, 2}))
	require.NoError(t, b.SendAudioBytes([]byte{3, 4}))
	data, id, err := b.take()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Equal(t, "d1", id)
	require.NoError(t, b.StopConn())
	_, _, err = b.take()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "en", languageBase("en-US"))
	assert.Equal(t, "de", languageBase("de"))
	assert.Equal(t, time.Second, pcmDuration(make([]byte, 16000)))
}

func TestNewTranscribeServiceUnknown(t *testing.T) {
	_, err := NewTranscribeService(Option{Provider: "nope"}, nil)
	assert.Error(t, err)

	svc, err := NewTranscribeService(Option{Provider: "openai"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &WhisperASR{}, svc)
}
