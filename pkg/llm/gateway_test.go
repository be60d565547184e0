package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer answers chat completions with reply(messages).
func chatServer(t *testing.T, reply func(messages []openai.ChatCompletionMessage) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: reply(req.Messages),
				},
				FinishReason: openai.FinishReasonStop,
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testGateway(srv *httptest.Server) *OpenAIGateway {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewOpenAIGateway(&Config{APIKey: "test", BaseURL: srv.URL, Model: "test-model"}, nil, nil, logger)
}

func lastUser(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func TestComplete(t *testing.T) {
	var seen []openai.ChatCompletionMessage
	srv := chatServer(t, func(m []openai.ChatCompletionMessage) string {
		seen = m
		return "  Hello Ada!  "
	})
	g := testGateway(srv)

	out, err := g.Complete(context.Background(), "Greet the caller", []Message{
		{Role: RoleAssistant, Content: "Hi, who is this?"},
		{Role: RoleUser, Content: "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", out)
	require.Len(t, seen, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, seen[0].Role)
	assert.Equal(t, "Greet the caller", seen[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, seen[1].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, seen[2].Role)
}

func TestClassify(t *testing.T) {
	srv := chatServer(t, func(m []openai.ChatCompletionMessage) string {
		switch u := lastUser(m); {
		case strings.Contains(u, "apples"):
			return "apples."
		case strings.Contains(u, "ORANGES"):
			return "Oranges"
		case strings.Contains(u, "bye"):
			return constants.SENTINEL_ABORT
		default:
			return constants.SENTINEL_NONE
		}
	})
	g := testGateway(srv)
	labels := []string{"apples", "oranges"}

	got, err := g.Classify(context.Background(), "I like apples", labels)
	require.NoError(t, err)
	assert.Equal(t, "apples", got)

	got, err = g.Classify(context.Background(), "ORANGES please", labels)
	require.NoError(t, err)
	assert.Equal(t, "oranges", got)

	got, err = g.Classify(context.Background(), "bananas", labels)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = g.Classify(context.Background(), "bye now", labels)
	assert.ErrorIs(t, err, ErrUserAborted)
}

func TestExtract(t *testing.T) {
	srv := chatServer(t, func(m []openai.ChatCompletionMessage) string {
		u := lastUser(m)
		if m[0].Content == verifyPrompt {
			switch {
			case strings.Contains(u, "my name is"):
				return "YES"
			case strings.Contains(u, "not telling"):
				return "ABORT"
			default:
				return "NO"
			}
		}
		if m[0].Content == filterPrompt {
			if strings.Contains(u, "nobody") {
				return constants.SENTINEL_FAILED
			}
			return "Ada"
		}
		return "?"
	})
	g := testGateway(srv)
	transcript := func(text string) []Message {
		return []Message{{Role: RoleAssistant, Content: "What's your name?"}, {Role: RoleUser, Content: text}}
	}

	v, err := g.Extract(context.Background(), "first name", "capitalized", transcript("my name is ada"))
	require.NoError(t, err)
	assert.Equal(t, "Ada", v)

	_, err = g.Extract(context.Background(), "first name", "capitalized", transcript("what?"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = g.Extract(context.Background(), "first name", "capitalized", transcript("I'm not telling you"))
	assert.ErrorIs(t, err, ErrUserAborted)

	_, err = g.Extract(context.Background(), "first name", "capitalized", transcript("my name is nobody"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidate(t *testing.T) {
	srv := chatServer(t, func(m []openai.ChatCompletionMessage) string {
		if lastUser(m) == "Ada" {
			return "Yes."
		}
		return "NO"
	})
	g := testGateway(srv)

	ok, err := g.Validate(context.Background(), "Ada", "capitalized")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Validate(context.Background(), "ada", "capitalized")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpeechNotConfigured(t *testing.T) {
	srv := chatServer(t, func([]openai.ChatCompletionMessage) string { return "" })
	g := testGateway(srv)
	_, err := g.Synthesize(context.Background(), "hi")
	assert.Error(t, err)
	_, err = g.Transcribe(context.Background(), make([]int16, 8000))
	assert.Error(t, err)
}

type flakyGateway struct {
	Gateway
	calls    int32
	failures int32
	err      error
}

func (f *flakyGateway) Complete(ctx context.Context, prompt string, transcript []Message) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

func (f *flakyGateway) Classify(ctx context.Context, utterance string, labels []string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return "", ErrUserAborted
}

func (f *flakyGateway) Synthesize(ctx context.Context, text string) ([]int16, error) {
	atomic.AddInt32(&f.calls, 1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRetryRecovers(t *testing.T) {
	f := &flakyGateway{failures: 2, err: errors.New("503")}
	g := WithRetry(f, RetryPolicy{Retries: 2, Backoff: time.Millisecond}, quietLogger())

	out, err := g.Complete(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), f.calls)
}

func TestRetryExhausted(t *testing.T) {
	f := &flakyGateway{failures: 10, err: errors.New("503")}
	g := WithRetry(f, RetryPolicy{Retries: 1, Backoff: time.Millisecond}, quietLogger())

	_, err := g.Complete(context.Background(), "p", nil)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Attempts)
	assert.Equal(t, int32(2), f.calls)
}

func TestRetrySkipsUserAbort(t *testing.T) {
	f := &flakyGateway{}
	g := WithRetry(f, RetryPolicy{Retries: 3, Backoff: time.Millisecond}, quietLogger())

	_, err := g.Classify(context.Background(), "bye", []string{"a"})
	assert.ErrorIs(t, err, ErrUserAborted)
	assert.Equal(t, int32(1), f.calls)
}

func TestRetryPerCallTimeout(t *testing.T) {
	f := &flakyGateway{}
	g := WithRetry(f, RetryPolicy{Retries: 1, Backoff: time.Millisecond, Timeout: 20 * time.Millisecond}, quietLogger())

	start := time.Now()
	_, err := g.Synthesize(context.Background(), "hi")
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), f.calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMatchLabel(t *testing.T) {
	l, err := matchLabel("'True'", []string{"True", "False"})
	require.NoError(t, err)
	assert.Equal(t, "True", l)

	l, err = matchLabel("maybe", []string{"yes", "no"})
	require.NoError(t, err)
	assert.Equal(t, "", l)
}
