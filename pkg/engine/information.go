package engine

import (
	"context"
	"errors"

	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// information asks for a value until it is extracted and validated. After
// the last attempt the unavailable sentinel is stored instead.
func (e *Engine) information(ctx context.Context, path string, info conversation.Information) error {
	if e.muted {
		return nil
	}
	e.session.FlushInput()

	for attempt := 1; attempt <= e.opts.InformationAttempts; attempt++ {
		live, cancel := e.live(ctx)
		question, err := withProcessing(live, e, func(c context.Context) (string, error) {
			return e.gateway.Complete(c, llm.AskInformationPrompt(info.Description), e.transcript.Messages())
		})
		cancel()
		if err != nil {
			return e.gatewayError(path, err)
		}
		if err := e.say(ctx, path, question); err != nil {
			return err
		}

		utterance, err := e.awaitUtterance(ctx, path)
		if err != nil {
			return err
		}
		if utterance == "" {
			continue
		}
		e.transcript.User(utterance)

		value, err := e.extract(ctx, info)
		if errors.Is(err, llm.ErrNotFound) {
			logger.Info("information not found",
				zap.String("session", e.session.ID()),
				zap.String("title", info.Title),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return e.gatewayError(path, err)
		}

		live, cancel = e.live(ctx)
		ok, err := e.gateway.Validate(live, value, info.Format)
		cancel()
		if err != nil {
			return e.gatewayError(path, err)
		}
		if !ok {
			logger.Info("information rejected",
				zap.String("session", e.session.ID()),
				zap.String("title", info.Title),
				zap.String("value", value),
				zap.Int("attempt", attempt))
			continue
		}

		e.state.Set(info.Title, value)
		logger.Info("information stored",
			zap.String("session", e.session.ID()),
			zap.String("title", info.Title),
			zap.String("value", value))
		return nil
	}

	e.state.Set(info.Title, e.opts.UnavailableValue)
	logger.Warn("information unavailable",
		zap.String("session", e.session.ID()),
		zap.String("title", info.Title),
		zap.Int("attempts", e.opts.InformationAttempts))
	return nil
}

func (e *Engine) extract(ctx context.Context, info conversation.Information) (string, error) {
	live, cancel := e.live(ctx)
	defer cancel()
	return withProcessing(live, e, func(c context.Context) (string, error) {
		return e.gateway.Extract(c, info.Description, info.Format, e.transcript.Messages())
	})
}

// awaitUtterance waits for the next utterance. An empty result means the
// input timeout elapsed.
func (e *Engine) awaitUtterance(ctx context.Context, path string) (string, error) {
	live, cancel := e.live(ctx)
	defer cancel()
	wctx, stop := context.WithTimeout(live, e.opts.InputTimeout)
	defer stop()

	select {
	case u, ok := <-e.session.Utterances():
		if ok {
			return u, nil
		}
	case <-wctx.Done():
	}
	if e.hungUp() {
		e.muted = true
		return "", errHangup
	}
	if ctx.Err() != nil {
		return "", failure(KindTelephony, path, ctx.Err())
	}
	return "", nil
}
