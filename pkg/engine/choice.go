package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// pick is the result of one input source during a choice.
type pick struct {
	index int // -1 when nothing matched
	input string
	err   error
}

func (e *Engine) choice(ctx context.Context, path string, c conversation.Choice) (*cursor, error) {
	if e.muted {
		return nil, errEndWalk
	}
	e.session.FlushInput()

	for attempt := 0; attempt <= e.opts.ChoiceRetries; attempt++ {
		if !c.Silent {
			if err := e.readChoice(ctx, path, c); err != nil {
				return nil, err
			}
		}
		index, err := e.awaitChoice(ctx, path, c)
		if err != nil {
			return nil, err
		}
		if index >= 0 {
			opt := c.Options[index]
			logger.Info("choice selected",
				zap.String("session", e.session.ID()),
				zap.String("path", path),
				zap.String("label", opt.Label),
				zap.Int("attempt", attempt+1))
			return &cursor{path: path + "/" + opt.Label, items: opt.Items}, nil
		}
		logger.Info("choice not understood",
			zap.String("session", e.session.ID()),
			zap.String("path", path),
			zap.Int("attempt", attempt+1))
	}
	return nil, &abortSignal{reason: "choice retries exhausted", exhausted: true}
}

// readChoice speaks the question followed by every option label.
func (e *Engine) readChoice(ctx context.Context, path string, c conversation.Choice) error {
	if c.Choice != "" {
		if err := e.say(ctx, path, c.Choice); err != nil {
			return err
		}
	}
	for _, label := range c.Labels() {
		if err := e.say(ctx, path, label); err != nil {
			return err
		}
	}
	return nil
}

// awaitChoice races keypad input against classified speech. The first
// source to produce a result wins and the other is cancelled. A digit that
// is already waiting wins over a simultaneous voice result.
func (e *Engine) awaitChoice(ctx context.Context, path string, c conversation.Choice) (int, error) {
	live, cancelLive := e.live(ctx)
	defer cancelLive()
	wctx, cancel := context.WithTimeout(live, e.opts.InputTimeout)
	defer cancel()

	labels := c.Labels()
	digits := make(chan pick, 1)
	voice := make(chan pick, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		select {
		case <-wctx.Done():
		case d, ok := <-e.session.Digits():
			if ok {
				digits <- pick{index: dialIndex(c.Options, d), input: d}
			}
		}
	}()
	go func() {
		defer wg.Done()
		select {
		case <-wctx.Done():
		case u, ok := <-e.session.Utterances():
			if !ok {
				return
			}
			label, err := e.gateway.Classify(wctx, u, labels)
			voice <- pick{index: labelIndex(labels, label), input: u, err: err}
		}
	}()

	var (
		got    pick
		source string
	)
	select {
	case got = <-digits:
		source = "dtmf"
	case got = <-voice:
		source = "voice"
		select {
		case d := <-digits:
			got, source = d, "dtmf"
		default:
		}
	case <-wctx.Done():
	}
	expired := wctx.Err() != nil
	cancel()
	wg.Wait()

	if source == "voice" && got.err != nil && expired && !errors.Is(got.err, llm.ErrUserAborted) {
		source = ""
	}

	switch source {
	case "dtmf":
		e.transcript.User(fmt.Sprintf("DTMF: %s", got.input))
		return got.index, nil
	case "voice":
		e.transcript.User(got.input)
		if got.err != nil {
			return -1, e.gatewayError(path, got.err)
		}
		return got.index, nil
	}

	if e.hungUp() {
		e.muted = true
		return -1, errHangup
	}
	if ctx.Err() != nil {
		return -1, failure(KindTelephony, path, ctx.Err())
	}
	return -1, nil
}

func dialIndex(opts []conversation.Option, digit string) int {
	for i, o := range opts {
		if o.DialNumber != "" && o.DialNumber == digit {
			return i
		}
	}
	return -1
}

func labelIndex(labels []string, label string) int {
	if label == "" {
		return -1
	}
	for i, l := range labels {
		if l == label {
			return i
		}
	}
	return -1
}
