// Package engine walks a conversation model over a live call session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/constants"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// Options tunes one engine run.
type Options struct {
	MaxJumps            int // 0 disables the guard
	ChoiceRetries       int
	InformationAttempts int
	InputTimeout        time.Duration
	ApologyText         string
	UnavailableValue    string
	ProcessingAudio     string // looped while waiting on the gateway, optional
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		MaxJumps:            1000,
		ChoiceRetries:       2,
		InformationAttempts: 3,
		InputTimeout:        10 * time.Second,
		ApologyText:         constants.DEFAULT_APOLOGY_TEXT,
		UnavailableValue:    constants.DEFAULT_UNAVAILABLE_VALUE,
	}
}

// OptionsFromConfig maps the engine section of the application config.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	opts := Options{
		MaxJumps:            cfg.MaxJumps,
		ChoiceRetries:       cfg.ChoiceRetries,
		InformationAttempts: cfg.InformationAttempts,
		InputTimeout:        cfg.InputTimeout,
		ApologyText:         cfg.ApologyText,
		UnavailableValue:    cfg.UnavailableValue,
		ProcessingAudio:     cfg.ProcessingAudio,
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxJumps < 0 {
		o.MaxJumps = 0
	}
	if o.ChoiceRetries < 0 {
		o.ChoiceRetries = 0
	}
	if o.InformationAttempts < 1 {
		o.InformationAttempts = def.InformationAttempts
	}
	if o.InputTimeout <= 0 {
		o.InputTimeout = def.InputTimeout
	}
	if o.ApologyText == "" {
		o.ApologyText = def.ApologyText
	}
	if o.UnavailableValue == "" {
		o.UnavailableValue = def.UnavailableValue
	}
	return o
}

// cursor position inside the model
type cursor struct {
	path  string
	items []conversation.Item
	index int
}

// Engine runs one conversation over one session. It is not reusable.
type Engine struct {
	model      *conversation.Model
	gateway    llm.Gateway
	session    Session
	hooks      map[string]Hook
	opts       Options
	state      *State
	transcript *Transcript

	aborted bool // aborted path entered
	muted   bool // leg gone, audio skipped
	jumps   int
}

// New binds the model's hooks and prepares a run. A missing hook is a
// ConfigError and no engine is returned.
func New(model *conversation.Model, gateway llm.Gateway, session Session, registry Registry, opts Options) (*Engine, error) {
	if registry == nil {
		registry = Hooks
	}
	hooks, err := Bind(model, registry)
	if err != nil {
		return nil, err
	}
	return &Engine{
		model:      model,
		gateway:    gateway,
		session:    session,
		hooks:      hooks,
		opts:       opts.withDefaults(),
		state:      NewState(),
		transcript: &Transcript{},
	}, nil
}

// State returns the information collected so far.
func (e *Engine) State() *State { return e.state }

// Transcript returns what has been said on the call so far.
func (e *Engine) Transcript() *Transcript { return e.transcript }

// Run walks the entry path until the conversation ends.
func (e *Engine) Run(ctx context.Context) Outcome {
	logger.Info("conversation started",
		zap.String("session", e.session.ID()),
		zap.String("remote", e.session.Remote()),
		zap.String("conversation", e.model.Title))

	out := e.walk(ctx, cursor{path: constants.PATH_ENTRY, items: e.model.Entry()})
	if out.Status == StatusFailed {
		e.recover(ctx, out)
	}

	logger.Info("conversation finished",
		zap.String("session", e.session.ID()),
		zap.String("outcome", out.String()),
		zap.Int("jumps", e.jumps),
		zap.Int("information", e.state.Len()))
	return out
}

func (e *Engine) walk(ctx context.Context, cur cursor) Outcome {
	for {
		if ctx.Err() != nil {
			return failed(failure(KindTelephony, cur.path, ctx.Err()))
		}
		if !e.muted && e.hungUp() {
			e.muted = true
		}
		if e.muted && !e.aborted {
			logger.Info("caller hung up",
				zap.String("session", e.session.ID()),
				zap.String("path", cur.path),
				zap.Int("index", cur.index))
			cur, _ = e.enterAborted()
			continue
		}
		if cur.index >= len(cur.items) {
			if e.aborted {
				return Outcome{Status: StatusAborted}
			}
			return Outcome{Status: StatusCompleted}
		}

		item := cur.items[cur.index]
		cur.index++
		next, err := e.execute(ctx, cur.path, cur.index-1, item)
		if err != nil {
			var sig *abortSignal
			var f *Failure
			switch {
			case errors.As(err, &sig):
				if e.aborted {
					if sig.exhausted {
						return failed(failure(KindRuntimeBranch, cur.path, errors.New("choice retries exhausted inside aborted path")))
					}
					return Outcome{Status: StatusAborted}
				}
				logger.Info("conversation aborted",
					zap.String("session", e.session.ID()),
					zap.String("path", cur.path),
					zap.String("reason", sig.reason))
				n, ferr := e.jump(cur.path, e.enterAborted)
				if ferr != nil {
					return failed(ferr)
				}
				cur = n
				continue
			case errors.Is(err, errHangup):
				continue
			case errors.Is(err, errEndWalk):
				return Outcome{Status: StatusAborted}
			case errors.As(err, &f):
				return failed(f)
			default:
				return failed(failure(KindExternalService, cur.path, err))
			}
		}
		if next != nil {
			n, ferr := e.jump(cur.path, func() (cursor, error) { return *next, nil })
			if ferr != nil {
				return failed(ferr)
			}
			cur = n
		}
	}
}

func (e *Engine) jump(from string, to func() (cursor, error)) (cursor, *Failure) {
	e.jumps++
	if e.opts.MaxJumps > 0 && e.jumps > e.opts.MaxJumps {
		return cursor{}, failure(KindRuntimeBranch, from, fmt.Errorf("jump limit %d exceeded", e.opts.MaxJumps))
	}
	next, err := to()
	if err != nil {
		return cursor{}, failure(KindRuntimeBranch, from, err)
	}
	return next, nil
}

// enterAborted latches the aborted path. It is entered at most once.
func (e *Engine) enterAborted() (cursor, error) {
	e.aborted = true
	items, _ := e.model.Path(constants.PATH_ABORTED)
	return cursor{path: constants.PATH_ABORTED, items: items}, nil
}

// recover apologises, hangs up and runs the aborted path without audio.
func (e *Engine) recover(ctx context.Context, out Outcome) {
	logger.Error("conversation failed",
		zap.String("session", e.session.ID()),
		zap.String("kind", string(out.Kind)),
		zap.Error(out.Err))

	bg := context.WithoutCancel(ctx)
	if !e.muted && !e.hungUp() {
		if err := e.session.Speak(bg, e.opts.ApologyText, true); err != nil {
			logger.Warn("apology failed", zap.String("session", e.session.ID()), zap.Error(err))
		}
	}
	if err := e.session.HangUp(bg, false); err != nil {
		logger.Warn("hangup failed", zap.String("session", e.session.ID()), zap.Error(err))
	}
	e.muted = true
	if e.aborted {
		return
	}
	cur, _ := e.enterAborted()
	if sub := e.walk(bg, cur); sub.Status == StatusFailed {
		logger.Warn("aborted path failed after failure",
			zap.String("session", e.session.ID()),
			zap.Error(sub.Err))
	}
}

func (e *Engine) hungUp() bool {
	return e.session.Context().Err() != nil
}

var (
	errHangup  = errors.New("leg ended")
	errEndWalk = errors.New("walk ended")
)

// abortSignal requests the aborted path.
type abortSignal struct {
	reason    string
	exhausted bool
}

func (a *abortSignal) Error() string { return "abort: " + a.reason }

// live returns a context cancelled when either ctx or the leg ends. Muted
// runs never cancel on the leg.
func (e *Engine) live(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.muted {
		return context.WithCancel(context.WithoutCancel(ctx))
	}
	c, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.session.Context(), cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (e *Engine) execute(ctx context.Context, path string, index int, item conversation.Item) (*cursor, error) {
	logger.Debug("execute item",
		zap.String("session", e.session.ID()),
		zap.String("path", path),
		zap.Int("index", index),
		zap.String("type", string(item.Type())),
		zap.Bool("muted", e.muted))

	switch v := item.(type) {
	case conversation.Read:
		return nil, e.say(ctx, path, v.Text)
	case conversation.Prompt:
		return nil, e.prompt(ctx, path, v)
	case conversation.Choice:
		return e.choice(ctx, path, v)
	case conversation.Information:
		return nil, e.information(ctx, path, v)
	case conversation.Function:
		return nil, e.function(ctx, path, v)
	case conversation.FunctionChoice:
		return e.functionChoice(ctx, path, v)
	case conversation.Path:
		if v.Path == constants.PATH_ABORTED {
			if e.aborted {
				return nil, errEndWalk
			}
			next, _ := e.enterAborted()
			return &next, nil
		}
		items, ok := e.model.Path(v.Path)
		if !ok {
			return nil, failure(KindRuntimeBranch, path, fmt.Errorf("unknown path %q", v.Path))
		}
		return &cursor{path: v.Path, items: items}, nil
	default:
		return nil, failure(KindConfig, path, fmt.Errorf("unsupported item %T", item))
	}
}

// say speaks text and records it in the transcript.
func (e *Engine) say(ctx context.Context, path, text string) error {
	e.transcript.Assistant(text)
	if e.muted {
		return nil
	}
	c, cancel := e.live(ctx)
	defer cancel()
	if err := e.session.Speak(c, text, true); err != nil {
		return e.speechError(path, err)
	}
	if e.hungUp() {
		e.muted = true
		return errHangup
	}
	return nil
}

func (e *Engine) speechError(path string, err error) error {
	if e.hungUp() {
		e.muted = true
		return errHangup
	}
	if errors.Is(err, ErrTelephony) {
		return failure(KindTelephony, path, err)
	}
	return failure(KindExternalService, path, err)
}

// gatewayError maps a gateway failure during an item.
func (e *Engine) gatewayError(path string, err error) error {
	if errors.Is(err, llm.ErrUserAborted) {
		return &abortSignal{reason: "user asked to end the call"}
	}
	if e.hungUp() {
		e.muted = true
		return errHangup
	}
	return failure(KindExternalService, path, err)
}

func (e *Engine) prompt(ctx context.Context, path string, p conversation.Prompt) error {
	if e.muted {
		return nil
	}
	c, cancel := e.live(ctx)
	defer cancel()
	text, err := withProcessing(c, e, func(c context.Context) (string, error) {
		return e.gateway.Complete(c, p.Prompt, e.transcript.Messages())
	})
	if err != nil {
		return e.gatewayError(path, err)
	}
	return e.say(ctx, path, text)
}

// withProcessing loops the processing sound while fn runs.
func withProcessing[T any](ctx context.Context, e *Engine, fn func(context.Context) (T, error)) (T, error) {
	if e.opts.ProcessingAudio == "" || e.muted {
		return fn(ctx)
	}
	if err := e.session.PlayAudio(ctx, e.opts.ProcessingAudio, true); err != nil {
		logger.Warn("processing audio failed",
			zap.String("session", e.session.ID()),
			zap.String("file", e.opts.ProcessingAudio),
			zap.Error(err))
		return fn(ctx)
	}
	defer e.session.StopAudio()
	return fn(ctx)
}

func (e *Engine) function(ctx context.Context, path string, f conversation.Function) error {
	result, err := e.callHook(ctx, path, f.HookID())
	if err != nil {
		return err
	}
	text, ok := result.(string)
	if !ok || text == "" {
		return nil
	}
	return e.say(ctx, path, text)
}

func (e *Engine) functionChoice(ctx context.Context, path string, f conversation.FunctionChoice) (*cursor, error) {
	result, err := e.callHook(ctx, path, f.HookID())
	if err != nil {
		return nil, err
	}
	key := CanonicalString(result)
	for _, opt := range f.Options {
		if opt.Label == key {
			return &cursor{path: path + "/" + opt.Label, items: opt.Items}, nil
		}
	}
	return nil, failure(KindRuntimeBranch, path, fmt.Errorf("hook %s returned %q which matches no option", f.HookID(), key))
}

func (e *Engine) callHook(ctx context.Context, path, id string) (any, error) {
	hook, ok := e.hooks[id]
	if !ok {
		return nil, failure(KindConfig, path, fmt.Errorf("hook %q is not bound", id))
	}
	c, cancel := e.live(ctx)
	defer cancel()
	result, err := hook(c, e.state, e.session)
	if err != nil && !e.muted && e.hungUp() && errors.Is(err, context.Canceled) {
		e.muted = true
		return nil, errHangup
	}
	if err != nil {
		logger.Warn("hook failed",
			zap.String("session", e.session.ID()),
			zap.String("hook", id),
			zap.Error(err))
		return nil, failure(KindUserHook, path, fmt.Errorf("hook %s: %w", id, err))
	}
	return result, nil
}
