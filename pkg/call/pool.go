package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/engine"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PoolConfig 线路池配置
type PoolConfig struct {
	NumLines    int
	Engine      engine.Options
	Registry    engine.Registry // defaults to engine.Hooks
	CacheSize   int
	CacheDir    string
	VAD         audio.VADConfig
	RingTimeout time.Duration
	ForwardWait time.Duration // how long a paired call may outlive its conversation
}

// Result describes one finished call.
type Result struct {
	Line         int
	CallID       string
	Number       string
	Direction    Direction
	Conversation string
	Answered     bool
	Outcome      engine.Outcome
	Information  map[string]string
	Transcript   []engine.Entry
	StartTime    time.Time
	AnswerTime   time.Time
	EndTime      time.Time
}

// LineInfo is a snapshot of one line.
type LineInfo struct {
	Line      int       `json:"line"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	CallID    string    `json:"callId,omitempty"`
	Number    string    `json:"number,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// Pool multiplexes calls for one telephony identity over a fixed set of
// lines. A line is busy for exactly as long as a conversation is bound to
// it.
type Pool struct {
	cfg       PoolConfig
	transport Transport
	gateway   llm.Gateway
	cache     *AudioCache
	sessions  []*Session

	mu        sync.Mutex
	idle      []*Session
	model     *conversation.Model
	listening bool
	calls     sync.WaitGroup

	subMu    sync.RWMutex
	subs     map[int]func(Event)
	nextSub  int
	onResult []func(Result)
}

func NewPool(transport Transport, gateway llm.Gateway, cfg PoolConfig) (*Pool, error) {
	if cfg.NumLines < 1 {
		return nil, fmt.Errorf("pool needs at least one line, got %d", cfg.NumLines)
	}
	if cfg.Registry == nil {
		cfg.Registry = engine.Hooks
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 30 * time.Second
	}
	if cfg.ForwardWait <= 0 {
		cfg.ForwardWait = 30 * time.Minute
	}
	cache, err := NewAudioCache(cfg.CacheSize, cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:       cfg,
		transport: transport,
		gateway:   gateway,
		cache:     cache,
		subs:      make(map[int]func(Event)),
	}
	for i := 1; i <= cfg.NumLines; i++ {
		s := NewSession(SessionConfig{
			Line:      i,
			Transport: transport,
			Gateway:   gateway,
			Cache:     cache,
			VAD:       cfg.VAD,
			Notify:    p.publish,
		})
		p.sessions = append(p.sessions, s)
		p.idle = append(p.idle, s)
	}
	transport.SetIncomingHandler(p.accept)
	return p, nil
}

// Subscribe registers fn for line events and returns a function removing it.
// fn runs on the goroutine changing the line and must not block.
func (p *Pool) Subscribe(fn func(Event)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Pool) publish(ev Event) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	for _, fn := range p.subs {
		fn(ev)
	}
}

// OnResult registers fn to receive every finished call.
func (p *Pool) OnResult(fn func(Result)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.onResult = append(p.onResult, fn)
}

func (p *Pool) emitResult(r Result) {
	p.subMu.RLock()
	fns := slices.Clone(p.onResult)
	p.subMu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

// StartListening binds model and begins accepting inbound calls.
func (p *Pool) StartListening(ctx context.Context, model *conversation.Model) error {
	if _, err := engine.Bind(model, p.cfg.Registry); err != nil {
		return err
	}
	p.mu.Lock()
	p.model = model
	p.listening = true
	p.mu.Unlock()

	if err := p.transport.Register(ctx); err != nil {
		p.mu.Lock()
		p.listening = false
		p.mu.Unlock()
		return fmt.Errorf("register: %w", err)
	}
	logger.Info("session pool listening",
		zap.String("conversation", model.Title),
		zap.Int("lines", len(p.sessions)))
	return nil
}

// StopListening stops accepting calls, hangs up every busy line, waits for
// their conversations to finish and deregisters.
func (p *Pool) StopListening(ctx context.Context) error {
	p.mu.Lock()
	p.listening = false
	busy := p.busyLocked()
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range busy {
		g.Go(func() error {
			return s.HangUp(gctx, false)
		})
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		p.calls.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	if uerr := p.transport.Unregister(ctx); uerr != nil {
		err = errors.Join(err, fmt.Errorf("unregister: %w", uerr))
	}
	logger.Info("session pool stopped", zap.Int("hung_up", len(busy)))
	return err
}

func (p *Pool) busyLocked() []*Session {
	idle := make(map[*Session]bool, len(p.idle))
	for _, s := range p.idle {
		idle[s] = true
	}
	var busy []*Session
	for _, s := range p.sessions {
		if !idle[s] {
			busy = append(busy, s)
		}
	}
	return busy
}

// claimLocked takes the lowest idle line.
func (p *Pool) claimLocked() *Session {
	if len(p.idle) == 0 {
		return nil
	}
	s := p.idle[0]
	p.idle = p.idle[1:]
	return s
}

func (p *Pool) release(s *Session) {
	if s.InCall() {
		if err := s.HangUp(context.Background(), false); err != nil {
			logger.Warn("hangup on release failed", zap.String("line", s.ID()), zap.Error(err))
		}
	}
	if err := s.Reset(); err != nil {
		logger.Error("line not reset", zap.String("line", s.ID()), zap.Error(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i := 0
	for i < len(p.idle) && p.idle[i].line < s.line {
		i++
	}
	p.idle = append(p.idle, nil)
	copy(p.idle[i+1:], p.idle[i:])
	p.idle[i] = s
}

func (p *Pool) accept(leg Leg) error {
	p.mu.Lock()
	if !p.listening {
		p.mu.Unlock()
		return ErrNotListening
	}
	s := p.claimLocked()
	model := p.model
	if s == nil {
		p.mu.Unlock()
		logger.Warn("rejecting inbound call, all lines busy", zap.String("from", leg.Remote()))
		return ErrNoIdleLine
	}
	p.calls.Add(1)
	p.mu.Unlock()

	if err := s.accept(leg); err != nil {
		p.calls.Done()
		p.release(s)
		return err
	}
	logger.Info("inbound call",
		zap.String("line", s.ID()),
		zap.String("from", leg.Remote()),
		zap.String("call_id", leg.ID()))

	go func() {
		defer p.calls.Done()
		defer p.release(s)
		answered, err := s.AwaitRingResolution(context.Background(), p.cfg.RingTimeout)
		if err != nil || !answered {
			return
		}
		p.converse(context.Background(), s, model)
	}()
	return nil
}

// Dial places an outbound call on an idle line and runs model once the
// callee answers. A nil model uses the listening model.
func (p *Pool) Dial(ctx context.Context, number string, model *conversation.Model) (Result, error) {
	if !ValidNumber(number) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	p.mu.Lock()
	if model == nil {
		model = p.model
	}
	p.mu.Unlock()
	if model == nil {
		return Result{}, errors.New("no conversation model")
	}
	if _, err := engine.Bind(model, p.cfg.Registry); err != nil {
		return Result{}, err
	}

	p.mu.Lock()
	s := p.claimLocked()
	if s == nil {
		p.mu.Unlock()
		return Result{}, ErrNoIdleLine
	}
	p.calls.Add(1)
	p.mu.Unlock()
	defer p.calls.Done()
	defer p.release(s)

	result := Result{Line: s.Line(), Number: number, Direction: DirectionOutbound, Conversation: model.Title, StartTime: time.Now()}
	if err := s.Place(ctx, number); err != nil {
		result.EndTime = time.Now()
		return result, err
	}
	result.CallID = s.CallID()
	answered, err := s.AwaitRingResolution(ctx, p.cfg.RingTimeout)
	if err != nil || !answered {
		result.EndTime = time.Now()
		p.emitResult(result)
		return result, err
	}
	return p.converse(ctx, s, model), nil
}

// converse runs one conversation on an answered line and hangs up after.
func (p *Pool) converse(ctx context.Context, s *Session, model *conversation.Model) Result {
	start, answer := s.Times()
	result := Result{
		Line:         s.Line(),
		CallID:       s.CallID(),
		Number:       s.Remote(),
		Direction:    s.Direction(),
		Conversation: model.Title,
		Answered:     true,
		StartTime:    start,
		AnswerTime:   answer,
	}

	e, err := engine.New(model, p.gateway, s, p.cfg.Registry, p.cfg.Engine)
	if err != nil {
		logger.Error("conversation not started", zap.String("line", s.ID()), zap.Error(err))
		result.Outcome = engine.Outcome{Status: engine.StatusFailed, Kind: engine.KindConfig, Err: err}
	} else {
		result.Outcome = e.Run(ctx)
		result.Information = e.State().Values()
		result.Transcript = e.Transcript().Entries()

		if s.State() == StatePaired {
			logger.Info("waiting for forwarded call", zap.String("line", s.ID()))
			s.WaitUnpaired(ctx, p.cfg.ForwardWait)
		}
	}

	if s.InCall() {
		if err := s.HangUp(context.WithoutCancel(ctx), false); err != nil {
			logger.Warn("hangup failed", zap.String("line", s.ID()), zap.Error(err))
		}
	}
	result.EndTime = time.Now()
	p.emitResult(result)
	return result
}

// Lines returns a snapshot of every line.
func (p *Pool) Lines() []LineInfo {
	out := make([]LineInfo, 0, len(p.sessions))
	for _, s := range p.sessions {
		s.mu.Lock()
		out = append(out, LineInfo{
			Line:      s.line,
			Name:      s.name,
			State:     s.state.String(),
			CallID:    s.callID,
			Number:    s.number,
			Direction: s.direction,
		})
		s.mu.Unlock()
	}
	return out
}

// Busy returns the number of claimed lines.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions) - len(p.idle)
}

func (p *Pool) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listening
}

// Model returns the model bound by StartListening.
func (p *Pool) Model() *conversation.Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}
