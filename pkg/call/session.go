package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

var endedCtx = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Session 单条线路的呼叫状态机
//
// A session owns at most one primary and one paired leg. Every goroutine
// it starts for a call is stopped and waited for before the line can be
// reused.
type Session struct {
	line      int
	name      string
	transport Transport
	gateway   llm.Gateway
	cache     *AudioCache
	vad       audio.VADConfig
	notify    func(Event)

	mu         sync.Mutex
	state      State
	callID     string
	number     string
	direction  Direction
	primary    Leg
	paired     Leg
	unpaired   chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	digits     chan string
	utterances chan string
	player     *player
	listening  bool
	startTime  time.Time
	answerTime time.Time

	// per call; drained is closed once workers has been waited for
	workers *sync.WaitGroup
	drained chan struct{}
}

// SessionConfig 会话依赖
type SessionConfig struct {
	Line      int
	Transport Transport
	Gateway   llm.Gateway
	Cache     *AudioCache
	VAD       audio.VADConfig
	Notify    func(Event)
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Cache == nil {
		cfg.Cache, _ = NewAudioCache(64, "")
	}
	return &Session{
		line:      cfg.Line,
		name:      fmt.Sprintf("line-%d", cfg.Line),
		transport: cfg.Transport,
		gateway:   cfg.Gateway,
		cache:     cfg.Cache,
		vad:       cfg.VAD,
		notify:    cfg.Notify,
	}
}

func (s *Session) Line() int { return s.line }

// ID returns the line name.
func (s *Session) ID() string { return s.name }

func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Remote returns the caller or callee number of the current call.
func (s *Session) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.number
}

func (s *Session) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InCall reports whether a primary leg is attached.
func (s *Session) InCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary != nil
}

// Context is cancelled when the primary leg ends.
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return endedCtx
	}
	return s.ctx
}

func (s *Session) Digits() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digits
}

func (s *Session) Utterances() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utterances
}

// Times returns when the current call started and was answered.
func (s *Session) Times() (start, answer time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime, s.answerTime
}

// setState must be called with mu held.
func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	prev := s.state
	s.state = st
	logger.Debug("line state changed",
		zap.String("line", s.name),
		zap.String("call_id", s.callID),
		zap.String("from", prev.String()),
		zap.String("to", st.String()))
	if s.notify != nil {
		s.notify(Event{
			Line:      s.line,
			Name:      s.name,
			State:     st.String(),
			CallID:    s.callID,
			Number:    s.number,
			Direction: s.direction,
			Time:      time.Now(),
		})
	}
}

// attach binds leg as the primary leg. mu must not be held.
func (s *Session) attach(leg Leg, st State) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.primary = leg
	s.callID = leg.ID()
	s.ctx = ctx
	s.cancel = cancel
	s.digits = make(chan string, 16)
	s.utterances = make(chan string, 8)
	s.startTime = time.Now()
	s.answerTime = time.Time{}
	s.workers = &sync.WaitGroup{}
	s.drained = make(chan struct{})
	s.setState(st)
	s.mu.Unlock()

	go s.watchPrimary(leg)
}

func (s *Session) watchPrimary(leg Leg) {
	ringing := leg.Ringing()
	for {
		select {
		case <-ringing:
			ringing = nil
			s.mu.Lock()
			if s.primary == leg && s.state == StateDialing {
				s.setState(StateRinging)
			}
			s.mu.Unlock()
		case <-leg.Done():
			if s.release(leg, StateEnded) {
				logger.Info("remote hung up", zap.String("line", s.name), zap.String("call_id", leg.ID()))
			}
			return
		}
	}
}

// Place dials number on this idle line.
func (s *Session) Place(ctx context.Context, number string) error {
	if !ValidNumber(number) {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrLineBusy
	}
	s.number = number
	s.direction = DirectionOutbound
	s.setState(StateDialing)
	s.mu.Unlock()

	logger.Info("placing call", zap.String("line", s.name), zap.String("number", number))
	leg, err := s.transport.Dial(ctx, number)
	if err != nil {
		s.mu.Lock()
		s.setState(StateIdle)
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrDialFailed, number, err)
	}
	s.attach(leg, StateDialing)
	return nil
}

// accept binds an inbound leg that is waiting for the answer.
func (s *Session) accept(leg Leg) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrLineBusy
	}
	s.number = leg.Remote()
	s.direction = DirectionInbound
	s.mu.Unlock()
	s.attach(leg, StateRinging)
	return nil
}

// AwaitRingResolution blocks until the call is answered, rejected or the
// timeout elapses. Only an answer reports true; a timeout is not an error.
func (s *Session) AwaitRingResolution(ctx context.Context, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	leg, st := s.primary, s.state
	s.mu.Unlock()
	if leg == nil {
		return false, ErrNotActive
	}
	if st.Live() {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-leg.Answered():
		return s.activate(leg), nil
	case <-leg.Done():
		s.release(leg, StateIdle)
		s.awaitDrain()
		s.settleIdle()
		logger.Info("call not answered", zap.String("line", s.name), zap.String("call_id", leg.ID()))
		return false, nil
	case <-timer.C:
		logger.Info("ring timeout", zap.String("line", s.name), zap.String("call_id", leg.ID()), zap.Duration("timeout", timeout))
		s.abandon(leg)
		return false, nil
	case <-ctx.Done():
		s.abandon(leg)
		return false, ctx.Err()
	}
}

func (s *Session) abandon(leg Leg) {
	if err := leg.HangUp(context.Background()); err != nil {
		logger.Warn("failed to cancel leg", zap.String("line", s.name), zap.Error(err))
	}
	s.release(leg, StateIdle)
	s.awaitDrain()
	s.settleIdle()
}

// settleIdle returns an ended line without legs to idle.
func (s *Session) settleIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primary == nil && s.state == StateEnded {
		s.setState(StateIdle)
	}
}

func (s *Session) activate(leg Leg) bool {
	s.mu.Lock()
	if s.primary != leg || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.answerTime = time.Now()
	s.setState(StateActive)
	s.mu.Unlock()

	logger.Info("call answered", zap.String("line", s.name), zap.String("call_id", leg.ID()))
	s.Listen()
	return true
}

// Listen starts keypad and speech listeners on the primary leg. They run
// independently of playback and stop when the leg ends.
func (s *Session) Listen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening || s.primary == nil || !s.state.Live() {
		return
	}
	s.listening = true
	wg := s.workers
	wg.Add(3)
	jobs := make(chan []int16, 4)
	go s.readDigits(s.ctx, wg, s.primary, s.digits)
	go s.readAudio(s.ctx, wg, s.primary, jobs)
	go s.transcribe(s.ctx, wg, jobs, s.utterances)
}

func (s *Session) readDigits(ctx context.Context, wg *sync.WaitGroup, leg Leg, out chan<- string) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-leg.Digits():
			if !ok {
				return
			}
			logger.Info("dtmf received", zap.String("line", s.name), zap.String("digit", d))
			select {
			case out <- d:
			default:
				logger.Warn("dtmf buffer full, dropping digit", zap.String("line", s.name), zap.String("digit", d))
			}
		}
	}
}

// readAudio segments caller audio into utterances. While paired, frames go
// straight to the paired leg instead.
func (s *Session) readAudio(ctx context.Context, wg *sync.WaitGroup, leg Leg, jobs chan<- []int16) {
	defer wg.Done()
	defer close(jobs)
	seg := audio.NewSegmenter(s.vad)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-leg.Frames():
			if !ok {
				return
			}
			if paired := s.pairedLeg(); paired != nil {
				seg.Reset()
				if err := paired.WriteFrame(ctx, frame); err != nil {
					logger.Debug("bridge write failed", zap.String("line", s.name), zap.Error(err))
				}
				continue
			}
			utterance, done := seg.Push(frame)
			if !done {
				continue
			}
			select {
			case jobs <- utterance:
			default:
				logger.Warn("transcription backlog full, dropping utterance", zap.String("line", s.name))
			}
		}
	}
}

func (s *Session) transcribe(ctx context.Context, wg *sync.WaitGroup, jobs <-chan []int16, out chan<- string) {
	defer wg.Done()
	for samples := range jobs {
		text, err := s.gateway.Transcribe(ctx, samples)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("transcription failed", zap.String("line", s.name), zap.Error(err))
			}
			continue
		}
		if text == "" {
			continue
		}
		logger.Info("caller said", zap.String("line", s.name), zap.String("text", text))
		select {
		case out <- text:
		default:
			logger.Warn("utterance buffer full, dropping", zap.String("line", s.name), zap.String("text", text))
		}
	}
}

// FlushInput drops buffered digits and utterances.
func (s *Session) FlushInput() {
	s.mu.Lock()
	digits, utterances := s.digits, s.utterances
	s.mu.Unlock()
	for {
		select {
		case <-digits:
		case <-utterances:
		default:
			return
		}
	}
}

func (s *Session) primaryLeg() Leg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

func (s *Session) pairedLeg() Leg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paired
}

// HangUp ends the paired leg and, unless pairedOnly, the primary leg too.
// A fully hung up line is idle again.
func (s *Session) HangUp(ctx context.Context, pairedOnly bool) error {
	s.mu.Lock()
	paired := s.paired
	s.clearPaired()
	s.mu.Unlock()

	var errs []error
	if paired != nil {
		logger.Info("hanging up paired leg", zap.String("line", s.name), zap.String("call_id", paired.ID()))
		if err := paired.HangUp(ctx); err != nil {
			errs = append(errs, fmt.Errorf("paired leg: %w", err))
		}
	}
	if pairedOnly {
		return errors.Join(errs...)
	}

	leg := s.primaryLeg()
	if leg != nil {
		logger.Info("hanging up", zap.String("line", s.name), zap.String("call_id", leg.ID()))
		if err := leg.HangUp(ctx); err != nil {
			errs = append(errs, fmt.Errorf("primary leg: %w", err))
		}
		s.release(leg, StateIdle)
	}
	s.awaitDrain()
	s.settleIdle()
	return errors.Join(errs...)
}

// clearPaired drops the paired leg. mu must be held.
func (s *Session) clearPaired() {
	if s.paired == nil {
		return
	}
	s.paired = nil
	if s.unpaired != nil {
		close(s.unpaired)
		s.unpaired = nil
	}
	if s.state == StatePaired {
		s.setState(StateActive)
	}
}

// release detaches leg and waits for every call goroutine to stop. It
// reports false when leg is no longer the primary leg.
func (s *Session) release(leg Leg, final State) bool {
	s.mu.Lock()
	if s.primary != leg {
		s.mu.Unlock()
		return false
	}
	p := s.player
	s.player = nil
	paired := s.paired
	s.clearPaired()
	if s.cancel != nil {
		s.cancel()
	}
	s.primary = nil
	s.listening = false
	wg, drained := s.workers, s.drained
	s.setState(final)
	s.mu.Unlock()

	if p != nil {
		p.stop()
	}
	if paired != nil {
		if err := paired.HangUp(context.Background()); err != nil {
			logger.Warn("failed to hang up paired leg", zap.String("line", s.name), zap.Error(err))
		}
	}
	wg.Wait()
	close(drained)
	return true
}

// awaitDrain blocks until the goroutines of the last call have stopped.
func (s *Session) awaitDrain() {
	s.mu.Lock()
	drained := s.drained
	s.mu.Unlock()
	if drained != nil {
		<-drained
	}
}

// Reset returns an ended line to idle and forgets the previous call. It
// waits for the previous call's listeners to stop first.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.primary != nil {
		s.mu.Unlock()
		return ErrLineBusy
	}
	s.mu.Unlock()
	s.awaitDrain()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primary != nil {
		return ErrLineBusy
	}
	s.workers = nil
	s.drained = nil
	s.callID = ""
	s.number = ""
	s.direction = ""
	s.digits = nil
	s.utterances = nil
	s.setState(StateIdle)
	return nil
}
