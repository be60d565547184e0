package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/LingByte/LingCall/pkg/llm"
)

type fakeLeg struct {
	id       string
	remote   string
	ringing  chan struct{}
	answered chan struct{}
	done     chan struct{}
	frames   chan []int16
	digits   chan string

	mu      sync.Mutex
	written int
	hungUp  bool

	answerOnce sync.Once
	endOnce    sync.Once
}

func newFakeLeg(id, remote string) *fakeLeg {
	return &fakeLeg{
		id:       id,
		remote:   remote,
		ringing:  make(chan struct{}),
		answered: make(chan struct{}),
		done:     make(chan struct{}),
		frames:   make(chan []int16, 256),
		digits:   make(chan string, 8),
	}
}

func (l *fakeLeg) ID() string                { return l.id }
func (l *fakeLeg) Remote() string            { return l.remote }
func (l *fakeLeg) Ringing() <-chan struct{}  { return l.ringing }
func (l *fakeLeg) Answered() <-chan struct{} { return l.answered }
func (l *fakeLeg) Done() <-chan struct{}     { return l.done }
func (l *fakeLeg) Frames() <-chan []int16    { return l.frames }
func (l *fakeLeg) Digits() <-chan string     { return l.digits }
func (l *fakeLeg) answer()                   { l.answerOnce.Do(func() { close(l.answered) }) }
func (l *fakeLeg) end()                      { l.endOnce.Do(func() { close(l.done) }) }

func (l *fakeLeg) WriteFrame(ctx context.Context, frame []int16) error {
	select {
	case <-l.done:
		return errors.New("leg closed")
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written++
	return nil
}

func (l *fakeLeg) HangUp(ctx context.Context) error {
	l.mu.Lock()
	l.hungUp = true
	l.mu.Unlock()
	l.end()
	return nil
}

func (l *fakeLeg) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

func (l *fakeLeg) WasHungUp() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hungUp
}

type fakeTransport struct {
	mu         sync.Mutex
	handler    IncomingHandler
	registered bool
	autoAnswer map[string]bool
	failDial   map[string]bool
	legs       map[string]*fakeLeg
	dials      int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		autoAnswer: make(map[string]bool),
		failDial:   make(map[string]bool),
		legs:       make(map[string]*fakeLeg),
	}
}

func (t *fakeTransport) Register(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered = true
	return nil
}

func (t *fakeTransport) Unregister(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered = false
	return nil
}

func (t *fakeTransport) Dial(ctx context.Context, number string) (Leg, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failDial[number] {
		return nil, errors.New("503 service unavailable")
	}
	t.dials++
	leg := newFakeLeg(fmt.Sprintf("out-%d", t.dials), number)
	if t.autoAnswer[number] {
		leg.answer()
	}
	t.legs[number] = leg
	return leg, nil
}

func (t *fakeTransport) SetIncomingHandler(h IncomingHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *fakeTransport) Leg(number string) *fakeLeg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.legs[number]
}

func (t *fakeTransport) Registered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

func (t *fakeTransport) Incoming(leg Leg) error {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	return h(leg)
}

type fakeGateway struct {
	mu          sync.Mutex
	synthCalls  int
	samples     int
	transcribed string

	// hold keeps Transcribe running past cancellation until it is closed
	hold     chan struct{}
	inFlight atomic.Int32
}

func (g *fakeGateway) Complete(ctx context.Context, prompt string, transcript []llm.Message) (string, error) {
	return "ok", nil
}

func (g *fakeGateway) Extract(ctx context.Context, description, format string, transcript []llm.Message) (string, error) {
	return "", llm.ErrNotFound
}

func (g *fakeGateway) Validate(ctx context.Context, value, format string) (bool, error) {
	return true, nil
}

func (g *fakeGateway) Classify(ctx context.Context, utterance string, labels []string) (string, error) {
	return "", nil
}

func (g *fakeGateway) Synthesize(ctx context.Context, text string) ([]int16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synthCalls++
	n := g.samples
	if n == 0 {
		n = 320
	}
	return make([]int16, n), nil
}

func (g *fakeGateway) Transcribe(ctx context.Context, samples []int16) (string, error) {
	if g.hold != nil {
		g.inFlight.Add(1)
		defer g.inFlight.Add(-1)
		<-ctx.Done()
		<-g.hold
		return "", ctx.Err()
	}
	return g.transcribed, nil
}

func (g *fakeGateway) SynthCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.synthCalls
}
