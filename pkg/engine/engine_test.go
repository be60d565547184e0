package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	ctx        context.Context
	cancel     context.CancelFunc
	digits     chan string
	utterances chan string

	mu       sync.Mutex
	spoken   []string
	played   []string
	stopped  int
	hangups  []bool
	speakErr error
	onSpeak  func(s *fakeSession, text string)
}

func newFakeSession() *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{
		ctx:        ctx,
		cancel:     cancel,
		digits:     make(chan string, 8),
		utterances: make(chan string, 8),
	}
}

func (s *fakeSession) ID() string                { return "test-session" }
func (s *fakeSession) Remote() string            { return "+15550100" }
func (s *fakeSession) Context() context.Context  { return s.ctx }
func (s *fakeSession) Digits() <-chan string     { return s.digits }
func (s *fakeSession) Utterances() <-chan string { return s.utterances }
func (s *fakeSession) FlushInput()               {}

func (s *fakeSession) StopAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *fakeSession) Speak(ctx context.Context, text string, cache bool) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	hook := s.onSpeak
	err := s.speakErr
	s.mu.Unlock()
	if hook != nil {
		hook(s, text)
	}
	return err
}

func (s *fakeSession) PlayAudio(ctx context.Context, path string, loop bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, path)
	return nil
}

func (s *fakeSession) Forward(ctx context.Context, number string, timeout time.Duration) (bool, error) {
	return false, nil
}

func (s *fakeSession) HangUp(ctx context.Context, pairedOnly bool) error {
	s.mu.Lock()
	s.hangups = append(s.hangups, pairedOnly)
	s.mu.Unlock()
	if !pairedOnly {
		s.cancel()
	}
	return nil
}

func (s *fakeSession) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type fakeGateway struct {
	mu            sync.Mutex
	complete      func(prompt string) (string, error)
	classify      func(utterance string) (string, error)
	classifyCtx   func(ctx context.Context, utterance string) (string, error)
	extract       func(transcript []llm.Message) (string, error)
	validate      func(value string) (bool, error)
	classifyCalls int
}

func (g *fakeGateway) Complete(ctx context.Context, prompt string, transcript []llm.Message) (string, error) {
	if g.complete == nil {
		return "ok", nil
	}
	return g.complete(prompt)
}

func (g *fakeGateway) Extract(ctx context.Context, description, format string, transcript []llm.Message) (string, error) {
	if g.extract == nil {
		return "", llm.ErrNotFound
	}
	return g.extract(transcript)
}

func (g *fakeGateway) Validate(ctx context.Context, value, format string) (bool, error) {
	if g.validate == nil {
		return true, nil
	}
	return g.validate(value)
}

func (g *fakeGateway) Classify(ctx context.Context, utterance string, labels []string) (string, error) {
	g.mu.Lock()
	g.classifyCalls++
	g.mu.Unlock()
	if g.classifyCtx != nil {
		return g.classifyCtx(ctx, utterance)
	}
	if g.classify == nil {
		return "", nil
	}
	return g.classify(utterance)
}

func (g *fakeGateway) Synthesize(ctx context.Context, text string) ([]int16, error) {
	return nil, nil
}

func (g *fakeGateway) Transcribe(ctx context.Context, samples []int16) (string, error) {
	return "", nil
}

func (g *fakeGateway) ClassifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.classifyCalls
}

func testOptions() Options {
	return Options{
		MaxJumps:            100,
		ChoiceRetries:       0,
		InformationAttempts: 3,
		InputTimeout:        time.Second,
	}
}

func fruitModel() *conversation.Model {
	return &conversation.Model{
		Title: "Fruit survey",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY: {
				conversation.Choice{
					Choice: "Do you prefer apples or oranges?",
					Options: []conversation.Option{
						{Label: "apples", DialNumber: "1", Items: []conversation.Item{conversation.Read{Text: "Apples are great!"}}},
						{Label: "oranges", DialNumber: "2", Items: []conversation.Item{conversation.Read{Text: "Oranges are great!"}}},
					},
				},
			},
			constants.PATH_ABORTED: {
				conversation.Read{Text: "Sorry to bother you."},
			},
		},
	}
}

func run(t *testing.T, model *conversation.Model, gw llm.Gateway, s Session, reg Registry, opts Options) (*Engine, Outcome) {
	t.Helper()
	if reg == nil {
		reg = NewRegistry()
	}
	e, err := New(model, gw, s, reg, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e, e.Run(ctx)
}

func TestChoiceByVoice(t *testing.T) {
	s := newFakeSession()
	s.utterances <- "I really like apples"
	gw := &fakeGateway{classify: func(u string) (string, error) { return "apples", nil }}

	e, out := run(t, fruitModel(), gw, s, nil, testOptions())

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, []string{"Do you prefer apples or oranges?", "apples", "oranges", "Apples are great!"}, s.Spoken())
	assert.NotContains(t, s.Spoken(), "Sorry to bother you.")
	assert.Equal(t, 1, gw.ClassifyCalls())

	msgs := e.Transcript().Messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs, llm.Message{Role: llm.RoleUser, Content: "I really like apples"})
}

func TestChoiceByDigitSkipsClassification(t *testing.T) {
	model := fruitModel()
	c := model.Paths[constants.PATH_ENTRY][0].(conversation.Choice)
	c.Silent = true
	model.Paths[constants.PATH_ENTRY][0] = c

	s := newFakeSession()
	s.digits <- "2"
	gw := &fakeGateway{}

	_, out := run(t, model, gw, s, nil, testOptions())

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, []string{"Oranges are great!"}, s.Spoken())
	assert.Zero(t, gw.ClassifyCalls())
}

func TestChoiceDigitCancelsPendingClassification(t *testing.T) {
	model := fruitModel()
	c := model.Paths[constants.PATH_ENTRY][0].(conversation.Choice)
	c.Silent = true
	model.Paths[constants.PATH_ENTRY][0] = c

	s := newFakeSession()
	s.utterances <- "apples I think"
	started := make(chan struct{})
	cancelled := make(chan bool, 1)
	gw := &fakeGateway{classifyCtx: func(ctx context.Context, _ string) (string, error) {
		close(started)
		<-ctx.Done()
		cancelled <- true
		return "apples", nil
	}}
	go func() {
		<-started
		s.digits <- "2"
	}()

	_, out := run(t, model, gw, s, nil, testOptions())

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, []string{"Oranges are great!"}, s.Spoken())
	select {
	case ok := <-cancelled:
		assert.True(t, ok)
	default:
		t.Fatal("classification was not cancelled")
	}
}

func TestChoiceRetriesExhaustedEntersAborted(t *testing.T) {
	opts := testOptions()
	opts.ChoiceRetries = 1
	opts.InputTimeout = 20 * time.Millisecond
	s := newFakeSession()

	_, out := run(t, fruitModel(), &fakeGateway{}, s, nil, opts)

	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, []string{
		"Do you prefer apples or oranges?", "apples", "oranges",
		"Do you prefer apples or oranges?", "apples", "oranges",
		"Sorry to bother you.",
	}, s.Spoken())
}

func TestUnmatchedDigitReprompts(t *testing.T) {
	opts := testOptions()
	opts.ChoiceRetries = 1
	s := newFakeSession()
	s.digits <- "9"
	s.digits <- "1"

	_, out := run(t, fruitModel(), &fakeGateway{}, s, nil, opts)

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "Apples are great!", s.Spoken()[len(s.Spoken())-1])
}

func TestUserAbortEntersAbortedOnce(t *testing.T) {
	model := fruitModel()
	model.Paths[constants.PATH_ABORTED] = []conversation.Item{
		conversation.Read{Text: "Sorry to bother you."},
		conversation.Choice{
			Choice: "Should we call again?",
			Silent: true,
			Options: []conversation.Option{
				{Label: "yes"},
				{Label: "no"},
			},
		},
	}
	s := newFakeSession()
	s.utterances <- "stop calling me"
	s.utterances <- "I said stop"
	gw := &fakeGateway{classify: func(string) (string, error) { return "", llm.ErrUserAborted }}

	_, out := run(t, model, gw, s, nil, testOptions())

	assert.Equal(t, StatusAborted, out.Status)
	count := 0
	for _, text := range s.Spoken() {
		if text == "Sorry to bother you." {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, gw.ClassifyCalls())
}

func TestPathToAbortedLatches(t *testing.T) {
	model := fruitModel()
	model.Paths[constants.PATH_ENTRY] = []conversation.Item{
		conversation.Path{Path: constants.PATH_ABORTED},
	}
	model.Paths[constants.PATH_ABORTED] = []conversation.Item{
		conversation.Read{Text: "Sorry to bother you."},
		conversation.Choice{
			Choice: "Should we call again?",
			Silent: true,
			Options: []conversation.Option{
				{Label: "yes"},
				{Label: "no"},
			},
		},
	}
	s := newFakeSession()
	s.utterances <- "stop calling me"
	s.utterances <- "I said stop"
	gw := &fakeGateway{classify: func(string) (string, error) { return "", llm.ErrUserAborted }}

	_, out := run(t, model, gw, s, nil, testOptions())

	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, []string{"Sorry to bother you."}, s.Spoken())
	assert.Equal(t, 1, gw.ClassifyCalls())
}

func TestInformationStored(t *testing.T) {
	model := &conversation.Model{
		Title: "Name",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY: {
				conversation.Information{Title: "name", Description: "first name", Format: "capitalized"},
			},
			constants.PATH_ABORTED: {},
		},
	}
	s := newFakeSession()
	s.utterances <- "I'm Ada"
	gw := &fakeGateway{
		complete: func(string) (string, error) { return "What is your name?", nil },
		extract: func(tr []llm.Message) (string, error) {
			if tr[len(tr)-1].Content == "I'm Ada" {
				return "Ada", nil
			}
			return "", llm.ErrNotFound
		},
	}

	e, out := run(t, model, gw, s, nil, testOptions())

	assert.Equal(t, StatusCompleted, out.Status)
	v, ok := e.State().Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)
	assert.Equal(t, []string{"What is your name?"}, s.Spoken())
}

func TestInformationUnavailableAfterAttempts(t *testing.T) {
	model := &conversation.Model{
		Title: "Name",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY: {
				conversation.Information{Title: "name", Description: "first name", Format: "capitalized"},
				conversation.Read{Text: "Thanks."},
			},
			constants.PATH_ABORTED: {},
		},
	}
	s := newFakeSession()
	for i := 0; i < 3; i++ {
		s.utterances <- "mumble"
	}
	gw := &fakeGateway{
		complete: func(string) (string, error) { return "Your name?", nil },
		extract:  func([]llm.Message) (string, error) { return "Bob", nil },
		validate: func(string) (bool, error) { return false, nil },
	}

	e, out := run(t, model, gw, s, nil, testOptions())

	assert.Equal(t, StatusCompleted, out.Status)
	v, _ := e.State().Get("name")
	assert.Equal(t, constants.DEFAULT_UNAVAILABLE_VALUE, v)
	assert.Equal(t, []string{"Your name?", "Your name?", "Your name?", "Thanks."}, s.Spoken())
}

func TestFunctionSpeaksResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fibonacci", "read_fibonacci", func(ctx context.Context, st *State, s Session) (any, error) {
		return "1, 1, 2, 3, 5", nil
	})
	model := &conversation.Model{
		Title: "Fib",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY:   {conversation.Function{Module: "fibonacci", Function: "read_fibonacci"}},
			constants.PATH_ABORTED: {},
		},
	}
	s := newFakeSession()

	_, out := run(t, model, &fakeGateway{}, s, reg, testOptions())

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, []string{"1, 1, 2, 3, 5"}, s.Spoken())
}

func branchModel(options ...conversation.Option) *conversation.Model {
	return &conversation.Model{
		Title: "Branch",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY: {
				conversation.FunctionChoice{Module: "contacts", Function: "is_known_caller", Options: options},
			},
			constants.PATH_ABORTED: {
				conversation.Read{Text: "Sorry to bother you."},
				conversation.Function{Module: "audit", Function: "record"},
			},
		},
	}
}

func TestFunctionChoiceCanonicalBool(t *testing.T) {
	reg := NewRegistry()
	reg.Register("contacts", "is_known_caller", func(context.Context, *State, Session) (any, error) { return true, nil })
	reg.Register("audit", "record", func(context.Context, *State, Session) (any, error) { return nil, nil })
	model := branchModel(
		conversation.Option{Label: "true", Items: []conversation.Item{conversation.Read{Text: "lower"}}},
		conversation.Option{Label: "True", Items: []conversation.Item{conversation.Read{Text: "upper"}}},
	)
	s := newFakeSession()

	_, out := run(t, model, &fakeGateway{}, s, reg, testOptions())

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, []string{"upper"}, s.Spoken())
}

func TestFunctionChoiceMismatchFails(t *testing.T) {
	audits := 0
	reg := NewRegistry()
	reg.Register("contacts", "is_known_caller", func(context.Context, *State, Session) (any, error) { return 42, nil })
	reg.Register("audit", "record", func(ctx context.Context, st *State, s Session) (any, error) {
		audits++
		st.Set("audited", "yes")
		return "never spoken", nil
	})
	model := branchModel(
		conversation.Option{Label: "True"},
		conversation.Option{Label: "False"},
	)
	s := newFakeSession()

	e, out := run(t, model, &fakeGateway{}, s, reg, testOptions())

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindRuntimeBranch, out.Kind)
	assert.Equal(t, []string{constants.DEFAULT_APOLOGY_TEXT}, s.Spoken())
	assert.Equal(t, []bool{false}, s.hangups)
	assert.Equal(t, 1, audits)
	v, _ := e.State().Get("audited")
	assert.Equal(t, "yes", v)
}

func TestUnknownPathFails(t *testing.T) {
	model := &conversation.Model{
		Title: "Broken",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY:   {conversation.Path{Path: "missing"}},
			constants.PATH_ABORTED: {conversation.Read{Text: "Sorry to bother you."}},
		},
	}
	s := newFakeSession()

	_, out := run(t, model, &fakeGateway{}, s, nil, testOptions())

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindRuntimeBranch, out.Kind)
	assert.Contains(t, out.Err.Error(), "missing")
	assert.Equal(t, []string{constants.DEFAULT_APOLOGY_TEXT}, s.Spoken())
}

func TestHookErrorIsUserHookError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("contacts", "is_known_caller", func(context.Context, *State, Session) (any, error) {
		return nil, errors.New("lookup exploded")
	})
	reg.Register("audit", "record", func(context.Context, *State, Session) (any, error) { return nil, nil })
	s := newFakeSession()

	_, out := run(t, branchModel(conversation.Option{Label: "True"}), &fakeGateway{}, s, reg, testOptions())

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindUserHook, out.Kind)
	assert.ErrorContains(t, out.Err, "lookup exploded")
}

func TestGatewayFailureIsExternalServiceError(t *testing.T) {
	model := &conversation.Model{
		Title: "Prompt",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY:   {conversation.Prompt{Prompt: "Say hi"}},
			constants.PATH_ABORTED: {},
		},
	}
	gw := &fakeGateway{complete: func(string) (string, error) {
		return "", &llm.ServiceError{Op: "complete", Attempts: 3, Err: errors.New("503")}
	}}
	s := newFakeSession()

	_, out := run(t, model, gw, s, nil, testOptions())

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindExternalService, out.Kind)
	assert.Equal(t, []string{constants.DEFAULT_APOLOGY_TEXT}, s.Spoken())
}

func TestHangupRunsAbortedPathMuted(t *testing.T) {
	audits := 0
	reg := NewRegistry()
	reg.Register("audit", "record", func(context.Context, *State, Session) (any, error) {
		audits++
		return "ignored", nil
	})
	model := &conversation.Model{
		Title: "Hangup",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY: {
				conversation.Read{Text: "Hello"},
				conversation.Read{Text: "Are you still there?"},
			},
			constants.PATH_ABORTED: {
				conversation.Read{Text: "Sorry to bother you."},
				conversation.Function{Module: "audit", Function: "record"},
			},
		},
	}
	s := newFakeSession()
	s.onSpeak = func(s *fakeSession, text string) {
		if text == "Hello" {
			s.cancel()
		}
	}

	_, out := run(t, model, &fakeGateway{}, s, reg, testOptions())

	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, []string{"Hello"}, s.Spoken())
	assert.Equal(t, 1, audits)
}

func TestJumpLimit(t *testing.T) {
	model := &conversation.Model{
		Title: "Loop",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY:   {conversation.Path{Path: "loop"}},
			"loop":                 {conversation.Path{Path: "loop"}},
			constants.PATH_ABORTED: {},
		},
	}
	opts := testOptions()
	opts.MaxJumps = 5

	_, out := run(t, model, &fakeGateway{}, newFakeSession(), nil, opts)

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindRuntimeBranch, out.Kind)
}

func TestProcessingAudioWhilePrompting(t *testing.T) {
	model := &conversation.Model{
		Title: "Prompt",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY:   {conversation.Prompt{Prompt: "Say hi"}},
			constants.PATH_ABORTED: {},
		},
	}
	opts := testOptions()
	opts.ProcessingAudio = "sounds/processing.wav"
	s := newFakeSession()
	gw := &fakeGateway{complete: func(string) (string, error) { return "Hi there!", nil }}

	_, out := run(t, model, gw, s, nil, opts)

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, []string{"sounds/processing.wav"}, s.played)
	assert.Equal(t, 1, s.stopped)
	assert.Equal(t, []string{"Hi there!"}, s.Spoken())
}

func TestNewRejectsUnresolvedHook(t *testing.T) {
	model := &conversation.Model{
		Title: "Missing",
		Paths: map[string][]conversation.Item{
			constants.PATH_ENTRY:   {conversation.Function{Module: "nope", Function: "missing"}},
			constants.PATH_ABORTED: {},
		},
	}

	e, err := New(model, &fakeGateway{}, newFakeSession(), NewRegistry(), testOptions())

	assert.Nil(t, e)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindConfig, f.Kind)
	var cfgErr *conversation.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCanonicalString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "None"},
		{true, "True"},
		{false, "False"},
		{3, "3"},
		{int64(-7), "-7"},
		{2.5, "2.5"},
		{"yes", "yes"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanonicalString(c.in), "%v", c.in)
	}
}

func TestStateKeepsInsertionOrder(t *testing.T) {
	st := NewState()
	st.Set("b", "1")
	st.Set("a", "2")
	st.Set("b", "3")

	assert.Equal(t, []string{"b", "a"}, st.Titles())
	assert.Equal(t, map[string]string{"a": "2", "b": "3"}, st.Values())
}
