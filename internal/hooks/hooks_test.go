package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/engine"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubSession struct {
	remote    string
	played    string
	loop      bool
	stopped   bool
	forwarded string
	answer    bool
}

func (s *stubSession) ID() string                                { return "line-1" }
func (s *stubSession) Remote() string                            { return s.remote }
func (s *stubSession) Context() context.Context                  { return context.Background() }
func (s *stubSession) Digits() <-chan string                     { return nil }
func (s *stubSession) Utterances() <-chan string                 { return nil }
func (s *stubSession) FlushInput()                               {}
func (s *stubSession) StopAudio()                                { s.stopped = true }
func (s *stubSession) Speak(context.Context, string, bool) error { return nil }

func (s *stubSession) PlayAudio(ctx context.Context, path string, loop bool) error {
	s.played, s.loop = path, loop
	return nil
}

func (s *stubSession) Forward(ctx context.Context, number string, timeout time.Duration) (bool, error) {
	s.forwarded = number
	return s.answer, nil
}

func (s *stubSession) HangUp(context.Context, bool) error { return nil }

func TestFibonacci(t *testing.T) {
	assert.Equal(t, []int{0, 1}, Fibonacci(0))
	assert.Equal(t, []int{0, 1}, Fibonacci(2))
	assert.Equal(t, []int{0, 1, 1, 2, 3, 5, 8}, Fibonacci(7))
}

func TestReadFibonacci(t *testing.T) {
	reg := engine.NewRegistry()
	Register(reg, Deps{})
	hook, ok := reg.Get("fibonacci.read_fibonacci")
	require.True(t, ok)

	state := engine.NewState()
	_, err := hook(context.Background(), state, &stubSession{})
	assert.Error(t, err)

	state.Set("num_fibonacci", " 6 ")
	out, err := hook(context.Background(), state, &stubSession{})
	require.NoError(t, err)
	assert.Equal(t, "0 1 1 2 3 5", out)

	state.Set("num_fibonacci", "six")
	_, err = hook(context.Background(), state, &stubSession{})
	assert.Error(t, err)
}

func TestPlayMusicStopsAfterDuration(t *testing.T) {
	reg := engine.NewRegistry()
	Register(reg, Deps{MusicFile: "music.wav", MusicDuration: 20 * time.Millisecond})
	hook, _ := reg.Get("music.play_music")

	s := &stubSession{}
	_, err := hook(context.Background(), engine.NewState(), s)
	require.NoError(t, err)
	assert.Equal(t, "music.wav", s.played)
	assert.True(t, s.loop)
	assert.True(t, s.stopped)
}

func TestIsKnownCaller(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	require.NoError(t, models.CreateContact(db, &models.Contact{Name: "Ada", PhoneNumber: "+4915112345678"}))

	reg := engine.NewRegistry()
	Register(reg, Deps{DB: db})
	hook, _ := reg.Get("contacts.is_known_caller")

	known, err := hook(context.Background(), engine.NewState(), &stubSession{remote: "+4915112345678"})
	require.NoError(t, err)
	assert.Equal(t, "True", engine.CanonicalString(known))

	unknown, err := hook(context.Background(), engine.NewState(), &stubSession{remote: "+4915100000000"})
	require.NoError(t, err)
	assert.Equal(t, "False", engine.CanonicalString(unknown))
}

func TestOperatorForward(t *testing.T) {
	reg := engine.NewRegistry()
	Register(reg, Deps{OperatorNumber: "+4930123456"})
	hook, _ := reg.Get("operator.forward")

	s := &stubSession{answer: true}
	out, err := hook(context.Background(), engine.NewState(), s)
	require.NoError(t, err)
	assert.Equal(t, true, out)
	assert.Equal(t, "+4930123456", s.forwarded)

	reg = engine.NewRegistry()
	Register(reg, Deps{})
	hook, _ = reg.Get("operator.forward")
	_, err = hook(context.Background(), engine.NewState(), s)
	assert.Error(t, err)
}
