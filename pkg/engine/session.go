package engine

import (
	"context"
	"time"
)

// Session is the call surface the engine drives. Implementations live in
// the call package; tests use an in-memory fake.
type Session interface {
	// ID 会话标识
	ID() string
	// Remote 对端号码
	Remote() string
	// Context is cancelled when the primary leg ends.
	Context() context.Context
	// Speak blocks until text is played or the leg ends.
	Speak(ctx context.Context, text string, cache bool) error
	// PlayAudio starts a sound file and returns immediately.
	PlayAudio(ctx context.Context, path string, loop bool) error
	StopAudio()
	// Digits delivers keypad presses.
	Digits() <-chan string
	// Utterances delivers transcribed caller speech.
	Utterances() <-chan string
	// FlushInput drops buffered digits and utterances.
	FlushInput()
	// Forward dials number and bridges it on answer. It reports false when
	// the target did not answer within timeout.
	Forward(ctx context.Context, number string, timeout time.Duration) (bool, error)
	// HangUp ends the paired leg only, or both legs.
	HangUp(ctx context.Context, pairedOnly bool) error
}
