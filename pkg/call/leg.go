package call

import "context"

// Leg is one connected (or connecting) call leg provided by a Transport.
// Channels returned by Ringing, Answered and Done are closed to signal.
type Leg interface {
	ID() string
	Remote() string
	Ringing() <-chan struct{}
	Answered() <-chan struct{}
	Done() <-chan struct{}
	// Frames delivers received 20 ms frames of 8 kHz mono audio.
	Frames() <-chan []int16
	// Digits delivers keypad presses.
	Digits() <-chan string
	// WriteFrame sends one 20 ms frame. Pacing is up to the caller.
	WriteFrame(ctx context.Context, frame []int16) error
	HangUp(ctx context.Context) error
}

// IncomingHandler decides on an inbound leg. A non-nil error rejects the
// call, ErrNoIdleLine as busy.
type IncomingHandler func(leg Leg) error

// Transport places and accepts calls for one telephony identity.
type Transport interface {
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	Dial(ctx context.Context, number string) (Leg, error)
	SetIncomingHandler(h IncomingHandler)
}
