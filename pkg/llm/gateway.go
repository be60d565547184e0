package llm

import (
	"context"
	"errors"
)

var (
	// ErrUserAborted the user indicated they want to end the conversation
	ErrUserAborted = errors.New("user aborted")
	// ErrNotFound the requested information is not in the transcript
	ErrNotFound = errors.New("information not found")
)

const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Message one transcript entry
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Gateway is the language and speech service boundary used by the engine
// and the call sessions.
type Gateway interface {
	// Complete runs prompt as the system instruction over the transcript.
	Complete(ctx context.Context, prompt string, transcript []Message) (string, error)
	// Extract returns the value described by description in format, taken
	// from the latest user message. ErrNotFound or ErrUserAborted otherwise.
	Extract(ctx context.Context, description, format string, transcript []Message) (string, error)
	// Validate reports whether value satisfies format.
	Validate(ctx context.Context, value, format string) (bool, error)
	// Classify maps utterance to one of labels; "" means no label fits.
	// ErrUserAborted when the user wants to stop.
	Classify(ctx context.Context, utterance string, labels []string) (string, error)
	// Synthesize returns 8 kHz mono samples for text.
	Synthesize(ctx context.Context, text string) ([]int16, error)
	// Transcribe returns the text spoken in 8 kHz mono samples.
	Transcribe(ctx context.Context, samples []int16) (string, error)
}
