package engine

import (
	"errors"
	"fmt"
)

// Status terminal status of one conversation run
type Status int

const (
	StatusCompleted Status = iota
	StatusAborted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindConfig          ErrorKind = "ConfigError"
	KindRuntimeBranch   ErrorKind = "RuntimeBranchError"
	KindUserHook        ErrorKind = "UserHookError"
	KindExternalService ErrorKind = "ExternalServiceError"
	KindTelephony       ErrorKind = "TelephonyError"
)

// ErrTelephony is wrapped by sessions when the transport itself fails while
// the leg is still up.
var ErrTelephony = errors.New("telephony failure")

// Failure is the error carried by a failed Outcome.
type Failure struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (f *Failure) Error() string {
	if f.Path != "" {
		return fmt.Sprintf("%s in path %q: %v", f.Kind, f.Path, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func failure(kind ErrorKind, path string, err error) *Failure {
	return &Failure{Kind: kind, Path: path, Err: err}
}

// Outcome is the terminal result of Engine.Run.
type Outcome struct {
	Status Status
	Kind   ErrorKind
	Err    error
}

func (o Outcome) String() string {
	if o.Status == StatusFailed {
		return fmt.Sprintf("failed(%s): %v", o.Kind, o.Err)
	}
	return o.Status.String()
}

func failed(f *Failure) Outcome {
	return Outcome{Status: StatusFailed, Kind: f.Kind, Err: f}
}
