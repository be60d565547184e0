package call

import (
	"errors"
	"fmt"

	"github.com/LingByte/LingCall/pkg/engine"
)

var (
	// ErrInvalidNumber 号码不是 E.164 格式
	ErrInvalidNumber = errors.New("number is not E.164 formatted")
	// ErrLineBusy 线路不空闲
	ErrLineBusy = errors.New("line busy")
	// ErrNoIdleLine 没有空闲线路
	ErrNoIdleLine = errors.New("no idle line")
	// ErrNotListening the pool is not accepting calls
	ErrNotListening = errors.New("pool not listening")
	// ErrNotActive the session has no live primary leg
	ErrNotActive = fmt.Errorf("%w: session not active", engine.ErrTelephony)
	// ErrDialFailed the transport could not originate the call
	ErrDialFailed = fmt.Errorf("%w: dial failed", engine.ErrTelephony)
)
