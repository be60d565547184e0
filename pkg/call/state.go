package call

import (
	"fmt"
	"regexp"
	"time"
)

// State 线路状态
type State int

const (
	StateIdle State = iota
	StateDialing
	StateRinging
	StateActive
	StateForwardRinging
	StatePaired
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateForwardRinging:
		return "forward_ringing"
	case StatePaired:
		return "paired"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether the primary leg is connected.
func (s State) Live() bool {
	return s == StateActive || s == StateForwardRinging || s == StatePaired
}

// Direction 呼叫方向
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Event is published on every line state change.
type Event struct {
	Line      int       `json:"line"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	CallID    string    `json:"callId,omitempty"`
	Number    string    `json:"number,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Time      time.Time `json:"time"`
}

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidNumber reports whether number is E.164 formatted.
func ValidNumber(number string) bool {
	return e164.MatchString(number)
}
