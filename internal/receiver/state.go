package receiver

import (
	"errors"
	"fmt"
)

var ErrStateOrder = errors.New("receiver: invalid state transition")

// FlowState is one step of the connection/channel lifecycle.
type FlowState string

const (
	StateListening       FlowState = "listening"
	StateHandshaking     FlowState = "handshaking"
	StateAwaitingChannel FlowState = "awaiting_channel"
	StateAwaitingHeader  FlowState = "awaiting_header"
	StateAwaitingBody    FlowState = "awaiting_body"
	StateDecoded         FlowState = "decoded"
	StateClosed          FlowState = "closed"
)

var stateOrder = []FlowState{
	StateListening,
	StateHandshaking,
	StateAwaitingChannel,
	StateAwaitingHeader,
	StateAwaitingBody,
	StateDecoded,
	StateClosed,
}

func (s FlowState) next() (FlowState, bool) {
	for i, st := range stateOrder {
		if st == s && i+1 < len(stateOrder) {
			return stateOrder[i+1], true
		}
	}
	return "", false
}

// Tracker walks the lifecycle forward one step at a time. The only other
// edge is to StateClosed from any state that is not already closed. A
// Tracker is owned by a single goroutine.
type Tracker struct {
	state   FlowState
	history []FlowState
}

func NewTracker() *Tracker {
	return &Tracker{
		state:   StateListening,
		history: []FlowState{StateListening},
	}
}

// Fork starts an independent tracker at the current state; each accepted
// channel forks the connection tracker at StateAwaitingChannel.
func (t *Tracker) Fork() *Tracker {
	history := make([]FlowState, len(t.history))
	copy(history, t.history)
	return &Tracker{state: t.state, history: history}
}

func (t *Tracker) Advance(to FlowState) error {
	if t.state == StateClosed {
		return transitionError(t.state, to)
	}
	if next, ok := t.state.next(); (ok && next == to) || to == StateClosed {
		t.state = to
		t.history = append(t.history, to)
		return nil
	}
	return transitionError(t.state, to)
}

func (t *Tracker) State() FlowState {
	return t.state
}

// Reached is the last state before StateClosed.
func (t *Tracker) Reached() FlowState {
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i] != StateClosed {
			return t.history[i]
		}
	}
	return StateListening
}

func (t *Tracker) History() []FlowState {
	out := make([]FlowState, len(t.history))
	copy(out, t.history)
	return out
}

func transitionError(from, to FlowState) error {
	return fmt.Errorf("%w: %s -> %s", ErrStateOrder, from, to)
}
