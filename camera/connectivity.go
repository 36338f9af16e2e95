package camera

import (
	"context"
	"errors"
	"strings"

	"github.com/looplab/fsm"
)

// Connectivity is the transport-level state of a vacuum
type Connectivity string

const (
	ConnDisconnected Connectivity = "disconnected"
	ConnConnecting   Connectivity = "connecting"
	ConnReady        Connectivity = "ready"
)

// ParseConnectivity maps a connectivity payload onto a state. Homie style
// values are folded in: "init" is connecting and "lost" is disconnected.
func ParseConnectivity(payload string) (Connectivity, bool) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "ready":
		return ConnReady, true
	case "connecting", "init":
		return ConnConnecting, true
	case "disconnected", "lost":
		return ConnDisconnected, true
	}
	return "", false
}

// connectivityMachine wraps the disconnected/connecting/ready state machine.
// Events are named after their destination state.
type connectivityMachine struct {
	*fsm.FSM
}

func newConnectivityMachine(onEnter func(from, to Connectivity)) *connectivityMachine {
	all := []string{string(ConnDisconnected), string(ConnConnecting), string(ConnReady)}
	events := fsm.Events{
		{Name: string(ConnConnecting), Src: all, Dst: string(ConnConnecting)},
		{Name: string(ConnReady), Src: all, Dst: string(ConnReady)},
		{Name: string(ConnDisconnected), Src: all, Dst: string(ConnDisconnected)},
	}
	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			if onEnter != nil {
				onEnter(Connectivity(e.Src), Connectivity(e.Dst))
			}
		},
	}
	return &connectivityMachine{FSM: fsm.NewFSM(string(ConnDisconnected), events, callbacks)}
}

// State returns the current connectivity
func (m *connectivityMachine) State() Connectivity {
	return Connectivity(m.Current())
}

// Transition moves to the target state. Repeating the current state is not an error.
func (m *connectivityMachine) Transition(ctx context.Context, to Connectivity) error {
	err := m.Event(ctx, string(to))
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return err
}
