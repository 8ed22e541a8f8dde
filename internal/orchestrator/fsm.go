package orchestrator

import "fmt"

// State of an ingestion run. Runs move strictly forward; a failure at any
// point transitions to error.
type State string

const (
	StateCreated     State = "created"
	StateDiscovering State = "discovering"
	StateScheduling  State = "scheduling"
	StateProcessing  State = "processing"
	StateAggregating State = "aggregating"
	StateDone        State = "done"
	StateError       State = "error"
)

type FSM struct {
	current     State
	Transitions map[State]map[State]struct{}
}

func NewFSM(initial State) *FSM {
	return &FSM{
		current: initial,
		Transitions: map[State]map[State]struct{}{
			StateCreated: {
				StateDiscovering: {},
			},
			StateDiscovering: {
				StateScheduling:  {},
				StateAggregating: {},
				StateError:       {},
			},
			StateScheduling: {
				StateProcessing: {},
				StateError:      {},
			},
			StateProcessing: {
				StateAggregating: {},
				StateError:       {},
			},
			StateAggregating: {
				StateDone:  {},
				StateError: {},
			},
		},
	}
}

func (f *FSM) Current() State {
	return f.current
}

func (f *FSM) CanTransition(to State) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to State) error {
	if !f.CanTransition(to) {
		return fmt.Errorf("invalid transition from %s to %s", f.current, to)
	}
	f.current = to
	return nil
}
