package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFSM(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		fsm := NewFSM(StateCreated)
		for _, next := range []State{
			StateDiscovering,
			StateScheduling,
			StateProcessing,
			StateAggregating,
			StateDone,
		} {
			assert.NoError(t, fsm.Transition(next))
		}
		assert.Equal(t, StateDone, fsm.Current())
	})

	t.Run("runs never move backwards", func(t *testing.T) {
		fsm := NewFSM(StateProcessing)
		assert.Error(t, fsm.Transition(StateDiscovering))
		assert.Equal(t, StateProcessing, fsm.Current())
	})

	t.Run("empty discovery skips straight to aggregating", func(t *testing.T) {
		fsm := NewFSM(StateDiscovering)
		assert.NoError(t, fsm.Transition(StateAggregating))
	})

	t.Run("done is terminal", func(t *testing.T) {
		fsm := NewFSM(StateDone)
		assert.Error(t, fsm.Transition(StateProcessing))
		assert.Error(t, fsm.Transition(StateError))
	})

	t.Run("failures land in error", func(t *testing.T) {
		fsm := NewFSM(StateScheduling)
		assert.NoError(t, fsm.Transition(StateError))
	})
}
