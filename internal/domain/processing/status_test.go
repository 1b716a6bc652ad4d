package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateReceived, StateExtracting, true},
		{StateExtracting, StateDeriving, true},
		{StateDeriving, StateIndexing, true},
		{StateIndexing, StateCommitted, true},
		{StateReceived, StateFailed, true},
		{StateIndexing, StateFailed, true},
		{StateFailed, StateExtracting, true}, // retry path
		{StateCommitted, StateFailed, false}, // committed is final
		{StateCommitted, StateExtracting, false},
		{StateReceived, StateIndexing, false}, // no skipping
		{StateDeriving, StateExtracting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StateCommitted.IsTerminal())
	assert.False(t, StateFailed.IsTerminal(), "failed tasks can still be retried")
	assert.False(t, StateReceived.IsTerminal())
}
