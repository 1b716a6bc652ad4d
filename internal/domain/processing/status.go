// Package processing drives the per-asset background pipeline: a bounded
// worker pool dequeues tasks and walks each asset through extraction,
// derivation, indexing and the final multi-store commit.
package processing

// State is one step of the per-asset task state machine.
type State string

const (
	StateReceived   State = "received"
	StateExtracting State = "extracting"
	StateDeriving   State = "deriving"
	StateIndexing   State = "indexing"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

// validTransitions defines the forward path plus the Failed excursion
// reachable from every non-terminal state.
var validTransitions = map[State][]State{
	StateReceived:   {StateExtracting, StateFailed},
	StateExtracting: {StateDeriving, StateFailed},
	StateDeriving:   {StateIndexing, StateFailed},
	StateIndexing:   {StateCommitted, StateFailed},
	StateCommitted:  {},
	StateFailed:     {StateExtracting}, // retry restarts from extraction
}

// CanTransitionTo checks whether moving from s to target is allowed.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends the task.
func (s State) IsTerminal() bool {
	return s == StateCommitted
}

func (s State) String() string {
	return string(s)
}
