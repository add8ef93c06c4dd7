package cache

import "github.com/dennisdiepolder/monti/wallboard/internal/types"

// State is the single aggregate of everything the wallboard tracks.
// None of its parts lock; the owner must serialize every access.
type State struct {
	Calls    *CallRegistry
	Agents   *AgentDirectory
	Counters *Counters
}

// NewState creates an empty wallboard state
func NewState() *State {
	return &State{
		Calls:    NewCallRegistry(),
		Agents:   NewAgentDirectory(),
		Counters: NewCounters(),
	}
}

// Snapshot copies the current state into a serializable view
func (s *State) Snapshot() types.Snapshot {
	return types.Snapshot{
		Counters:  s.Counters.Snapshot(),
		LiveCalls: s.Calls.Live(),
		Agents:    s.Agents.All(),
	}
}
