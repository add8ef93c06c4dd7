package cache

import (
	"sort"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
)

type agentEntry struct {
	record types.AgentRecord
	// number of live calls referencing this agent
	liveCalls int
}

// AgentDirectory maintains presence and outcome counters of all agents
// ever referenced by an event. Not safe for concurrent use.
type AgentDirectory struct {
	agents map[string]*agentEntry
}

// NewAgentDirectory creates an empty agent directory
func NewAgentDirectory() *AgentDirectory {
	return &AgentDirectory{
		agents: make(map[string]*agentEntry),
	}
}

// touch returns the entry for agentID, creating it on first reference
func (d *AgentDirectory) touch(agentID string) *agentEntry {
	entry, ok := d.agents[agentID]
	if !ok {
		entry = &agentEntry{record: types.AgentRecord{AgentID: agentID}}
		d.agents[agentID] = entry
	}
	return entry
}

// Attach records that a live call now references agentID
func (d *AgentDirectory) Attach(agentID string) {
	if agentID == "" {
		return
	}
	entry := d.touch(agentID)
	entry.liveCalls++
	entry.record.OnCallNow = true
}

// Detach records that a live call referencing agentID went away
func (d *AgentDirectory) Detach(agentID string) {
	if agentID == "" {
		return
	}
	entry := d.touch(agentID)
	if entry.liveCalls > 0 {
		entry.liveCalls--
	}
	entry.record.OnCallNow = entry.liveCalls > 0
}

// RecordOutcome increments the agent counter matching the call outcome
func (d *AgentDirectory) RecordOutcome(agentID string, dir types.Direction, outcome types.Outcome) {
	if agentID == "" || outcome == types.OutcomeNone {
		return
	}
	rec := &d.touch(agentID).record
	answered := outcome == types.OutcomeAnswered

	switch {
	case dir == types.DirectionOutbound && answered:
		rec.OutboundAnswered++
	case dir == types.DirectionOutbound:
		rec.OutboundMissed++
	case answered:
		rec.InboundAnswered++
	default:
		rec.InboundMissed++
	}
}

// Get returns a copy of the agent's record
func (d *AgentDirectory) Get(agentID string) (types.AgentRecord, bool) {
	entry, ok := d.agents[agentID]
	if !ok {
		return types.AgentRecord{}, false
	}
	return entry.record, true
}

// LiveCalls returns how many live calls reference agentID
func (d *AgentDirectory) LiveCalls(agentID string) int {
	if entry, ok := d.agents[agentID]; ok {
		return entry.liveCalls
	}
	return 0
}

// All returns copies of every agent record ordered by agentID
func (d *AgentDirectory) All() []types.AgentRecord {
	out := make([]types.AgentRecord, 0, len(d.agents))
	for _, entry := range d.agents {
		out = append(out, entry.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Count returns the number of known agents
func (d *AgentDirectory) Count() int {
	return len(d.agents)
}

// ResetCounters zeroes every agent's outcome counters. Presence is kept.
func (d *AgentDirectory) ResetCounters() {
	for _, entry := range d.agents {
		entry.record.InboundAnswered = 0
		entry.record.InboundMissed = 0
		entry.record.OutboundAnswered = 0
		entry.record.OutboundMissed = 0
	}
}
