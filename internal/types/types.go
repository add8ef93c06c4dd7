package types

import "time"

// Direction is the direction of a call as seen from the call center
type Direction string

const (
	DirectionInbound  Direction = "IN"
	DirectionOutbound Direction = "OUT"
)

// Phase represents the lifecycle phase of a tracked call
type Phase string

const (
	PhaseInitiated Phase = "initiated"
	PhaseRinging   Phase = "ringing"
	PhaseConnected Phase = "connected"
	PhaseEnded     Phase = "ended" // terminal, never stored
)

// EventKind is the canonical lifecycle marker of a webhook event
type EventKind string

const (
	KindInit      EventKind = "init"
	KindConnected EventKind = "connected"
	KindEnd       EventKind = "end"
	KindUnknown   EventKind = "unknown"
)

// Outcome is the final classification of a call, decided once at end
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeAnswered  Outcome = "answered"
	OutcomeMissed    Outcome = "missed"    // inbound, never connected
	OutcomeCancelled Outcome = "cancelled" // outbound, never connected
)

// StatusHints carries upstream status details found on an event.
// They never drive counters on their own.
type StatusHints struct {
	FailedCode string `json:"failedCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Duration   int    `json:"duration,omitempty"` // seconds
}

// IsEmpty reports whether no hint was extracted
func (h StatusHints) IsEmpty() bool {
	return h.FailedCode == "" && h.Reason == "" && h.Duration == 0
}

// SuggestsConnected reports whether the upstream sender says the call was
// connected at some point (success code with a non-zero talk duration)
func (h StatusHints) SuggestsConnected() bool {
	return h.FailedCode == "200" && h.Duration > 0
}

// Event is a normalized call lifecycle event
type Event struct {
	Kind       EventKind   `json:"kind"`
	RawKind    string      `json:"rawKind,omitempty"`
	CallID     string      `json:"callId"`
	Direction  Direction   `json:"direction"`
	AgentID    string      `json:"agentId,omitempty"`
	ObservedAt time.Time   `json:"observedAt"`
	Hints      StatusHints `json:"hints,omitempty"`
	Forced     bool        `json:"forced,omitempty"` // synthesized by the reaper
}

// Action describes what applying an event did to the call registry
type Action string

const (
	ActionCreated     Action = "created"
	ActionConnected   Action = "connected"
	ActionEnded       Action = "ended"
	ActionAttributed  Action = "attributed" // late agent attribution on a live call
	ActionDuplicate   Action = "duplicate"
	ActionUnknownCall Action = "unknown_call"
	ActionIgnored     Action = "ignored"
)

// Transition is the result of applying one event
type Transition struct {
	CallID    string    `json:"callId"`
	Kind      EventKind `json:"kind"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	At        time.Time `json:"at"`
}

// Mutated reports whether the transition changed any state
func (t Transition) Mutated() bool {
	switch t.Action {
	case ActionCreated, ActionConnected, ActionEnded, ActionAttributed:
		return true
	}
	return false
}
