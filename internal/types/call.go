package types

import "time"

// CallRecord is one call currently tracked by the registry.
// A record exists only while its phase is not ended.
type CallRecord struct {
	CallID      string     `json:"callId"`
	Direction   Direction  `json:"direction"`
	Phase       Phase      `json:"phase"`
	AgentID     string     `json:"agentId,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"` // set once, never cleared
}

// Connected reports whether the call ever reached the connected phase
func (c *CallRecord) Connected() bool {
	return c.ConnectedAt != nil
}

// LiveCall is the snapshot view of a CallRecord
type LiveCall struct {
	CallID    string    `json:"callId"`
	Direction Direction `json:"direction"`
	AgentID   string    `json:"agentId"`
	StartedAt time.Time `json:"startedAt"`
	Phase     Phase     `json:"phase"`
}
