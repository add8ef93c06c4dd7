package types

import "time"

// IncomingCounters are the inbound direction counters
type IncomingCounters struct {
	InProgress int `json:"inProgress"`
	Answered   int `json:"answered"`
	Missed     int `json:"missed"`
}

// OutgoingCounters are the outbound direction counters
type OutgoingCounters struct {
	InProgress int `json:"inProgress"`
	Answered   int `json:"answered"`
	Cancelled  int `json:"cancelled"`
}

// CounterSnapshot is a copy of the aggregate counters
type CounterSnapshot struct {
	Incoming               IncomingCounters `json:"incoming"`
	Outgoing               OutgoingCounters `json:"outgoing"`
	MissedDroppedAbandoned int              `json:"missedDroppedAbandoned"`
}

// Snapshot is a coherent post-transition view of the whole wallboard state
type Snapshot struct {
	Counters  CounterSnapshot `json:"counters"`
	LiveCalls []LiveCall      `json:"liveCalls"`
	Agents    []AgentRecord   `json:"agents"`
}

// SnapshotMessage is the payload pushed to dashboards
type SnapshotMessage struct {
	Type      string    `json:"type"` // "wallboard_snapshot"
	Timestamp time.Time `json:"timestamp"`
	Snapshot
}

// SnapshotMessageType is the Type value of SnapshotMessage
const SnapshotMessageType = "wallboard_snapshot"
