package types

// AgentRecord tracks presence and cumulative outcome counters for one agent.
// Records are created lazily and never deleted.
type AgentRecord struct {
	AgentID          string `json:"agentId"`
	OnCallNow        bool   `json:"onCallNow"`
	InboundAnswered  int    `json:"inboundAnswered"`
	InboundMissed    int    `json:"inboundMissed"`
	OutboundAnswered int    `json:"outboundAnswered"`
	OutboundMissed   int    `json:"outboundMissed"`
}
