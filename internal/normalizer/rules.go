package normalizer

import (
	"fmt"
	"os"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"gopkg.in/yaml.v3"
)

// Rules is the data-driven extraction table used by the Normalizer.
// Every path list is probed in order; the first non-empty value wins.
// Paths are dotted ("data.CALL_ID") and matched case-insensitively.
type Rules struct {
	TypeFields     []string            `yaml:"type_fields"`
	KindNames      map[string]string   `yaml:"kind_names"`
	KindMarkers    map[string][]string `yaml:"kind_markers"`
	CallID         []string            `yaml:"call_id"`
	Direction      []string            `yaml:"direction"`
	DirectionCodes map[string]string   `yaml:"direction_codes"`
	AgentID        []string            `yaml:"agent_id"`
	ObservedAt     []string            `yaml:"observed_at"`
	Hints          HintRules           `yaml:"hints"`
}

// HintRules lists where upstream status details live.
type HintRules struct {
	FailedCode []string `yaml:"failed_code"`
	Reason     []string `yaml:"reason"`
	Duration   []string `yaml:"duration"`
}

// DefaultRules covers the Bitrix24 telephony webhooks and the common
// camelCase/snake_case variants seen from other senders.
func DefaultRules() Rules {
	return Rules{
		TypeFields: []string{"event", "type", "eventType", "event_type", "kind"},
		// Exact names win over markers. The external-line events would
		// otherwise resolve by suffix ("START" is connected).
		KindNames: map[string]string{
			"ONEXTERNALCALLSTART":  string(types.KindInit),
			"ONEXTERNALCALLFINISH": string(types.KindEnd),
		},
		KindMarkers: map[string][]string{
			string(types.KindInit): {
				"CALLINIT", "INIT", "RINGING", "RING", "NEWCALL", "CALLRINGING", "INITIATED",
			},
			string(types.KindConnected): {
				"CALLSTART", "START", "ANSWERED", "ANSWER", "CONNECTED", "CALLCONNECTED",
			},
			string(types.KindEnd): {
				"CALLEND", "END", "ENDED", "HANGUP", "HUNGUP", "FINISHED", "COMPLETED",
				"FINISH", "TERMINATED", "DISCONNECTED", "UNANSWERED", "NOANSWER",
				"NOTANSWERED", "NOTANSWER", "MISSED",
			},
		},
		CallID: []string{
			"data.CALL_ID", "data.callId", "data.call_id",
			"CALL_ID", "callId", "call_id", "callID", "call.id",
		},
		Direction: []string{
			"data.CALL_TYPE", "data.direction",
			"direction", "callDirection", "call_direction", "CALL_TYPE", "callType", "call_type",
		},
		// CALL_TYPE codes: 1 outbound, 2 inbound, 3 inbound with redirect, 4 callback.
		DirectionCodes: map[string]string{
			"1": string(types.DirectionOutbound),
			"2": string(types.DirectionInbound),
			"3": string(types.DirectionInbound),
			"4": string(types.DirectionOutbound),
		},
		AgentID: []string{
			"data.PORTAL_USER_ID", "data.USER_ID", "data.agentId",
			"agentId", "agent_id", "userId", "user_id", "agent.id",
		},
		ObservedAt: []string{
			"ts", "timestamp", "observedAt", "observed_at", "eventTime", "event_time",
			"time", "data.CALL_START_DATE",
		},
		Hints: HintRules{
			FailedCode: []string{"data.CALL_FAILED_CODE", "failedCode", "failed_code", "statusCode", "status_code"},
			Reason:     []string{"data.CALL_FAILED_REASON", "reason", "status"},
			Duration:   []string{"data.CALL_DURATION", "duration", "callDuration", "call_duration"},
		},
	}
}

// LoadRules reads a YAML rule file on top of the defaults. Lists present in
// the file replace the default list; kind names, kind markers and direction
// codes merge.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading normalizer rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rule data on top of the defaults.
func ParseRules(data []byte) (Rules, error) {
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parsing normalizer rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) validate() error {
	if len(r.TypeFields) == 0 {
		return fmt.Errorf("type_fields must not be empty")
	}
	if len(r.CallID) == 0 {
		return fmt.Errorf("call_id must list at least one path")
	}
	for kind := range r.KindMarkers {
		if !knownKind(kind) {
			return fmt.Errorf("kind_markers: unknown kind %q", kind)
		}
	}
	for name, kind := range r.KindNames {
		if !knownKind(kind) {
			return fmt.Errorf("kind_names[%s]: unknown kind %q", name, kind)
		}
	}
	for code, dir := range r.DirectionCodes {
		switch types.Direction(dir) {
		case types.DirectionInbound, types.DirectionOutbound:
		default:
			return fmt.Errorf("direction_codes[%s]: must be IN or OUT, got %q", code, dir)
		}
	}
	return nil
}

func knownKind(kind string) bool {
	switch types.EventKind(kind) {
	case types.KindInit, types.KindConnected, types.KindEnd:
		return true
	}
	return false
}
