package callsim

import (
	"math/rand"
	"net/url"
	"strconv"
	"time"
)

// Bitrix telephony event names
const (
	EventInit  = "ONVOXIMPLANTCALLINIT"
	EventStart = "ONVOXIMPLANTCALLSTART"
	EventEnd   = "ONVOXIMPLANTCALLEND"
)

// Step is one webhook delivery, At is relative to the call's creation
type Step struct {
	At   time.Duration
	Form url.Values
}

// Event returns the step's event name
func (s Step) Event() string {
	return s.Form.Get("event")
}

// Call describes the shape of one simulated call before delivery faults
type Call struct {
	ID       string
	Outbound bool
	Answered bool
	AgentID  string
	Ring     time.Duration
	Talk     time.Duration
}

// Faults are per-call delivery fault probabilities in [0,1]
type Faults struct {
	Duplicate  float64 `json:"duplicate"`
	MissingEnd float64 `json:"missingEnd"`
	OutOfOrder float64 `json:"outOfOrder"`
}

// Steps builds the webhook sequence for a call and applies delivery faults.
// The result is ordered by delivery time.
func Steps(c Call, f Faults, token string, rng *rand.Rand) []Step {
	callType := "2"
	if c.Outbound {
		callType = "1"
	}
	base := func(event string) url.Values {
		v := url.Values{
			"event":           {event},
			"data[CALL_ID]":   {c.ID},
			"data[CALL_TYPE]": {callType},
		}
		if token != "" {
			v.Set("auth[application_token]", token)
		}
		return v
	}

	steps := []Step{{At: 0, Form: base(EventInit)}}
	if c.Answered {
		start := base(EventStart)
		start.Set("data[PORTAL_USER_ID]", c.AgentID)
		steps = append(steps, Step{At: c.Ring, Form: start})
	}

	end := base(EventEnd)
	if c.Answered {
		end.Set("data[PORTAL_USER_ID]", c.AgentID)
		end.Set("data[CALL_FAILED_CODE]", "200")
		end.Set("data[CALL_DURATION]", strconv.Itoa(int(c.Talk.Seconds())))
	} else {
		end.Set("data[CALL_FAILED_CODE]", "304")
		end.Set("data[CALL_DURATION]", "0")
	}
	steps = append(steps, Step{At: c.Ring + c.Talk, Form: end})

	if rng.Float64() < f.MissingEnd {
		steps = steps[:len(steps)-1]
	}

	if len(steps) > 1 && rng.Float64() < f.OutOfOrder {
		// deliver a later event before its predecessor
		i := rng.Intn(len(steps) - 1)
		steps[i].Form, steps[i+1].Form = steps[i+1].Form, steps[i].Form
	}

	if rng.Float64() < f.Duplicate {
		src := steps[rng.Intn(len(steps))]
		dup := Step{At: src.At + time.Duration(rng.Intn(500))*time.Millisecond, Form: cloneValues(src.Form)}
		steps = insertByTime(steps, dup)
	}

	return steps
}

func insertByTime(steps []Step, s Step) []Step {
	i := len(steps)
	for i > 0 && steps[i-1].At > s.At {
		i--
	}
	steps = append(steps, Step{})
	copy(steps[i+1:], steps[i:])
	steps[i] = s
	return steps
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
