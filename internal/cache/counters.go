package cache

import "github.com/dennisdiepolder/monti/wallboard/internal/types"

// Counters are the direction x outcome aggregates.
// InProgress is a best-effort gauge and never drops below zero.
type Counters struct {
	c types.CounterSnapshot
}

// NewCounters creates zeroed counters
func NewCounters() *Counters {
	return &Counters{}
}

// CallStarted raises the in-progress gauge for dir
func (c *Counters) CallStarted(dir types.Direction) {
	if dir == types.DirectionOutbound {
		c.c.Outgoing.InProgress++
		return
	}
	c.c.Incoming.InProgress++
}

// CallEnded lowers the in-progress gauge for dir and counts the outcome once
func (c *Counters) CallEnded(dir types.Direction, outcome types.Outcome) {
	if dir == types.DirectionOutbound {
		c.c.Outgoing.InProgress = decrement(c.c.Outgoing.InProgress)
		switch outcome {
		case types.OutcomeAnswered:
			c.c.Outgoing.Answered++
		case types.OutcomeCancelled:
			c.c.Outgoing.Cancelled++
		}
		return
	}

	c.c.Incoming.InProgress = decrement(c.c.Incoming.InProgress)
	switch outcome {
	case types.OutcomeAnswered:
		c.c.Incoming.Answered++
	case types.OutcomeMissed:
		c.c.Incoming.Missed++
		c.c.MissedDroppedAbandoned++
	}
}

// Snapshot returns a copy of the counters
func (c *Counters) Snapshot() types.CounterSnapshot {
	return c.c
}

// ResetWindow zeroes the monotonic counters and keeps the gauges
func (c *Counters) ResetWindow() {
	c.c = types.CounterSnapshot{
		Incoming: types.IncomingCounters{InProgress: c.c.Incoming.InProgress},
		Outgoing: types.OutgoingCounters{InProgress: c.c.Outgoing.InProgress},
	}
}

func decrement(v int) int {
	if v <= 0 {
		return 0
	}
	return v - 1
}
