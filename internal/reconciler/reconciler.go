// Package reconciler derives call registry, agent presence and counter
// changes from normalized lifecycle events.
//
// Outcome classification happens exactly once, when a call is closed, and
// depends only on whether the call ever reached the connected phase. The
// in-progress gauge is the only value touched earlier: raised once when a
// record is created, lowered once when it is closed.
package reconciler

import (
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/cache"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithTrustEndHints lets an end event's status hints mark a call as
// connected when no connected event was ever seen for it.
func WithTrustEndHints(trust bool) Option {
	return func(r *Reconciler) { r.trustEndHints = trust }
}

// Reconciler applies lifecycle events to a cache.State.
// It holds no call state itself; callers serialize Apply.
type Reconciler struct {
	logger        zerolog.Logger
	clock         Clock
	trustEndHints bool
}

// New creates a Reconciler.
func New(logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		logger: logger.With().Str("component", "reconciler").Logger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply computes and performs the transition for ev.
func (r *Reconciler) Apply(st *cache.State, ev types.Event) types.Transition {
	now := r.clock()
	t := types.Transition{
		CallID:    ev.CallID,
		Kind:      ev.Kind,
		Direction: ev.Direction,
		AgentID:   ev.AgentID,
		Forced:    ev.Forced,
		At:        now,
	}

	switch ev.Kind {
	case types.KindInit:
		r.applyInit(st, ev, eventTime(ev, now), &t)
	case types.KindConnected:
		r.applyConnected(st, ev, eventTime(ev, now), &t)
	case types.KindEnd:
		r.applyEnd(st, ev, eventTime(ev, now), &t)
	default:
		t.Action = types.ActionIgnored
		r.logger.Debug().
			Str("call_id", ev.CallID).
			Str("raw_kind", ev.RawKind).
			Msg("unknown event kind ignored")
	}

	return t
}

func (r *Reconciler) applyInit(st *cache.State, ev types.Event, at time.Time, t *types.Transition) {
	if rec, ok := st.Calls.Get(ev.CallID); ok {
		r.redelivered(st, rec, ev, t)
		return
	}

	rec := r.create(st, ev, at)
	t.Action = types.ActionCreated
	t.Direction = rec.Direction
	t.AgentID = rec.AgentID

	r.logger.Debug().
		Str("call_id", rec.CallID).
		Str("direction", string(rec.Direction)).
		Str("agent_id", rec.AgentID).
		Msg("call created")
}

func (r *Reconciler) applyConnected(st *cache.State, ev types.Event, at time.Time, t *types.Transition) {
	rec, ok := st.Calls.Get(ev.CallID)
	switch {
	case !ok:
		r.logger.Info().
			Str("call_id", ev.CallID).
			Msg("connected event for unseen call, creating record")
		rec = r.create(st, ev, at)
	case rec.Phase == types.PhaseConnected:
		r.redelivered(st, rec, ev, t)
		return
	default:
		attribute(st, rec, ev.AgentID)
	}

	rec.Phase = types.PhaseConnected
	if rec.ConnectedAt == nil {
		connectedAt := at
		rec.ConnectedAt = &connectedAt
	}

	t.Action = types.ActionConnected
	t.Direction = rec.Direction
	t.AgentID = rec.AgentID

	r.logger.Debug().
		Str("call_id", rec.CallID).
		Str("agent_id", rec.AgentID).
		Msg("call connected")
}

func (r *Reconciler) applyEnd(st *cache.State, ev types.Event, at time.Time, t *types.Transition) {
	rec, ok := st.Calls.Get(ev.CallID)
	if !ok {
		t.Action = types.ActionUnknownCall
		r.logger.Info().
			Str("call_id", ev.CallID).
			Msg("end event for unknown call ignored")
		return
	}

	// The record's agent wins; the end event only fills a gap.
	attached := rec.AgentID != ""
	if !attached && ev.AgentID != "" {
		rec.AgentID = ev.AgentID
	}

	if r.trustEndHints && !rec.Connected() && ev.Hints.SuggestsConnected() {
		connectedAt := at
		rec.ConnectedAt = &connectedAt
		r.logger.Debug().
			Str("call_id", rec.CallID).
			Str("failed_code", ev.Hints.FailedCode).
			Int("duration", ev.Hints.Duration).
			Msg("end hints mark call as connected")
	}

	outcome := classify(rec)

	st.Calls.Remove(rec.CallID)
	st.Counters.CallEnded(rec.Direction, outcome)
	st.Agents.RecordOutcome(rec.AgentID, rec.Direction, outcome)
	if attached {
		st.Agents.Detach(rec.AgentID)
	}

	t.Action = types.ActionEnded
	t.Outcome = outcome
	t.Direction = rec.Direction
	t.AgentID = rec.AgentID

	r.logger.Debug().
		Str("call_id", rec.CallID).
		Str("direction", string(rec.Direction)).
		Str("agent_id", rec.AgentID).
		Str("outcome", string(outcome)).
		Bool("forced", ev.Forced).
		Msg("call ended")
}

// redelivered handles an init or connected that does not move the phase.
// It may still attribute an agent to a call that had none.
func (r *Reconciler) redelivered(st *cache.State, rec *types.CallRecord, ev types.Event, t *types.Transition) {
	t.Direction = rec.Direction
	if attribute(st, rec, ev.AgentID) {
		t.Action = types.ActionAttributed
		t.AgentID = rec.AgentID
		r.logger.Debug().
			Str("call_id", rec.CallID).
			Str("agent_id", rec.AgentID).
			Msg("late agent attribution")
		return
	}

	t.Action = types.ActionDuplicate
	t.AgentID = rec.AgentID
	r.logger.Debug().
		Str("call_id", rec.CallID).
		Str("kind", string(ev.Kind)).
		Str("phase", string(rec.Phase)).
		Msg("duplicate event absorbed")
}

func (r *Reconciler) create(st *cache.State, ev types.Event, at time.Time) *types.CallRecord {
	dir := ev.Direction
	if dir != types.DirectionOutbound {
		dir = types.DirectionInbound
	}

	rec := &types.CallRecord{
		CallID:    ev.CallID,
		Direction: dir,
		Phase:     types.PhaseRinging,
		AgentID:   ev.AgentID,
		StartedAt: at,
	}
	st.Calls.Put(rec)
	st.Counters.CallStarted(dir)
	st.Agents.Attach(rec.AgentID)
	return rec
}

// attribute assigns agentID to a live call that has no agent yet.
func attribute(st *cache.State, rec *types.CallRecord, agentID string) bool {
	if rec.AgentID != "" || agentID == "" {
		return false
	}
	rec.AgentID = agentID
	st.Agents.Attach(agentID)
	return true
}

func classify(rec *types.CallRecord) types.Outcome {
	switch {
	case rec.Connected():
		return types.OutcomeAnswered
	case rec.Direction == types.DirectionOutbound:
		return types.OutcomeCancelled
	default:
		return types.OutcomeMissed
	}
}

// eventTime is the event's own timestamp unless it is missing or in the future.
func eventTime(ev types.Event, now time.Time) time.Time {
	if ev.ObservedAt.IsZero() || ev.ObservedAt.After(now) {
		return now
	}
	return ev.ObservedAt
}
