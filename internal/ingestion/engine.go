package ingestion

import (
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/cache"
	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/dennisdiepolder/monti/wallboard/internal/normalizer"
	"github.com/dennisdiepolder/monti/wallboard/internal/reconciler"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// Engine owns the wallboard state. Every read and write of the state goes
// through one mutex: normalize, reconcile, snapshot and publish happen as a
// single step, so no reader sees a call removed but not yet counted.
type Engine struct {
	mu         sync.Mutex
	state      *cache.State
	normalizer *normalizer.Normalizer
	reconciler *reconciler.Reconciler
	publisher  SnapshotPublisher
	logger     zerolog.Logger
}

// NewEngine creates an Engine with fresh state. A nil publisher discards output.
func NewEngine(n *normalizer.Normalizer, r *reconciler.Reconciler, pub SnapshotPublisher, logger zerolog.Logger) *Engine {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Engine{
		state:      cache.NewState(),
		normalizer: n,
		reconciler: r,
		publisher:  pub,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
}

// SetPublisher replaces the publisher (to avoid circular init)
func (e *Engine) SetPublisher(pub SnapshotPublisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pub == nil {
		pub = NopPublisher{}
	}
	e.publisher = pub
}

// Ingest normalizes a raw record and applies it. Normalization failures are
// logged and counted; the state is left untouched.
func (e *Engine) Ingest(raw map[string]any) (types.Transition, error) {
	ev, err := e.normalizer.Normalize(raw)
	if err != nil {
		metrics.Get().RecordEventDropped(metrics.DropNormalization)
		e.logger.Warn().
			Err(err).
			Str("raw_kind", e.normalizer.EventType(raw)).
			Msg("dropping event that failed normalization")
		return types.Transition{}, fmt.Errorf("ingest: %w", err)
	}
	return e.Apply(ev), nil
}

// Apply runs an already normalized event through the reconciler.
func (e *Engine) Apply(ev types.Event) types.Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	t := e.reconciler.Apply(e.state, ev)
	metrics.Get().RecordTransition(t, time.Since(start))

	if t.Mutated() {
		e.publishLocked(t)
		e.publishSnapshotLocked()
	}
	return t
}

// ReapStale force-ends every call started before now-maxAge and publishes
// one snapshot if anything was reaped. Returns the number of reaped calls.
func (e *Engine) ReapStale(now time.Time, maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	stale := e.state.Calls.StartedBefore(now.Add(-maxAge))
	for _, rec := range stale {
		t := e.reconciler.Apply(e.state, types.Event{
			Kind:       types.KindEnd,
			RawKind:    "reaper",
			CallID:     rec.CallID,
			Direction:  rec.Direction,
			AgentID:    rec.AgentID,
			ObservedAt: now,
			Forced:     true,
		})
		metrics.Get().RecordTransition(t, 0)
		e.publishLocked(t)

		e.logger.Info().
			Str("call_id", rec.CallID).
			Str("direction", string(rec.Direction)).
			Str("agent_id", rec.AgentID).
			Str("outcome", string(t.Outcome)).
			Dur("age", now.Sub(rec.StartedAt)).
			Msg("stale call reaped")
	}

	metrics.Get().RecordSweep(len(stale))
	if len(stale) > 0 {
		e.publishSnapshotLocked()
	}
	return len(stale)
}

// Rollover resets the windowed counters of the aggregate and of every agent.
// In-progress gauges and live calls are kept.
func (e *Engine) Rollover() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Counters.ResetWindow()
	e.state.Agents.ResetCounters()
	metrics.Get().RecordRollover()
	e.publishSnapshotLocked()

	e.logger.Info().Msg("daily counters rolled over")
}

// Snapshot returns a consistent copy of the current state.
func (e *Engine) Snapshot() types.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// Calls returns copies of every live call record, oldest first.
func (e *Engine) Calls() []types.CallRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Calls.All()
}

// Call returns a copy of a live call record.
func (e *Engine) Call(callID string) (types.CallRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.state.Calls.Get(callID)
	if !ok {
		return types.CallRecord{}, false
	}
	return *rec, true
}

// Agent returns a copy of an agent record.
func (e *Engine) Agent(agentID string) (types.AgentRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Agents.Get(agentID)
}

// Republish pushes the current snapshot again, for periodic refreshes.
func (e *Engine) Republish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishSnapshotLocked()
}

func (e *Engine) publishLocked(t types.Transition) {
	if t.Action == types.ActionEnded {
		e.publisher.PublishTransition(t)
	}
}

func (e *Engine) publishSnapshotLocked() {
	snap := e.state.Snapshot()
	metrics.Get().UpdateStateStats(snap)
	e.publisher.PublishSnapshot(snap)
}
