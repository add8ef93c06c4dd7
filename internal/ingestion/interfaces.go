package ingestion

import "github.com/dennisdiepolder/monti/wallboard/internal/types"

// SnapshotPublisher receives engine output. Both methods are called with the
// engine lock held, so implementations must not block.
type SnapshotPublisher interface {
	// PublishSnapshot is called once after every mutating step.
	PublishSnapshot(snap types.Snapshot)
	// PublishTransition is called for every transition that closed a call.
	PublishTransition(t types.Transition)
}

// Ingester consumes raw webhook records.
type Ingester interface {
	Ingest(raw map[string]any) (types.Transition, error)
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) PublishSnapshot(types.Snapshot)     {}
func (NopPublisher) PublishTransition(types.Transition) {}
