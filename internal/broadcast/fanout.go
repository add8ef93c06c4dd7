// Package broadcast pushes engine snapshots to dashboards and brokers.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/dennisdiepolder/monti/wallboard/internal/publisher"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// Sink receives encoded snapshot messages. websocket.Hub implements it.
type Sink interface {
	Broadcast(message []byte)
}

// CallOutcome is the payload published for every closed call.
type CallOutcome struct {
	CallID    string          `json:"callId"`
	Direction types.Direction `json:"direction"`
	AgentID   string          `json:"agentId,omitempty"`
	Outcome   types.Outcome   `json:"outcome"`
	Forced    bool            `json:"forced"`
	Timestamp string          `json:"timestamp"`
}

type outbound struct {
	topic   string
	payload []byte
	retain  bool
}

// Fanout implements ingestion.SnapshotPublisher. Snapshots are encoded once
// and handed to every sink; MQTT publishes go through a bounded queue so the
// engine never waits on the broker.
type Fanout struct {
	sinks  []Sink
	pub    publisher.Publisher
	prefix string
	queue  chan outbound
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithPublisher mirrors snapshots and call outcomes to a broker under prefix.
func WithPublisher(pub publisher.Publisher, prefix string) Option {
	return func(f *Fanout) {
		f.pub = pub
		f.prefix = prefix
	}
}

// WithClock sets the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Fanout) { f.now = now }
}

// NewFanout creates a Fanout over the given sinks.
func NewFanout(sinks []Sink, logger zerolog.Logger, opts ...Option) *Fanout {
	f := &Fanout{
		sinks:  sinks,
		queue:  make(chan outbound, 256),
		now:    time.Now,
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Encode renders a snapshot as the dashboard wire message.
func Encode(snap types.Snapshot, at time.Time) ([]byte, error) {
	data, err := json.Marshal(types.SnapshotMessage{
		Type:      types.SnapshotMessageType,
		Timestamp: at.UTC(),
		Snapshot:  snap,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// PublishSnapshot encodes snap and hands it to every sink.
func (f *Fanout) PublishSnapshot(snap types.Snapshot) {
	data, err := Encode(snap, f.now())
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to encode snapshot")
		return
	}

	for _, s := range f.sinks {
		s.Broadcast(data)
	}
	metrics.Get().RecordBroadcast()

	f.logger.Debug().
		Int("live_calls", len(snap.LiveCalls)).
		Int("agents", len(snap.Agents)).
		Int("bytes", len(data)).
		Msg("snapshot broadcasted")

	// Only the snapshot topic is retained; per-call topics are unbounded.
	f.enqueue(outbound{topic: f.prefix + "/snapshot", payload: data, retain: true})
}

// PublishTransition mirrors a closed call to <prefix>/calls/<callId>/<outcome>.
func (f *Fanout) PublishTransition(t types.Transition) {
	if f.pub == nil || t.Action != types.ActionEnded {
		return
	}

	data, err := json.Marshal(CallOutcome{
		CallID:    t.CallID,
		Direction: t.Direction,
		AgentID:   t.AgentID,
		Outcome:   t.Outcome,
		Forced:    t.Forced,
		Timestamp: t.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		f.logger.Error().Err(err).Str("call_id", t.CallID).Msg("failed to encode call outcome")
		return
	}

	f.enqueue(outbound{topic: fmt.Sprintf("%s/calls/%s/%s", f.prefix, t.CallID, t.Outcome), payload: data})
}

func (f *Fanout) enqueue(msg outbound) {
	if f.pub == nil {
		return
	}
	select {
	case f.queue <- msg:
	default:
		metrics.Get().RecordMQTTPublish(fmt.Errorf("queue full"))
		f.logger.Warn().Str("topic", msg.topic).Msg("MQTT queue full, dropping message")
	}
}

// Run publishes queued broker messages until ctx is done.
func (f *Fanout) Run(ctx context.Context) {
	if f.pub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-f.queue:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			var err error
			if msg.retain {
				err = f.pub.PublishRetained(pubCtx, msg.topic, msg.payload)
			} else {
				err = f.pub.Publish(pubCtx, msg.topic, msg.payload)
			}
			cancel()

			metrics.Get().RecordMQTTPublish(err)
			if err != nil {
				f.logger.Warn().Err(err).Str("topic", msg.topic).Msg("MQTT publish failed")
				continue
			}
			f.logger.Debug().Str("topic", msg.topic).Msg("published to MQTT")
		}
	}
}
