package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/publisher"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type captureSink struct {
	mu       sync.Mutex
	messages [][]byte
}

func (s *captureSink) Broadcast(m []byte) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

func (s *captureSink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.messages...)
}

func sampleSnapshot() types.Snapshot {
	return types.Snapshot{
		Counters: types.CounterSnapshot{
			Incoming:               types.IncomingCounters{InProgress: 1, Missed: 2},
			Outgoing:               types.OutgoingCounters{Answered: 3},
			MissedDroppedAbandoned: 2,
		},
		LiveCalls: []types.LiveCall{{CallID: "c1", Direction: types.DirectionInbound, AgentID: "a1", StartedAt: t0, Phase: types.PhaseRinging}},
		Agents:    []types.AgentRecord{{AgentID: "a1", OnCallNow: true, OutboundAnswered: 3}},
	}
}

func TestEncodeWireFormat(t *testing.T) {
	data, err := Encode(sampleSnapshot(), t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}

	if msg["type"] != "wallboard_snapshot" {
		t.Errorf("unexpected type %v", msg["type"])
	}
	if msg["timestamp"] != "2026-03-02T09:00:00Z" {
		t.Errorf("unexpected timestamp %v", msg["timestamp"])
	}

	counters := msg["counters"].(map[string]any)
	incoming := counters["incoming"].(map[string]any)
	if incoming["inProgress"] != 1.0 || incoming["missed"] != 2.0 {
		t.Errorf("unexpected incoming counters %v", incoming)
	}
	if counters["missedDroppedAbandoned"] != 2.0 {
		t.Errorf("unexpected missedDroppedAbandoned %v", counters["missedDroppedAbandoned"])
	}

	live := msg["liveCalls"].([]any)[0].(map[string]any)
	for _, key := range []string{"callId", "direction", "agentId", "startedAt"} {
		if _, ok := live[key]; !ok {
			t.Errorf("live call missing %s", key)
		}
	}

	agent := msg["agents"].([]any)[0].(map[string]any)
	for _, key := range []string{"agentId", "onCallNow", "inboundAnswered", "inboundMissed", "outboundAnswered", "outboundMissed"} {
		if _, ok := agent[key]; !ok {
			t.Errorf("agent missing %s", key)
		}
	}
}

func TestFanoutSnapshotToAllSinks(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	f := NewFanout([]Sink{a, b}, zerolog.New(&bytes.Buffer{}), WithClock(func() time.Time { return t0 }))

	f.PublishSnapshot(sampleSnapshot())

	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Fatalf("expected one message per sink, got %d and %d", len(a.all()), len(b.all()))
	}
	if !bytes.Equal(a.all()[0], b.all()[0]) {
		t.Error("expected the same encoded payload for every sink")
	}
}

func TestFanoutMirrorsToMQTT(t *testing.T) {
	mock := publisher.NewMockPublisher()
	f := NewFanout(nil, zerolog.New(&bytes.Buffer{}),
		WithPublisher(mock, "callcenter"),
		WithClock(func() time.Time { return t0 }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.PublishSnapshot(sampleSnapshot())
	f.PublishTransition(types.Transition{
		CallID:    "c9",
		Action:    types.ActionEnded,
		Outcome:   types.OutcomeAnswered,
		Direction: types.DirectionOutbound,
		AgentID:   "a1",
		At:        t0,
	})
	// Not a closed call: nothing to mirror.
	f.PublishTransition(types.Transition{CallID: "c10", Action: types.ActionCreated})

	if !mock.WaitForMessages(2, time.Second) {
		t.Fatalf("expected 2 MQTT messages, got %d", len(mock.Messages()))
	}
	time.Sleep(20 * time.Millisecond)

	msgs := mock.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 messages, got %+v", msgs)
	}
	if msgs[0].Topic != "callcenter/snapshot" {
		t.Errorf("unexpected snapshot topic %s", msgs[0].Topic)
	}
	if msgs[1].Topic != "callcenter/calls/c9/answered" {
		t.Errorf("unexpected outcome topic %s", msgs[1].Topic)
	}
	if !msgs[0].Retained {
		t.Error("expected the snapshot to be retained")
	}
	if msgs[1].Retained {
		t.Error("expected per-call outcomes not to be retained")
	}

	var outcome CallOutcome
	if err := json.Unmarshal(msgs[1].Payload, &outcome); err != nil {
		t.Fatalf("invalid outcome payload: %v", err)
	}
	if outcome.CallID != "c9" || outcome.Outcome != types.OutcomeAnswered || outcome.AgentID != "a1" {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestFanoutSurvivesBrokerErrors(t *testing.T) {
	mock := publisher.NewMockPublisher()
	mock.SetError(errors.New("broker down"))
	sink := &captureSink{}
	f := NewFanout([]Sink{sink}, zerolog.New(&bytes.Buffer{}), WithPublisher(mock, "wb"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.PublishSnapshot(sampleSnapshot())
	f.PublishSnapshot(sampleSnapshot())

	if len(sink.all()) != 2 {
		t.Errorf("expected dashboards unaffected by broker errors, got %d", len(sink.all()))
	}
}

func TestFanoutQueueNeverBlocks(t *testing.T) {
	mock := publisher.NewMockPublisher()
	f := NewFanout(nil, zerolog.New(&bytes.Buffer{}), WithPublisher(mock, "wb"))

	// Run is not started, so the queue fills and overflow is dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(f.queue)+5; i++ {
			f.PublishSnapshot(sampleSnapshot())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishSnapshot blocked on a full MQTT queue")
	}
}

type countingSource struct{ n atomic.Int32 }

func (c *countingSource) Republish() { c.n.Add(1) }

func TestRefresherStart(t *testing.T) {
	src := &countingSource{}
	r := NewRefresher(src, 20*time.Millisecond, zerolog.New(&bytes.Buffer{}))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() {
		r.Start(ctx)
		done <- true
	}()

	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop after context cancel")
	}

	if src.n.Load() < 2 {
		t.Errorf("expected several republishes, got %d", src.n.Load())
	}
}
