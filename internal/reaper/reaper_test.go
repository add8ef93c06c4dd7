package reaper

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/ingestion"
	"github.com/dennisdiepolder/monti/wallboard/internal/normalizer"
	"github.com/dennisdiepolder/monti/wallboard/internal/reconciler"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

type fakeTarget struct {
	mu        sync.Mutex
	sweeps    []time.Time
	maxAge    time.Duration
	rollovers int
	reap      int
}

func (f *fakeTarget) ReapStale(now time.Time, maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps = append(f.sweeps, now)
	f.maxAge = maxAge
	return f.reap
}

func (f *fakeTarget) Rollover() {
	f.mu.Lock()
	f.rollovers++
	f.mu.Unlock()
}

func (f *fakeTarget) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sweeps)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestNewReaper(t *testing.T) {
	target := &fakeTarget{}
	r := New(target, time.Minute, 30*time.Minute, zerolog.New(&bytes.Buffer{}))

	if r.interval != time.Minute {
		t.Errorf("expected interval 1m, got %v", r.interval)
	}
	if r.maxAge != 30*time.Minute {
		t.Errorf("expected max age 30m, got %v", r.maxAge)
	}
	if r.rolloverLoc != nil {
		t.Error("expected rollover disabled by default")
	}
}

func TestSweepPassesMaxAge(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	target := &fakeTarget{reap: 2}
	r := New(target, time.Minute, 30*time.Minute, zerolog.New(&bytes.Buffer{}), WithClock(c.Now))

	if got := r.Sweep(); got != 2 {
		t.Errorf("expected 2 reaped, got %d", got)
	}
	if !target.sweeps[0].Equal(c.now) || target.maxAge != 30*time.Minute {
		t.Errorf("unexpected sweep args %v %v", target.sweeps, target.maxAge)
	}
	if target.rollovers != 0 {
		t.Error("expected no rollover when disabled")
	}
}

func TestSweepDailyRollover(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 22:30 UTC on March 2 is 23:30 in Berlin.
	c := &clock{now: time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC)}
	target := &fakeTarget{}
	r := New(target, time.Minute, 30*time.Minute, zerolog.New(&bytes.Buffer{}),
		WithClock(c.Now), WithDailyRollover(berlin))

	r.Sweep()
	if target.rollovers != 0 {
		t.Fatal("expected no rollover on the same day")
	}

	// 23:10 UTC is already March 3 in Berlin.
	c.now = time.Date(2026, 3, 2, 23, 10, 0, 0, time.UTC)
	r.Sweep()
	if target.rollovers != 1 {
		t.Fatalf("expected one rollover, got %d", target.rollovers)
	}

	c.now = c.now.Add(time.Hour)
	r.Sweep()
	if target.rollovers != 1 {
		t.Errorf("expected rollover once per day, got %d", target.rollovers)
	}
}

func TestReaperStart(t *testing.T) {
	target := &fakeTarget{}
	r := New(target, 20*time.Millisecond, time.Minute, zerolog.New(&bytes.Buffer{}))

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
		t.Fatal("reaper did not stop after context cancel")
	}

	if target.sweepCount() < 2 {
		t.Errorf("expected several sweeps, got %d", target.sweepCount())
	}
}

// A call created at T=0 with no terminal event is force-ended at T=31min.
func TestReaperClosesAbandonedCall(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := &clock{now: t0}
	logger := zerolog.New(&bytes.Buffer{})

	engine := ingestion.NewEngine(
		normalizer.New(normalizer.DefaultRules(), normalizer.WithClock(c.Now)),
		reconciler.New(logger, reconciler.WithClock(c.Now)),
		nil,
		logger,
	)
	engine.Apply(types.Event{Kind: types.KindInit, CallID: "lost", Direction: types.DirectionInbound, AgentID: "a1"})

	r := New(engine, time.Minute, 30*time.Minute, logger, WithClock(c.Now))

	c.now = t0.Add(29 * time.Minute)
	if got := r.Sweep(); got != 0 {
		t.Fatalf("expected nothing reaped before threshold, got %d", got)
	}

	c.now = t0.Add(31 * time.Minute)
	if got := r.Sweep(); got != 1 {
		t.Fatalf("expected call reaped, got %d", got)
	}

	snap := engine.Snapshot()
	if len(snap.LiveCalls) != 0 {
		t.Errorf("expected call removed, got %+v", snap.LiveCalls)
	}
	want := types.CounterSnapshot{
		Incoming:               types.IncomingCounters{Missed: 1},
		MissedDroppedAbandoned: 1,
	}
	if snap.Counters != want {
		t.Errorf("expected %+v, got %+v", want, snap.Counters)
	}
	if a1, _ := engine.Agent("a1"); a1.OnCallNow || a1.InboundMissed != 1 {
		t.Errorf("unexpected agent %+v", a1)
	}
}
