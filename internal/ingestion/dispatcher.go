package ingestion

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/dennisdiepolder/monti/wallboard/internal/normalizer"
	"github.com/rs/zerolog"
)

// DefaultQueueSize is used when NewDispatcher gets a non-positive size.
const DefaultQueueSize = 1024

// Dispatcher decouples the webhook acknowledgement from reconciliation.
// A single consumer goroutine drains the queue, so records are applied in
// the order they were accepted.
type Dispatcher struct {
	ingester Ingester
	queue    chan map[string]any
	logger   zerolog.Logger

	enqueued  atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher creates a dispatcher with a queue of the given size.
func NewDispatcher(ingester Ingester, size int, logger zerolog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		ingester: ingester,
		queue:    make(chan map[string]any, size),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Enqueue hands a record over without blocking. It returns false and drops
// the record when the queue is full.
func (d *Dispatcher) Enqueue(raw map[string]any) bool {
	select {
	case d.queue <- raw:
		d.enqueued.Add(1)
		metrics.Get().SetQueueDepth(len(d.queue))
		return true
	default:
		d.dropped.Add(1)
		metrics.Get().RecordEventDropped(metrics.DropQueueFull)
		d.logger.Warn().
			Int("capacity", cap(d.queue)).
			Msg("event queue full, dropping record")
		return false
	}
}

// Run consumes the queue until ctx is done, then applies whatever is
// still buffered before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().Int("capacity", cap(d.queue)).Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.drain()
			d.logger.Info().
				Int64("processed", d.processed.Load()).
				Int64("dropped", d.dropped.Load()).
				Msg("dispatcher stopped")
			return
		case raw := <-d.queue:
			d.process(raw)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case raw := <-d.queue:
			d.process(raw)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(raw map[string]any) {
	metrics.Get().SetQueueDepth(len(d.queue))
	_, err := d.ingester.Ingest(raw)
	d.processed.Add(1)
	if err != nil && !errors.Is(err, normalizer.ErrMissingCallID) && !errors.Is(err, normalizer.ErrEmptyRecord) {
		d.logger.Error().Err(err).Msg("failed to ingest record")
	}
}

// Stats reports queue counters.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Depth     int   `json:"depth"`
	Capacity  int   `json:"capacity"`
}

// Stats returns a point-in-time copy of the queue counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Processed: d.processed.Load(),
		Dropped:   d.dropped.Load(),
		Depth:     len(d.queue),
		Capacity:  cap(d.queue),
	}
}
