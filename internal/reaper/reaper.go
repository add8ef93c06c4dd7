// Package reaper force-closes calls that never received a terminal event
// and optionally resets the day-scoped counters at local midnight.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Target is the state owner the reaper sweeps.
type Target interface {
	ReapStale(now time.Time, maxAge time.Duration) int
	Rollover()
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithDailyRollover resets counters when the date in loc changes.
func WithDailyRollover(loc *time.Location) Option {
	return func(r *Reaper) {
		if loc == nil {
			loc = time.Local
		}
		r.rolloverLoc = loc
	}
}

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// Reaper periodically sweeps stale calls out of the target
type Reaper struct {
	target   Target
	interval time.Duration
	maxAge   time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	rolloverLoc *time.Location
	day         string
}

// New creates a Reaper
func New(target Target, interval, maxAge time.Duration, logger zerolog.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		target:   target,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With().Str("component", "reaper").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rolloverLoc != nil {
		r.day = r.dayOf(r.now())
	}
	return r
}

// Start runs sweeps until ctx is done
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", r.interval).
		Dur("max_age", r.maxAge).
		Bool("daily_rollover", r.rolloverLoc != nil).
		Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reaper stopped")
			return

		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one pass and returns the number of reaped calls.
func (r *Reaper) Sweep() int {
	now := r.now()

	// Roll over first so calls reaped right after midnight count for the new day.
	if r.rolloverLoc != nil {
		if day := r.dayOf(now); day != r.day {
			r.logger.Info().
				Str("previous_day", r.day).
				Str("day", day).
				Msg("day boundary crossed")
			r.day = day
			r.target.Rollover()
		}
	}

	reaped := r.target.ReapStale(now, r.maxAge)
	if reaped > 0 {
		r.logger.Info().Int("reaped", reaped).Msg("sweep closed stale calls")
	} else {
		r.logger.Debug().Msg("sweep found no stale calls")
	}
	return reaped
}

func (r *Reaper) dayOf(t time.Time) string {
	return t.In(r.rolloverLoc).Format("2006-01-02")
}
