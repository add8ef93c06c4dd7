package broadcast

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Republisher re-sends the current state. ingestion.Engine implements it.
type Republisher interface {
	Republish()
}

// Refresher periodically re-broadcasts the snapshot so idle dashboards keep
// a fresh timestamp and late MQTT subscribers catch up.
type Refresher struct {
	source   Republisher
	interval time.Duration
	logger   zerolog.Logger
}

// NewRefresher creates a new Refresher
func NewRefresher(source Republisher, interval time.Duration, logger zerolog.Logger) *Refresher {
	return &Refresher{
		source:   source,
		interval: interval,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

// Start begins periodic re-broadcasts
func (r *Refresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("refresher started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("refresher stopped")
			return

		case <-ticker.C:
			r.source.Republish()
		}
	}
}
