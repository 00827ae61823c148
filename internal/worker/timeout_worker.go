package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Expirer submits sessions whose countdown has run out.
type Expirer interface {
	ExpireDue(ctx context.Context) int
}

// TimeoutWorker drives timeout submission for attempts that have no open
// stream pushing ticks.
type TimeoutWorker struct {
	sessions Expirer
	interval time.Duration
	log      zerolog.Logger
}

func NewTimeoutWorker(sessions Expirer, interval time.Duration, log zerolog.Logger) *TimeoutWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &TimeoutWorker{
		sessions: sessions,
		interval: interval,
		log:      log.With().Str("component", "timeout_worker").Logger(),
	}
}

// Start ticks until ctx is cancelled. A final sweep on shutdown grades
// anything that expired in between.
func (w *TimeoutWorker) Start(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("TimeoutWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.sessions.ExpireDue(context.Background())
			w.log.Info().Msg("TimeoutWorker stopped")
			return nil
		case <-ticker.C:
			w.sessions.ExpireDue(ctx)
		}
	}
}
