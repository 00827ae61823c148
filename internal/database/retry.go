package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// firstBackoff is the pause after the first failed attempt; it doubles up
// to maxBackoff.
var (
	firstBackoff = 500 * time.Millisecond
	maxBackoff   = 8 * time.Second
)

// retry runs connect until it succeeds, attempts run out or ctx ends.
// The last connect error is returned.
func retry(ctx context.Context, log zerolog.Logger, store string, attempts int, connect func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	wait := firstBackoff
	var err error
	for i := 1; i <= attempts; i++ {
		if err = connect(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}

		log.Warn().Err(err).
			Str("store", store).
			Int("attempt", i).
			Dur("retry_in", wait).
			Msg("Store not reachable yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}
	return err
}
