package followup

import (
	"context"
	"math/rand"
	"time"
)

// WithinBusinessHours reports whether now falls inside the [start, end)
// hour window in loc. Outbound nudges outside this window read as spam.
func WithinBusinessHours(now time.Time, loc *time.Location, start, end int) bool {
	h := now.In(loc).Hour()
	return h >= start && h < end
}

// Jitter picks a random duration in [min, max]. Sweeps firing at exact
// intervals look automated to both clients and the gateway.
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// waitJitter sleeps a random duration, aborting on context cancellation.
func waitJitter(ctx context.Context, min, max time.Duration) error {
	select {
	case <-time.After(Jitter(min, max)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
