package flow

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: min(cap, 2^(attempt-3)) seconds with
// multiplicative jitter in [0.5, 1.5). The 2^(attempt-3) shape keeps the
// first retries near-instant before ramping; jitter spreads reconnects
// across many agents.
type Backoff struct {
	Max         time.Duration
	MaxAttempts int
	logger      *slog.Logger
	attempts    int
}

func NewBackoff(max time.Duration, maxAttempts int, logger *slog.Logger) *Backoff {
	return &Backoff{Max: max, MaxAttempts: maxAttempts, logger: logger}
}

// Reset zeroes the attempt counter, called once a connection reaches ready.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of More calls since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// More records a failed attempt and blocks for the computed delay. When a
// maximum attempt count is configured and exceeded, the originating error is
// returned immediately instead. Cancelling ctx aborts the sleep.
func (b *Backoff) More(ctx context.Context, cause error) error {
	b.attempts++
	if b.MaxAttempts > 0 && b.attempts > b.MaxAttempts {
		b.logger.Error("giving up", "attempts", b.attempts, "err", cause)
		return cause
	}

	delay := b.Delay(b.attempts)
	b.logger.Warn("backing off", "attempt", b.attempts, "delay", delay, "err", cause)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay returns the jittered delay for the given attempt number.
func (b *Backoff) Delay(attempt int) time.Duration {
	secs := base(attempt)
	if d := time.Duration(secs * float64(time.Second)); d > b.Max {
		secs = b.Max.Seconds()
	}
	secs *= 0.5 + rand.Float64()
	return time.Duration(secs * float64(time.Second))
}

// base returns 2^(attempt-3) seconds, the pre-cap pre-jitter delay.
func base(attempt int) float64 {
	shift := attempt - 3
	if shift < 0 {
		// fractional powers for the first attempts: 1/4, 1/2, ...
		return 1.0 / float64(int64(1)<<uint(-shift))
	}
	return float64(int64(1) << uint(shift))
}
